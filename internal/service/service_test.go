package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/eventreg/internal/admission"
	"github.com/Shivanand-hulikatti/eventreg/internal/lifecycle"
	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository/repotest"
)

func clock() time.Time { return repotest.Now }

func newTestService(t *testing.T) (*EventService, repository.Store) {
	t.Helper()
	store := repotest.OpenSQLite(t)
	ctrl := admission.New(store, nil, admission.WithClock(clock))
	return NewEventService(store, ctrl, WithClock(clock)), store
}

func draftPayload() model.EventDraft {
	return model.EventDraft{
		Name:                 "  Hackathon  ",
		Description:          "24h build",
		EventType:            model.EventTypeNormal,
		Eligibility:          model.EligibilityAll,
		Tags:                 []string{"tech"},
		RegistrationFee:      repotest.FloatPtr(50),
		RegistrationLimit:    repotest.IntPtr(2),
		RegistrationDeadline: repotest.TimePtr(repotest.Now.Add(24 * time.Hour)),
		StartDate:            repotest.TimePtr(repotest.Now.Add(48 * time.Hour)),
		EndDate:              repotest.TimePtr(repotest.Now.Add(72 * time.Hour)),
		RegistrationForm:     []model.FormField{{Label: "College", Kind: model.FieldText}},
	}
}

func TestDraftPublishRegisterFlow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	org := repotest.Organizer(t, store)

	e, err := svc.CreateDraft(ctx, org.ID, draftPayload())
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, e.Status)
	assert.Equal(t, "Hackathon", e.Name)

	p := repotest.Participant(t, store, "campus")
	_, err = svc.Register(ctx, e.ID, p.ID, model.RegisterRequest{})
	assert.ErrorIs(t, err, admission.ErrEventNotOpen)

	e, err = svc.Publish(ctx, org.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPublished, e.Status)

	reg := register(t, svc, e.ID, p.ID)
	assert.NotEmpty(t, reg.TicketID)

	mine, err := svc.MyRegistrations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, reg.ID, mine[0].ID)

	stats, err := svc.Stats(ctx, org.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Registrations)
	assert.Equal(t, 50.0, stats.Revenue)
}

func TestCreateDraftUnknownOrganizer(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.CreateDraft(context.Background(), "ghost", draftPayload())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPublishReportsMissingForm(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	org := repotest.Organizer(t, store)

	d := draftPayload()
	d.RegistrationForm = nil
	e, err := svc.CreateDraft(ctx, org.ID, d)
	require.NoError(t, err)

	_, err = svc.Publish(ctx, org.ID, e.ID)
	var pe *lifecycle.PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, []string{"registration Form"}, pe.Missing)

	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, got.Status, "failed publish leaves the event untouched")
}

func TestTransitionsAndOwnership(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	org := repotest.Organizer(t, store)
	other := repotest.Organizer(t, store)
	e := repotest.CreateEvent(t, store, repotest.NormalEvent(org.ID, 5))

	_, err := svc.Start(ctx, other.ID, e.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.Publish(ctx, org.ID, e.ID)
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	got, err := svc.Start(ctx, org.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOngoing, got.Status)

	got, err = svc.Close(ctx, org.ID, e.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusClosed, got.Status)

	desc := "changed"
	_, err = svc.UpdateFields(ctx, org.ID, e.ID, model.EventUpdate{Description: &desc})
	assert.ErrorIs(t, err, lifecycle.ErrEventReadOnly)

	_, err = svc.Stats(ctx, other.ID, e.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = svc.ListRegistrations(ctx, other.ID, e.ID)
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestUpdateFieldsPublished(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	org := repotest.Organizer(t, store)
	e := repotest.CreateEvent(t, store, repotest.NormalEvent(org.ID, 5))

	got, err := svc.UpdateFields(ctx, org.ID, e.ID, model.EventUpdate{RegistrationLimit: repotest.IntPtr(8)})
	require.NoError(t, err)
	assert.Equal(t, 8, *got.RegistrationLimit)

	_, err = svc.UpdateFields(ctx, org.ID, e.ID, model.EventUpdate{Draft: &model.EventDraft{Name: "new"}})
	assert.ErrorIs(t, err, lifecycle.ErrFieldLocked)

	got, err = svc.UpdateFields(ctx, org.ID, e.ID, model.EventUpdate{CloseRegistration: true})
	require.NoError(t, err)
	assert.True(t, got.RegistrationDeadline.Equal(repotest.Now))

	stored, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, *stored.RegistrationLimit)
	assert.True(t, stored.RegistrationDeadline.Equal(repotest.Now))
}

func TestUpdateFieldsDraftReplacesVariants(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	org := repotest.Organizer(t, store)

	d := model.EventDraft{
		Name:      "Tee",
		EventType: model.EventTypeMerchandise,
		Merchandise: &model.Merchandise{Item: model.MerchandiseItem{
			Name:     "Tee",
			Variants: []model.Variant{{Size: "S", Color: "red", Stock: 3}},
		}},
	}
	e, err := svc.CreateDraft(ctx, org.ID, d)
	require.NoError(t, err)

	d.Merchandise.Item.Variants = []model.Variant{{Size: "M", Color: "blue", Stock: 9}, {Size: "L", Color: "blue", Stock: 4}}
	_, err = svc.UpdateFields(ctx, org.ID, e.ID, model.EventUpdate{Draft: &d})
	require.NoError(t, err)

	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Merchandise)
	assert.Equal(t, d.Merchandise.Item.Variants, got.Merchandise.Item.Variants)
}

func register(t *testing.T, svc *EventService, eventID, participantID string) *model.Registration {
	t.Helper()
	res, err := svc.Register(context.Background(), eventID, participantID, model.RegisterRequest{
		FormResponse: map[string]json.RawMessage{"College": json.RawMessage(`"IIT"`)},
	})
	require.NoError(t, err)
	return &res.Registration
}

func TestAttendance(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	org := repotest.Organizer(t, store)
	other := repotest.Organizer(t, store)
	e := repotest.CreateEvent(t, store, repotest.NormalEvent(org.ID, 5))
	reg := register(t, svc, e.ID, repotest.Participant(t, store, "campus").ID)

	got, err := svc.ToggleAttendance(ctx, org.ID, reg.ID, true)
	require.NoError(t, err)
	assert.True(t, got.Attended)

	_, err = svc.ToggleAttendance(ctx, other.ID, reg.ID, false)
	assert.ErrorIs(t, err, ErrNotOwner)

	got, err = svc.MarkTicketAttendance(ctx, org.ID, e.ID, strings.ToLower(reg.TicketID), false)
	require.NoError(t, err)
	assert.False(t, got.Attended)

	stored, err := svc.GetRegistration(ctx, org.ID, reg.ID)
	require.NoError(t, err)
	assert.False(t, stored.Attended)

	_, err = svc.MarkTicketAttendance(ctx, org.ID, e.ID, "FFFFFF", true)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestParticipantViews(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	org := repotest.Organizer(t, store)

	draft := repotest.NormalEvent(org.ID, 5)
	draft.Status = model.StatusDraft
	repotest.CreateEvent(t, store, draft)
	solo := repotest.CreateEvent(t, store, repotest.NormalEvent(org.ID, 5))
	teamEvent := repotest.NormalEvent(org.ID, 5)
	teamEvent.TeamEvent = true
	repotest.CreateEvent(t, store, teamEvent)

	events, err := svc.ListPublishedEvents(ctx)
	require.NoError(t, err)
	var ids []string
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{solo.ID, teamEvent.ID}, ids)

	own, err := svc.ListOrganizerEvents(ctx, org.ID)
	require.NoError(t, err)
	assert.Len(t, own, 3)

	_, err = svc.GetEventView(ctx, draft.ID, "anyone")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	leader := repotest.Participant(t, store, "campus")
	view, err := svc.GetEventView(ctx, teamEvent.ID, leader.ID)
	require.NoError(t, err)
	assert.Nil(t, view.TeamInfo)

	res, err := svc.Register(ctx, teamEvent.ID, leader.ID, model.RegisterRequest{
		CreateTeam:   &model.CreateTeamRequest{Name: "Owls", Capacity: 3},
		FormResponse: map[string]json.RawMessage{"College": json.RawMessage(`"IIT"`)},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Team)

	view, err = svc.GetEventView(ctx, teamEvent.ID, leader.ID)
	require.NoError(t, err)
	require.NotNil(t, view.TeamInfo)
	assert.Equal(t, "Owls", view.TeamInfo.Name)
	assert.Equal(t, res.Team.Code, view.TeamInfo.Code)
	assert.False(t, view.TeamInfo.Complete)
	assert.Equal(t, []string{leader.FullName()}, view.TeamInfo.Members)
}

func TestRegisterRequiresIDs(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(context.Background(), "", "p", model.RegisterRequest{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
