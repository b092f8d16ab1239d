package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func publishable() *model.Event {
	return &model.Event{
		ID:                   "evt-1",
		OrganizerID:          "org-1",
		Name:                 "Hackathon",
		Description:          "24h build",
		EventType:            model.EventTypeNormal,
		Eligibility:          model.EligibilityAll,
		Tags:                 []string{"tech"},
		Status:               model.StatusDraft,
		RegistrationFee:      ptr(0.0),
		RegistrationLimit:    ptr(50),
		RegistrationDeadline: ptr(now.Add(24 * time.Hour)),
		StartDate:            ptr(now.Add(48 * time.Hour)),
		EndDate:              ptr(now.Add(72 * time.Hour)),
		RegistrationForm:     []model.FormField{{Label: "College", Kind: model.FieldText, Required: true}},
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		from    model.Status
		action  Action
		want    model.Status
		wantErr bool
	}{
		{model.StatusDraft, ActionPublish, model.StatusPublished, false},
		{model.StatusPublished, ActionStart, model.StatusOngoing, false},
		{model.StatusPublished, ActionClose, model.StatusClosed, false},
		{model.StatusOngoing, ActionClose, model.StatusClosed, false},
		{model.StatusDraft, ActionStart, model.StatusDraft, true},
		{model.StatusDraft, ActionClose, model.StatusDraft, true},
		{model.StatusPublished, ActionPublish, model.StatusPublished, true},
		{model.StatusOngoing, ActionStart, model.StatusOngoing, true},
		{model.StatusClosed, ActionPublish, model.StatusClosed, true},
		{model.StatusClosed, ActionClose, model.StatusClosed, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			got, err := Next(tt.from, tt.action)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyPublish(t *testing.T) {
	e := publishable()
	require.NoError(t, Apply(e, ActionPublish))
	assert.Equal(t, model.StatusPublished, e.Status)
	assert.True(t, AcceptsRegistrations(e.Status))
}

func TestPublishEmptyFormReportsRegistrationForm(t *testing.T) {
	e := publishable()
	e.RegistrationForm = nil

	err := Apply(e, ActionPublish)
	var pubErr *PublishError
	require.ErrorAs(t, err, &pubErr)
	assert.Equal(t, []string{"registration Form"}, pubErr.Missing)
	assert.ErrorIs(t, err, ErrPublishValidation)
	assert.Equal(t, model.StatusDraft, e.Status, "no mutation on failure")
}

func TestPublishTeamEventWithoutForm(t *testing.T) {
	e := publishable()
	e.TeamEvent = true
	e.RegistrationForm = nil
	assert.NoError(t, CheckPublishable(e))
}

func TestPublishReportsEveryMissingCoreField(t *testing.T) {
	e := &model.Event{Status: model.StatusDraft, EventType: model.EventTypeNormal}
	var pubErr *PublishError
	require.ErrorAs(t, CheckPublishable(e), &pubErr)
	assert.Equal(t, []string{
		"name", "description", "eligibility", "registrationDeadline", "startDate",
		"endDate", "registrationLimit", "registrationFee", "tags", "registration Form",
	}, pubErr.Missing)
}

func TestPublishMerchandise(t *testing.T) {
	e := publishable()
	e.EventType = model.EventTypeMerchandise
	e.RegistrationForm = nil

	var pubErr *PublishError
	require.ErrorAs(t, CheckPublishable(e), &pubErr)
	assert.Equal(t, []string{"merchandise form"}, pubErr.Missing)

	e.Merchandise = &model.Merchandise{Item: model.MerchandiseItem{
		Name:     "Hoodie",
		Variants: []model.Variant{{Size: "M", Color: "black", Stock: 10}},
	}}
	assert.NoError(t, CheckPublishable(e))

	e.TeamEvent = true
	assert.ErrorIs(t, CheckPublishable(e), ErrTeamMerchandise)
}

func TestPublishRejectsInvertedSchedule(t *testing.T) {
	e := publishable()
	e.EndDate = ptr(e.StartDate.Add(-time.Hour))
	assert.ErrorIs(t, CheckPublishable(e), ErrInvalidSchedule)
}

func TestNewDraftDropsForeignPayload(t *testing.T) {
	d := model.EventDraft{
		Name:             "Tee sale",
		EventType:        model.EventTypeMerchandise,
		RegistrationForm: []model.FormField{{Label: "x", Kind: model.FieldText}},
		Merchandise: &model.Merchandise{Item: model.MerchandiseItem{
			Name: "Tee", Variants: []model.Variant{{Size: "S", Color: "red", Stock: 1}},
		}},
	}
	e, err := NewDraft("evt-1", "org-1", d, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, e.Status)
	assert.Nil(t, e.RegistrationForm)
	require.NotNil(t, e.Merchandise)
	assert.Equal(t, []string{}, e.Tags)

	d.EventType = model.EventTypeNormal
	e, err = NewDraft("evt-2", "org-1", d, now)
	require.NoError(t, err)
	assert.Nil(t, e.Merchandise)
	assert.Len(t, e.RegistrationForm, 1)
}

func TestNewDraftValidation(t *testing.T) {
	_, err := NewDraft("e", "o", model.EventDraft{EventType: model.EventTypeMerchandise, TeamEvent: true}, now)
	assert.ErrorIs(t, err, ErrTeamMerchandise)

	_, err = NewDraft("e", "o", model.EventDraft{EventType: "concert"}, now)
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = NewDraft("e", "o", model.EventDraft{
		EventType:        model.EventTypeNormal,
		RegistrationForm: []model.FormField{{Label: "x", Kind: "slider"}},
	}, now)
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestDraftRejectsRepeatedVariant(t *testing.T) {
	d := model.EventDraft{
		EventType: model.EventTypeMerchandise,
		Merchandise: &model.Merchandise{Item: model.MerchandiseItem{
			Name: "Tee",
			Variants: []model.Variant{
				{Size: "M", Color: "red", Stock: 1},
				{Size: "L", Color: "red", Stock: 2},
				{Size: "M", Color: "red", Stock: 3},
			},
		}},
	}
	_, err := NewDraft("e", "o", d, now)
	require.ErrorIs(t, err, ErrInvalidUpdate)
	assert.Contains(t, err.Error(), "M/red")

	e := publishable()
	before := *e
	_, err = ApplyUpdate(e, model.EventUpdate{Draft: &d}, now)
	require.ErrorIs(t, err, ErrInvalidUpdate)
	assert.Equal(t, before.EventType, e.EventType)
	assert.Nil(t, e.Merchandise)

	d.Merchandise.Item.Variants[2].Color = "blue"
	e, err = NewDraft("e", "o", d, now)
	require.NoError(t, err)
	assert.Len(t, e.Merchandise.Item.Variants, 3)
}

func TestApplyUpdateDraft(t *testing.T) {
	e := publishable()
	d := model.EventDraft{Name: "Renamed", EventType: model.EventTypeNormal, TeamEvent: true}
	replaced, err := ApplyUpdate(e, model.EventUpdate{Draft: &d}, now)
	require.NoError(t, err)
	assert.True(t, replaced)
	assert.Equal(t, "Renamed", e.Name)
	assert.True(t, e.TeamEvent)

	_, err = ApplyUpdate(e, model.EventUpdate{CloseRegistration: true}, now)
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestApplyUpdatePublished(t *testing.T) {
	for _, status := range []model.Status{model.StatusPublished, model.StatusOngoing} {
		t.Run(string(status), func(t *testing.T) {
			e := publishable()
			e.Status = status

			_, err := ApplyUpdate(e, model.EventUpdate{Draft: &model.EventDraft{Name: "x"}}, now)
			assert.ErrorIs(t, err, ErrFieldLocked)

			_, err = ApplyUpdate(e, model.EventUpdate{Description: ptr("  ")}, now)
			assert.ErrorIs(t, err, ErrInvalidUpdate)

			_, err = ApplyUpdate(e, model.EventUpdate{RegistrationLimit: ptr(50)}, now)
			assert.ErrorIs(t, err, ErrInvalidUpdate, "limit may only grow")

			_, err = ApplyUpdate(e, model.EventUpdate{RegistrationDeadline: ptr(now)}, now)
			assert.ErrorIs(t, err, ErrInvalidUpdate, "deadline may only move later")
			assert.Equal(t, 50, *e.RegistrationLimit, "failed updates leave the event untouched")

			later := e.RegistrationDeadline.Add(time.Hour)
			_, err = ApplyUpdate(e, model.EventUpdate{
				Description:          ptr("new text"),
				RegistrationLimit:    ptr(80),
				RegistrationDeadline: &later,
			}, now)
			require.NoError(t, err)
			assert.Equal(t, "new text", e.Description)
			assert.Equal(t, 80, *e.RegistrationLimit)
			assert.True(t, e.RegistrationDeadline.Equal(later))

			_, err = ApplyUpdate(e, model.EventUpdate{CloseRegistration: true}, now)
			require.NoError(t, err)
			assert.True(t, e.RegistrationDeadline.Equal(now))
			assert.True(t, e.DeadlinePassed(now.Add(time.Second)))
		})
	}
}

func TestApplyUpdateClosed(t *testing.T) {
	e := publishable()
	e.Status = model.StatusClosed
	_, err := ApplyUpdate(e, model.EventUpdate{Description: ptr("x")}, now)
	assert.True(t, errors.Is(err, ErrEventReadOnly))
}
