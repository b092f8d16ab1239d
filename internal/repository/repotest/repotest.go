// Package repotest holds the contract suite every ledger backend must pass,
// plus fixture helpers shared by tests of the packages built on the store.
package repotest

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository/sqlite"
)

// OpenSQLite opens a migrated SQLite store in a temp dir, closed on cleanup.
func OpenSQLite(t testing.TB) repository.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "eventreg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// Now is a fixed, millisecond-truncated clock value shared by fixtures.
var Now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Organizer inserts an organizer.
func Organizer(t testing.TB, store repository.Store) *model.Organizer {
	t.Helper()
	o := &model.Organizer{
		ID:        uuid.NewString(),
		Name:      "Robotics Club",
		Email:     "robotics@example.com",
		Category:  "club",
		CreatedAt: Now,
	}
	require.NoError(t, store.CreateOrganizer(context.Background(), o))
	return o
}

// Participant inserts a participant of the given category.
func Participant(t testing.TB, store repository.Store, category string) *model.Participant {
	t.Helper()
	p := &model.Participant{
		ID:        uuid.NewString(),
		FirstName: "Asha",
		LastName:  "Rao",
		Email:     "asha-" + uuid.NewString()[:8] + "@example.com",
		Category:  category,
		CreatedAt: Now,
	}
	require.NoError(t, store.CreateParticipant(context.Background(), p))
	return p
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// FloatPtr returns a pointer to v.
func FloatPtr(v float64) *float64 { return &v }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }

// NormalEvent returns a publishable normal event owned by organizerID.
// It is not inserted.
func NormalEvent(organizerID string, limit int) *model.Event {
	return &model.Event{
		ID:                   uuid.NewString(),
		OrganizerID:          organizerID,
		Name:                 "Hackathon",
		Description:          "24h build",
		EventType:            model.EventTypeNormal,
		Eligibility:          model.EligibilityAll,
		Tags:                 []string{"tech"},
		Status:               model.StatusPublished,
		RegistrationFee:      FloatPtr(100),
		RegistrationLimit:    IntPtr(limit),
		RegistrationDeadline: TimePtr(Now.Add(72 * time.Hour)),
		StartDate:            TimePtr(Now.Add(96 * time.Hour)),
		EndDate:              TimePtr(Now.Add(120 * time.Hour)),
		RegistrationForm: []model.FormField{
			{Label: "College", Kind: model.FieldText, Required: true},
		},
		CreatedAt: Now,
	}
}

// MerchEvent returns a publishable merchandise event with the given variants.
// It is not inserted.
func MerchEvent(organizerID string, limit int, variants ...model.Variant) *model.Event {
	e := NormalEvent(organizerID, limit)
	e.Name = "Club Hoodie"
	e.EventType = model.EventTypeMerchandise
	e.RegistrationForm = nil
	e.Merchandise = &model.Merchandise{
		Item: model.MerchandiseItem{Name: "Hoodie", Variants: variants},
	}
	return e
}

// CreateEvent inserts e.
func CreateEvent(t testing.TB, store repository.Store, e *model.Event) *model.Event {
	t.Helper()
	require.NoError(t, store.CreateEvent(context.Background(), e))
	return e
}

// Run executes the contract suite against the store returned by open.
// open is called once per subtest and must return an empty, migrated store.
func Run(t *testing.T, open func(t *testing.T) repository.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store repository.Store)
	}{
		{"OrganizerAndParticipant", testOrganizerAndParticipant},
		{"EventRoundTrip", testEventRoundTrip},
		{"ListEvents", testListEvents},
		{"SaveEventKeepsCount", testSaveEventKeepsCount},
		{"IncrementRegisteredCount", testIncrementRegisteredCount},
		{"ConcurrentIncrement", testConcurrentIncrement},
		{"TeamLength", testTeamLength},
		{"DecrementStock", testDecrementStock},
		{"Registrations", testRegistrations},
		{"ConfirmTeam", testConfirmTeam},
		{"RollbackOnError", testRollbackOnError},
		{"NotFound", testNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func testOrganizerAndParticipant(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o := Organizer(t, store)
	p := Participant(t, store, "campus")

	gotO, err := store.GetOrganizer(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Name, gotO.Name)
	assert.True(t, o.CreatedAt.Equal(gotO.CreatedAt))

	gotP, err := store.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha Rao", gotP.FullName())
	assert.Equal(t, "campus", gotP.Category)
	assert.Empty(t, gotP.Registered)
}

func testEventRoundTrip(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o := Organizer(t, store)
	e := MerchEvent(o.ID, 10,
		model.Variant{Size: "M", Color: "black", Stock: 3},
		model.Variant{Size: "L", Color: "white", Stock: 0},
	)
	e.Merchandise.PurchaseLimitPerParticipant = IntPtr(2)
	CreateEvent(t, store, e)

	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Name, got.Name)
	assert.Equal(t, model.EventTypeMerchandise, got.EventType)
	assert.Equal(t, []string{"tech"}, got.Tags)
	require.NotNil(t, got.RegistrationFee)
	assert.InDelta(t, 100, *got.RegistrationFee, 0.001)
	require.NotNil(t, got.RegistrationLimit)
	assert.Equal(t, 10, *got.RegistrationLimit)
	require.NotNil(t, got.RegistrationDeadline)
	assert.True(t, e.RegistrationDeadline.Equal(*got.RegistrationDeadline))
	require.NotNil(t, got.Merchandise)
	assert.Equal(t, "Hoodie", got.Merchandise.Item.Name)
	assert.Equal(t, e.Merchandise.Item.Variants, got.Merchandise.Item.Variants)
	assert.Equal(t, 2, got.PurchaseLimit())

	n := NormalEvent(o.ID, 5)
	n.RegistrationLimit = nil
	n.RegistrationFee = nil
	CreateEvent(t, store, n)
	got, err = store.GetEvent(ctx, n.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RegistrationLimit)
	assert.Nil(t, got.RegistrationFee)
	assert.Nil(t, got.Merchandise)
	assert.Equal(t, n.RegistrationForm, got.RegistrationForm)
}

func testListEvents(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o1 := Organizer(t, store)
	o2 := Organizer(t, store)

	draft := NormalEvent(o1.ID, 5)
	draft.Status = model.StatusDraft
	CreateEvent(t, store, draft)
	published := NormalEvent(o1.ID, 5)
	published.CreatedAt = Now.Add(time.Minute)
	CreateEvent(t, store, published)
	other := NormalEvent(o2.ID, 5)
	CreateEvent(t, store, other)

	own, err := store.ListEvents(ctx, repository.EventFilter{OrganizerID: o1.ID})
	require.NoError(t, err)
	require.Len(t, own, 2)
	assert.Equal(t, published.ID, own[0].ID, "newest first")

	visible, err := store.ListEvents(ctx, repository.EventFilter{ExcludeDraft: true})
	require.NoError(t, err)
	ids := make([]string, 0, len(visible))
	for _, e := range visible {
		ids = append(ids, e.ID)
	}
	assert.ElementsMatch(t, []string{published.ID, other.ID}, ids)
}

func testSaveEventKeepsCount(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o := Organizer(t, store)
	e := CreateEvent(t, store, NormalEvent(o.ID, 5))

	err := store.WithinTx(ctx, func(tx repository.Tx) error {
		ok, err := tx.IncrementRegisteredCount(ctx, e.ID)
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockEvent(ctx, e.ID)
		if err != nil {
			return err
		}
		locked.Description = "updated"
		locked.RegisteredCount = 0
		return tx.SaveEvent(ctx, locked)
	})
	require.NoError(t, err)

	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Description)
	assert.Equal(t, 1, got.RegisteredCount)
}

func testIncrementRegisteredCount(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o := Organizer(t, store)
	e := CreateEvent(t, store, NormalEvent(o.ID, 2))

	var results []bool
	for range 3 {
		err := store.WithinTx(ctx, func(tx repository.Tx) error {
			ok, err := tx.IncrementRegisteredCount(ctx, e.ID)
			results = append(results, ok)
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []bool{true, true, false}, results)

	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RegisteredCount)

	unlimited := NormalEvent(o.ID, 1)
	unlimited.RegistrationLimit = nil
	CreateEvent(t, store, unlimited)
	err = store.WithinTx(ctx, func(tx repository.Tx) error {
		for range 3 {
			ok, err := tx.IncrementRegisteredCount(ctx, unlimited.ID)
			require.NoError(t, err)
			require.True(t, ok)
		}
		return nil
	})
	require.NoError(t, err)
}

func testConcurrentIncrement(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o := Organizer(t, store)
	e := CreateEvent(t, store, NormalEvent(o.ID, 5))

	const workers = 20
	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.WithinTx(ctx, func(tx repository.Tx) error {
				if _, err := tx.LockEvent(ctx, e.ID); err != nil {
					return err
				}
				ok, err := tx.IncrementRegisteredCount(ctx, e.ID)
				if ok {
					admitted.Add(1)
				}
				return err
			})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 5, admitted.Load())
	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.RegisteredCount)
}

func testTeamLength(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o := Organizer(t, store)
	leader := Participant(t, store, "campus")
	e := NormalEvent(o.ID, 10)
	e.TeamEvent = true
	CreateEvent(t, store, e)

	team := &model.Team{
		ID:            uuid.NewString(),
		EventID:       e.ID,
		Name:          "Rockets",
		Capacity:      2,
		CurrentLength: 1,
		Code:          "A1B2C3",
		LeaderID:      leader.ID,
		CreatedAt:     Now,
	}
	err := store.WithinTx(ctx, func(tx repository.Tx) error {
		exists, err := tx.TeamCodeExists(ctx, team.Code)
		require.NoError(t, err)
		require.False(t, exists)
		return tx.CreateTeam(ctx, team)
	})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(tx repository.Tx) error {
		found, err := tx.FindTeamByCode(ctx, e.ID, "A1B2C3")
		require.NoError(t, err)
		assert.Equal(t, team.ID, found.ID)

		_, err = tx.FindTeamByCode(ctx, uuid.NewString(), "A1B2C3")
		assert.ErrorIs(t, err, repository.ErrNotFound)

		updated, err := tx.IncrementTeamLength(ctx, team.ID)
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, 2, updated.CurrentLength)
		assert.True(t, updated.Complete())

		full, err := tx.IncrementTeamLength(ctx, team.ID)
		require.NoError(t, err)
		assert.Nil(t, full)

		exists, err := tx.TeamCodeExists(ctx, team.Code)
		require.NoError(t, err)
		assert.True(t, exists)
		return nil
	})
	require.NoError(t, err)

	got, err := store.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentLength)
}

func testDecrementStock(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o := Organizer(t, store)
	e := CreateEvent(t, store, MerchEvent(o.ID, 10, model.Variant{Size: "M", Color: "black", Stock: 1}))

	err := store.WithinTx(ctx, func(tx repository.Tx) error {
		remaining, ok, err := tx.DecrementStock(ctx, e.ID, "M", "black")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0, remaining)

		_, ok, err = tx.DecrementStock(ctx, e.ID, "M", "black")
		require.NoError(t, err)
		assert.False(t, ok)

		_, _, err = tx.DecrementStock(ctx, e.ID, "XL", "black")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		return nil
	})
	require.NoError(t, err)

	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Merchandise.Item.Variants[0].Stock)
}

func testRegistrations(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o := Organizer(t, store)
	p := Participant(t, store, "campus")
	e := CreateEvent(t, store, MerchEvent(o.ID, 10, model.Variant{Size: "M", Color: "black", Stock: 4}))

	first := &model.Registration{
		ID:            uuid.NewString(),
		EventID:       e.ID,
		ParticipantID: p.ID,
		EventType:     model.EventTypeMerchandise,
		TicketID:      "ABC123",
		Status:        true,
		FormResponse: model.FormResponse{
			"College": {Kind: model.FieldText, Text: "IIT"},
		},
		Merchandise: &model.MerchandiseSnapshot{Name: "Hoodie", Size: "M", Color: "black", RemainingStock: 3},
		CreatedAt:   Now,
	}
	second := &model.Registration{
		ID:            uuid.NewString(),
		EventID:       e.ID,
		ParticipantID: p.ID,
		EventType:     model.EventTypeMerchandise,
		TicketID:      "DEF456",
		Status:        true,
		CreatedAt:     Now.Add(time.Second),
	}
	err := store.WithinTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.CreateRegistration(ctx, first))
		require.NoError(t, tx.CreateRegistration(ctx, second))
		n, err := tx.CountParticipantRegistrations(ctx, e.ID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		exists, err := tx.TicketExists(ctx, "ABC123")
		require.NoError(t, err)
		assert.True(t, exists)
		return nil
	})
	require.NoError(t, err)

	got, err := store.GetRegistration(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.FormResponse, got.FormResponse)
	assert.Equal(t, first.Merchandise, got.Merchandise)
	assert.Empty(t, got.TeamID)

	byTicket, err := store.GetRegistrationByTicket(ctx, e.ID, "DEF456")
	require.NoError(t, err)
	assert.Equal(t, second.ID, byTicket.ID)
	assert.Nil(t, byTicket.Merchandise)

	found, err := store.FindRegistration(ctx, e.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)

	participant, err := store.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, participant.Registered)

	byEvent, err := store.ListRegistrationsByEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, byEvent, 2)
	byParticipant, err := store.ListRegistrationsByParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, byParticipant, 2)
	count, err := store.CountRegistrationsByEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, store.SetAttended(ctx, first.ID, true))
	got, err = store.GetRegistration(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.Attended)

	dup := *second
	dup.ID = uuid.NewString()
	err = store.WithinTx(ctx, func(tx repository.Tx) error {
		return tx.CreateRegistration(ctx, &dup)
	})
	assert.ErrorIs(t, err, repository.ErrConflict, "ticket ids are unique")
}

func testConfirmTeam(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o := Organizer(t, store)
	leader := Participant(t, store, "campus")
	member := Participant(t, store, "campus")
	e := NormalEvent(o.ID, 10)
	e.TeamEvent = true
	CreateEvent(t, store, e)

	team := &model.Team{
		ID: uuid.NewString(), EventID: e.ID, Name: "Owls", Capacity: 2, CurrentLength: 1,
		Code: "FFEE01", LeaderID: leader.ID, CreatedAt: Now,
	}
	var confirmed []model.Registration
	err := store.WithinTx(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.CreateTeam(ctx, team))
		for i, p := range []*model.Participant{leader, member} {
			require.NoError(t, tx.CreateRegistration(ctx, &model.Registration{
				ID:            uuid.NewString(),
				EventID:       e.ID,
				ParticipantID: p.ID,
				TeamID:        team.ID,
				EventType:     model.EventTypeNormal,
				TicketID:      []string{"000001", "000002"}[i],
				CreatedAt:     Now.Add(time.Duration(i) * time.Second),
			}))
		}
		var err error
		confirmed, err = tx.ConfirmTeam(ctx, team.ID)
		return err
	})
	require.NoError(t, err)
	require.Len(t, confirmed, 2)
	for _, r := range confirmed {
		assert.True(t, r.Status)
		assert.Equal(t, team.ID, r.TeamID)
	}

	regs, err := store.ListTeamRegistrations(ctx, team.ID)
	require.NoError(t, err)
	assert.Len(t, regs, 2)
}

func testRollbackOnError(t *testing.T, store repository.Store) {
	ctx := context.Background()
	o := Organizer(t, store)
	e := CreateEvent(t, store, MerchEvent(o.ID, 10, model.Variant{Size: "S", Color: "red", Stock: 2}))

	err := store.WithinTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.IncrementRegisteredCount(ctx, e.ID); err != nil {
			return err
		}
		if _, _, err := tx.DecrementStock(ctx, e.ID, "S", "red"); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := store.GetEvent(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.RegisteredCount)
	assert.Equal(t, 2, got.Merchandise.Item.Variants[0].Stock)
}

func testNotFound(t *testing.T, store repository.Store) {
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := store.GetEvent(ctx, missing)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetOrganizer(ctx, missing)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetParticipant(ctx, missing)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetTeam(ctx, missing)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = store.GetRegistration(ctx, missing)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, store.SetAttended(ctx, missing, true), repository.ErrNotFound)

	err = store.WithinTx(ctx, func(tx repository.Tx) error {
		_, err := tx.LockEvent(ctx, missing)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
