// Package repository defines the ledger store used by the admission engine.
// Backends live in the postgres and sqlite subpackages; both implement Store.
package repository

import (
	"context"
	"errors"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write lost a race with a concurrent
// transaction (serialization failure, deadlock or a unique key collision).
// The whole transaction may be retried.
var ErrConflict = errors.New("concurrent update conflict")

// EventFilter narrows ListEvents.
type EventFilter struct {
	OrganizerID  string
	ExcludeDraft bool
}

// Store is the durable keyed storage for events, teams, registrations,
// participants and organizers.
type Store interface {
	CreateOrganizer(ctx context.Context, o *model.Organizer) error
	GetOrganizer(ctx context.Context, id string) (*model.Organizer, error)

	CreateParticipant(ctx context.Context, p *model.Participant) error
	GetParticipant(ctx context.Context, id string) (*model.Participant, error)

	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]model.Event, error)

	GetTeam(ctx context.Context, id string) (*model.Team, error)

	GetRegistration(ctx context.Context, id string) (*model.Registration, error)
	GetRegistrationByTicket(ctx context.Context, eventID, ticketID string) (*model.Registration, error)
	FindRegistration(ctx context.Context, eventID, participantID string) (*model.Registration, error)
	ListRegistrationsByEvent(ctx context.Context, eventID string) ([]model.Registration, error)
	ListRegistrationsByParticipant(ctx context.Context, participantID string) ([]model.Registration, error)
	ListTeamRegistrations(ctx context.Context, teamID string) ([]model.Registration, error)
	CountRegistrationsByEvent(ctx context.Context, eventID string) (int, error)
	SetAttended(ctx context.Context, registrationID string, attended bool) error

	// WithinTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Tx) error) error

	Close() error
}

// Tx exposes the atomic primitives the admission engine composes.
type Tx interface {
	// LockEvent loads the event and holds it exclusively until the
	// transaction ends, serialising admissions for that event.
	LockEvent(ctx context.Context, id string) (*model.Event, error)
	// SaveEvent writes every event column except registered_count.
	SaveEvent(ctx context.Context, e *model.Event) error
	// ReplaceVariants rewrites the merchandise variants of an event.
	ReplaceVariants(ctx context.Context, eventID string, variants []model.Variant) error
	// IncrementRegisteredCount adds one admission if the limit allows it and
	// reports whether it did.
	IncrementRegisteredCount(ctx context.Context, eventID string) (bool, error)

	GetParticipant(ctx context.Context, id string) (*model.Participant, error)
	GetOrganizer(ctx context.Context, id string) (*model.Organizer, error)
	CountParticipantRegistrations(ctx context.Context, eventID, participantID string) (int, error)

	FindTeamByCode(ctx context.Context, eventID, code string) (*model.Team, error)
	TeamCodeExists(ctx context.Context, code string) (bool, error)
	CreateTeam(ctx context.Context, t *model.Team) error
	// IncrementTeamLength adds one member if the team has room. It returns the
	// updated team, or nil when the team was already full.
	IncrementTeamLength(ctx context.Context, teamID string) (*model.Team, error)

	// DecrementStock takes one unit of the variant if any is left. It returns
	// the remaining stock and whether a unit was taken, or ErrNotFound when
	// the event has no such variant.
	DecrementStock(ctx context.Context, eventID, size, color string) (int, bool, error)

	TicketExists(ctx context.Context, ticketID string) (bool, error)
	CreateRegistration(ctx context.Context, r *model.Registration) error
	// ConfirmTeam flips status to true on every registration of the team and
	// returns them.
	ConfirmTeam(ctx context.Context, teamID string) ([]model.Registration, error)
}
