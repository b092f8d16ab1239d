// Package service implements the organizer and participant facing operations
// and orchestrates the lifecycle rules, the admission controller and the
// ledger store.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/eventreg/internal/admission"
	"github.com/Shivanand-hulikatti/eventreg/internal/lifecycle"
	"github.com/Shivanand-hulikatti/eventreg/internal/metrics"
	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/telemetry"
)

var (
	// ErrNotOwner is returned when an organizer acts on another organizer's event.
	ErrNotOwner = errors.New("event belongs to another organizer")
	// ErrInvalidInput covers malformed identifiers and payloads.
	ErrInvalidInput = errors.New("invalid input")
)

// EventService orchestrates event-related business operations.
type EventService struct {
	store     repository.Store
	admission *admission.Controller
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// Option configures an EventService.
type Option func(*EventService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *EventService) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *EventService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records lifecycle transitions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *EventService) { s.metrics = m }
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(store repository.Store, ctrl *admission.Controller, opts ...Option) *EventService {
	s := &EventService{
		store:     store,
		admission: ctrl,
		now:       time.Now,
		logger:    slog.Default(),
		tracer:    telemetry.Tracer("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ─── Organizer operations ────────────────────────────────────────────────────

// CreateDraft stores a new Draft event owned by organizerID.
func (s *EventService) CreateDraft(ctx context.Context, organizerID string, d model.EventDraft) (*model.Event, error) {
	if _, err := s.store.GetOrganizer(ctx, organizerID); err != nil {
		return nil, fmt.Errorf("organizer: %w", err)
	}
	d.Name = strings.TrimSpace(d.Name)
	e, err := lifecycle.NewDraft(uuid.NewString(), organizerID, d, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}
	s.logger.Info("draft created", "event_id", e.ID, "organizer_id", organizerID)
	return e, nil
}

// UpdateFields applies a status-gated partial update to an event.
func (s *EventService) UpdateFields(ctx context.Context, organizerID, eventID string, u model.EventUpdate) (*model.Event, error) {
	var updated *model.Event
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		e, err := s.lockOwned(ctx, tx, organizerID, eventID)
		if err != nil {
			return err
		}
		replaced, err := lifecycle.ApplyUpdate(e, u, s.now().UTC())
		if err != nil {
			return err
		}
		if err := tx.SaveEvent(ctx, e); err != nil {
			return err
		}
		if replaced {
			var variants []model.Variant
			if e.Merchandise != nil {
				variants = e.Merchandise.Item.Variants
			}
			if err := tx.ReplaceVariants(ctx, e.ID, variants); err != nil {
				return err
			}
		}
		updated = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Publish moves a Draft event to Published once every required field is set.
func (s *EventService) Publish(ctx context.Context, organizerID, eventID string) (*model.Event, error) {
	return s.transition(ctx, organizerID, eventID, lifecycle.ActionPublish)
}

// Start moves a Published event to Ongoing.
func (s *EventService) Start(ctx context.Context, organizerID, eventID string) (*model.Event, error) {
	return s.transition(ctx, organizerID, eventID, lifecycle.ActionStart)
}

// Close moves a Published or Ongoing event to Closed.
func (s *EventService) Close(ctx context.Context, organizerID, eventID string) (*model.Event, error) {
	return s.transition(ctx, organizerID, eventID, lifecycle.ActionClose)
}

func (s *EventService) transition(ctx context.Context, organizerID, eventID string, a lifecycle.Action) (*model.Event, error) {
	ctx, span := s.tracer.Start(ctx, "service.transition", trace.WithAttributes(
		attribute.String("event.id", eventID),
		attribute.String("action", string(a)),
	))
	defer span.End()

	var updated *model.Event
	err := s.store.WithinTx(ctx, func(tx repository.Tx) error {
		e, err := s.lockOwned(ctx, tx, organizerID, eventID)
		if err != nil {
			return err
		}
		if err := lifecycle.Apply(e, a); err != nil {
			return err
		}
		if err := tx.SaveEvent(ctx, e); err != nil {
			return err
		}
		updated = e
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.metrics.Transitioned(string(a))
	s.logger.Info("event transitioned", "event_id", eventID, "action", a, "status", updated.Status)
	return updated, nil
}

// lockOwned locks the event and checks that organizerID owns it.
func (s *EventService) lockOwned(ctx context.Context, tx repository.Tx, organizerID, eventID string) (*model.Event, error) {
	e, err := tx.LockEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.OrganizerID != organizerID {
		return nil, ErrNotOwner
	}
	return e, nil
}

// ownedEvent reads the event without locking and checks ownership.
func (s *EventService) ownedEvent(ctx context.Context, organizerID, eventID string) (*model.Event, error) {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.OrganizerID != organizerID {
		return nil, ErrNotOwner
	}
	return e, nil
}

// ListOrganizerEvents returns every event of organizerID, drafts included.
func (s *EventService) ListOrganizerEvents(ctx context.Context, organizerID string) ([]model.Event, error) {
	return s.store.ListEvents(ctx, repository.EventFilter{OrganizerID: organizerID})
}

// Stats reports the registration count and the informational revenue of an event.
func (s *EventService) Stats(ctx context.Context, organizerID, eventID string) (*model.EventStats, error) {
	e, err := s.ownedEvent(ctx, organizerID, eventID)
	if err != nil {
		return nil, err
	}
	n, err := s.store.CountRegistrationsByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count registrations: %w", err)
	}
	stats := &model.EventStats{Event: *e, Registrations: n}
	if e.RegistrationFee != nil {
		stats.Revenue = *e.RegistrationFee * float64(n)
	}
	return stats, nil
}

// ListRegistrations returns all registrations for an event.
func (s *EventService) ListRegistrations(ctx context.Context, organizerID, eventID string) ([]model.Registration, error) {
	if _, err := s.ownedEvent(ctx, organizerID, eventID); err != nil {
		return nil, err
	}
	return s.store.ListRegistrationsByEvent(ctx, eventID)
}

// GetRegistration returns one registration of an event owned by organizerID.
func (s *EventService) GetRegistration(ctx context.Context, organizerID, registrationID string) (*model.Registration, error) {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ownedEvent(ctx, organizerID, reg.EventID); err != nil {
		return nil, err
	}
	return reg, nil
}

// ToggleAttendance sets the attended flag of a registration.
func (s *EventService) ToggleAttendance(ctx context.Context, organizerID, registrationID string, attended bool) (*model.Registration, error) {
	reg, err := s.GetRegistration(ctx, organizerID, registrationID)
	if err != nil {
		return nil, err
	}
	return s.setAttended(ctx, reg, attended)
}

// MarkTicketAttendance sets the attended flag of the registration holding
// ticketID, as scanned at the venue.
func (s *EventService) MarkTicketAttendance(ctx context.Context, organizerID, eventID, ticketID string, attended bool) (*model.Registration, error) {
	if _, err := s.ownedEvent(ctx, organizerID, eventID); err != nil {
		return nil, err
	}
	reg, err := s.store.GetRegistrationByTicket(ctx, eventID, strings.ToUpper(strings.TrimSpace(ticketID)))
	if err != nil {
		return nil, err
	}
	return s.setAttended(ctx, reg, attended)
}

func (s *EventService) setAttended(ctx context.Context, reg *model.Registration, attended bool) (*model.Registration, error) {
	if err := s.store.SetAttended(ctx, reg.ID, attended); err != nil {
		return nil, fmt.Errorf("set attendance: %w", err)
	}
	reg.Attended = attended
	s.logger.Info("attendance updated", "registration_id", reg.ID, "attended", attended)
	return reg, nil
}

// ─── Participant operations ──────────────────────────────────────────────────

// ListPublishedEvents returns every event that left Draft.
func (s *EventService) ListPublishedEvents(ctx context.Context) ([]model.Event, error) {
	return s.store.ListEvents(ctx, repository.EventFilter{ExcludeDraft: true})
}

// GetEventView returns a non-draft event together with the participant's
// team, if they registered as part of one.
func (s *EventService) GetEventView(ctx context.Context, eventID, participantID string) (*model.EventView, error) {
	e, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if e.Status == model.StatusDraft {
		return nil, repository.ErrNotFound
	}
	view := &model.EventView{Event: *e}

	reg, err := s.store.FindRegistration(ctx, eventID, participantID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && reg.TeamID == "") {
		return view, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find registration: %w", err)
	}
	t, err := s.store.GetTeam(ctx, reg.TeamID)
	if err != nil {
		return nil, fmt.Errorf("get team: %w", err)
	}
	info := &model.TeamInfo{Name: t.Name, Code: t.Code, Complete: t.Complete()}
	members, err := s.store.ListTeamRegistrations(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("list team: %w", err)
	}
	for _, m := range members {
		p, err := s.store.GetParticipant(ctx, m.ParticipantID)
		if err != nil {
			return nil, fmt.Errorf("get team member: %w", err)
		}
		info.Members = append(info.Members, p.FullName())
	}
	view.TeamInfo = info
	return view, nil
}

// Register validates identifiers and hands the request to the admission
// controller, which performs the concurrency-safe booking.
func (s *EventService) Register(ctx context.Context, eventID, participantID string, req model.RegisterRequest) (*model.RegisterResult, error) {
	if eventID == "" || participantID == "" {
		return nil, fmt.Errorf("%w: event id and participant id are required", ErrInvalidInput)
	}
	req.JoinTeamCode = strings.TrimSpace(req.JoinTeamCode)
	return s.admission.Register(ctx, eventID, participantID, req)
}

// MyRegistrations returns the participant's registrations, oldest first.
func (s *EventService) MyRegistrations(ctx context.Context, participantID string) ([]model.Registration, error) {
	return s.store.ListRegistrationsByParticipant(ctx, participantID)
}
