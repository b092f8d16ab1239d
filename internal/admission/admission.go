// Package admission decides whether a participant may register for an event.
//
// Every admission runs in one ledger transaction that first locks the event.
// The capacity checks, the conditional counter updates (event count, team
// length, variant stock) and the registration insert either all commit or
// all roll back, so a failure after a reservation leaves nothing behind.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shivanand-hulikatti/eventreg/internal/form"
	"github.com/Shivanand-hulikatti/eventreg/internal/inventory"
	"github.com/Shivanand-hulikatti/eventreg/internal/lifecycle"
	"github.com/Shivanand-hulikatti/eventreg/internal/metrics"
	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/notify"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/team"
	"github.com/Shivanand-hulikatti/eventreg/internal/telemetry"
	"github.com/Shivanand-hulikatti/eventreg/internal/ticket"
)

// Rejection reasons. Each is returned before anything is written.
var (
	ErrEventNotFound       = errors.New("event not found")
	ErrEventNotOpen        = errors.New("event is not open for registration")
	ErrLimitReached        = errors.New("registration limit reached")
	ErrDeadlinePassed      = errors.New("registration deadline has passed")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotEligible         = errors.New("participant is not eligible for this event")
	ErrAlreadyRegistered   = errors.New("participant is already registered for this event")

	ErrPurchaseLimitExceeded = inventory.ErrPurchaseLimitExceeded
	ErrVariantNotFound       = inventory.ErrVariantNotFound
	ErrOutOfStock            = inventory.ErrOutOfStock

	ErrTeamNotFound        = team.ErrTeamNotFound
	ErrTeamFull            = team.ErrTeamFull
	ErrInvalidTeamCapacity = team.ErrInvalidCapacity
	ErrTeamRequired        = team.ErrTeamRequired

	ErrMissingField = form.ErrMissingField
)

// ErrAdmissionConflict is returned when the admission kept losing races with
// concurrent transactions. The whole request may be retried.
var ErrAdmissionConflict = errors.New("admission conflicted with concurrent registrations, retry")

// DefaultMaxAttempts bounds transaction retries on storage conflicts.
const DefaultMaxAttempts = 5

// Controller is the only component that admits registrations.
type Controller struct {
	store       repository.Store
	teams       *team.Coordinator
	inventory   *inventory.Manager
	tickets     *ticket.Issuer
	now         func() time.Time
	maxAttempts int
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the time source used for deadlines and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMaxAttempts sets how many times a conflicting transaction is tried.
func WithMaxAttempts(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records admission outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTeamCoordinator replaces the default team coordinator.
func WithTeamCoordinator(tc *team.Coordinator) Option {
	return func(c *Controller) { c.teams = tc }
}

// New constructs a Controller over store. Tickets come from issuer.
func New(store repository.Store, issuer *ticket.Issuer, opts ...Option) *Controller {
	c := &Controller{
		store:       store,
		teams:       team.NewCoordinator(nil),
		inventory:   inventory.NewManager(),
		tickets:     issuer,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
		tracer:      telemetry.Tracer("admission"),
	}
	if c.tickets == nil {
		c.tickets = ticket.NewIssuer(nil, nil)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// admitted is what one committed attempt produced.
type admitted struct {
	result  model.RegisterResult
	notices []notify.Ticket
}

// Register admits participantID to eventID or returns the first failed
// precondition. Storage conflicts are retried up to the configured bound.
func (c *Controller) Register(ctx context.Context, eventID, participantID string, req model.RegisterRequest) (*model.RegisterResult, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "admission.Register", trace.WithAttributes(
		attribute.String("event.id", eventID),
		attribute.String("participant.id", participantID),
	))
	defer span.End()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	out, err := backoff.Retry(ctx, func() (*admitted, error) {
		out, err := c.attempt(ctx, eventID, participantID, req)
		if err != nil && !errors.Is(err, repository.ErrConflict) {
			return nil, backoff.Permanent(err)
		}
		return out, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.maxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.metrics.AdmissionRetried()
			c.logger.Debug("admission conflict, retrying", "event_id", eventID, "error", err, "retry_in", next)
		}),
	)
	if errors.Is(err, repository.ErrConflict) {
		err = fmt.Errorf("%w: %w", ErrAdmissionConflict, err)
	}
	c.metrics.ObserveAdmission(outcome(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome(err))
		if outcome(err) == "error" {
			c.logger.Error("admission failed", "event_id", eventID, "participant_id", participantID, "error", err)
		} else {
			c.logger.Debug("admission rejected", "event_id", eventID, "participant_id", participantID, "reason", err)
		}
		return nil, err
	}

	reg := out.result.Registration
	span.SetAttributes(attribute.String("ticket.id", reg.TicketID))
	c.logger.Info("registration admitted",
		"event_id", eventID,
		"participant_id", participantID,
		"registration_id", reg.ID,
		"ticket_id", reg.TicketID,
	)
	c.tickets.Announce(ctx, out.notices...)
	return &out.result, nil
}

func (c *Controller) attempt(ctx context.Context, eventID, participantID string, req model.RegisterRequest) (*admitted, error) {
	var out *admitted
	err := c.store.WithinTx(ctx, func(tx repository.Tx) error {
		var err error
		out, err = c.admit(ctx, tx, eventID, participantID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Controller) admit(ctx context.Context, tx repository.Tx, eventID, participantID string, req model.RegisterRequest) (*admitted, error) {
	now := c.now().UTC()

	e, err := tx.LockEvent(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	if !lifecycle.AcceptsRegistrations(e.Status) {
		return nil, fmt.Errorf("%w: status is %s", ErrEventNotOpen, e.Status)
	}
	if e.IsFull() {
		return nil, ErrLimitReached
	}
	if e.DeadlinePassed(now) {
		return nil, ErrDeadlinePassed
	}
	p, err := tx.GetParticipant(ctx, participantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, err
	}
	if !e.Admits(p) {
		return nil, ErrNotEligible
	}

	reg := &model.Registration{
		ID:            uuid.NewString(),
		EventID:       e.ID,
		ParticipantID: p.ID,
		EventType:     e.EventType,
		Status:        true,
		CreatedAt:     now,
	}
	var joined *model.Team

	switch e.EventType {
	case model.EventTypeMerchandise:
		if err := c.inventory.CheckPurchaseLimit(ctx, tx, e, p.ID); err != nil {
			return nil, err
		}
		snap, err := c.inventory.Reserve(ctx, tx, e, req.MerchandiseSelection)
		if err != nil {
			return nil, err
		}
		reg.Merchandise = snap
	default:
		n, err := tx.CountParticipantRegistrations(ctx, e.ID, p.ID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, ErrAlreadyRegistered
		}
		if e.TeamEvent {
			joined, err = c.teams.Resolve(ctx, tx, e.ID, p.ID, req, now)
			if err != nil {
				return nil, err
			}
			reg.TeamID = joined.ID
			reg.Status = false
		}
		reg.FormResponse, err = form.Validate(e.RegistrationForm, req.FormResponse)
		if err != nil {
			return nil, err
		}
	}

	ok, err := tx.IncrementRegisteredCount(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLimitReached
	}
	if reg.TicketID, err = c.tickets.Issue(ctx, tx); err != nil {
		return nil, err
	}
	if err := tx.CreateRegistration(ctx, reg); err != nil {
		return nil, err
	}

	org, err := tx.GetOrganizer(ctx, e.OrganizerID)
	if err != nil {
		return nil, fmt.Errorf("load organizer: %w", err)
	}
	out := &admitted{result: model.RegisterResult{Registration: *reg}}

	if joined == nil {
		out.notices = []notify.Ticket{noticeFor(e, org, p, reg.TicketID, nil)}
		return out, nil
	}

	out.result.Team = &model.TeamInfo{Name: joined.Name, Code: joined.Code, Complete: joined.Complete()}
	if !joined.Complete() {
		out.notices = []notify.Ticket{noticeFor(e, org, p, reg.TicketID, joined)}
		return out, nil
	}

	members, err := tx.ConfirmTeam(ctx, joined.ID)
	if err != nil {
		return nil, err
	}
	out.result.Registration.Status = true
	for _, m := range members {
		mp := p
		if m.ParticipantID != p.ID {
			if mp, err = tx.GetParticipant(ctx, m.ParticipantID); err != nil {
				return nil, fmt.Errorf("load team member: %w", err)
			}
		}
		out.result.Team.Members = append(out.result.Team.Members, mp.FullName())
		out.notices = append(out.notices, noticeFor(e, org, mp, m.TicketID, joined))
	}
	return out, nil
}

func noticeFor(e *model.Event, org *model.Organizer, p *model.Participant, ticketID string, t *model.Team) notify.Ticket {
	n := notify.Ticket{
		TicketID:           ticketID,
		EventID:            e.ID,
		EventName:          e.Name,
		OrganizerName:      org.Name,
		ParticipantName:    p.FullName(),
		ParticipantAddress: p.Email,
		StartDate:          e.StartDate,
		EndDate:            e.EndDate,
	}
	if t != nil {
		n.TeamName = t.Name
		n.TeamCode = t.Code
	}
	return n
}

// outcome is the metrics label for an admission result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, ErrEventNotOpen):
		return "event_not_open"
	case errors.Is(err, ErrLimitReached):
		return "limit_reached"
	case errors.Is(err, ErrDeadlinePassed):
		return "deadline_passed"
	case errors.Is(err, ErrParticipantNotFound):
		return "participant_not_found"
	case errors.Is(err, ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, ErrPurchaseLimitExceeded):
		return "purchase_limit_exceeded"
	case errors.Is(err, ErrVariantNotFound), errors.Is(err, inventory.ErrNoSelection):
		return "variant_not_found"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrTeamNotFound):
		return "team_not_found"
	case errors.Is(err, ErrTeamFull):
		return "team_full"
	case errors.Is(err, ErrInvalidTeamCapacity), errors.Is(err, team.ErrTeamNameMissing):
		return "invalid_team"
	case errors.Is(err, ErrTeamRequired):
		return "team_required"
	case errors.Is(err, ErrMissingField), errors.Is(err, form.ErrInvalidFieldValue):
		return "invalid_form"
	case errors.Is(err, ErrAdmissionConflict):
		return "conflict"
	}
	return "error"
}
