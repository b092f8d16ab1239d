// Package lifecycle governs event status transitions and which fields an
// organizer may change in each status.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrEventReadOnly     = errors.New("event is closed and read-only")
	ErrFieldLocked       = errors.New("field cannot be changed once the event is published")
	ErrInvalidUpdate     = errors.New("invalid update")
	ErrTeamMerchandise   = errors.New("merchandise events cannot be team events")
	ErrInvalidSchedule   = errors.New("end date is before start date")
	ErrPublishValidation = errors.New("publish validation failed")
)

// PublishError lists the fields that kept an event from being published.
type PublishError struct {
	Missing []string
}

func (e *PublishError) Error() string {
	return "missing required fields: " + strings.Join(e.Missing, ", ")
}

func (e *PublishError) Unwrap() error { return ErrPublishValidation }

// Action is an organizer-driven status change.
type Action string

const (
	ActionPublish Action = "publish"
	ActionStart   Action = "start"
	ActionClose   Action = "close"
)

// transitions is the complete state machine. Anything absent is rejected.
var transitions = map[model.Status]map[Action]model.Status{
	model.StatusDraft: {
		ActionPublish: model.StatusPublished,
	},
	model.StatusPublished: {
		ActionStart: model.StatusOngoing,
		ActionClose: model.StatusClosed,
	},
	model.StatusOngoing: {
		ActionClose: model.StatusClosed,
	},
}

// Next returns the status reached by applying a to from.
func Next(from model.Status, a Action) (model.Status, error) {
	to, ok := transitions[from][a]
	if !ok {
		return from, fmt.Errorf("%w: cannot %s a %s event", ErrInvalidTransition, a, from)
	}
	return to, nil
}

// Apply validates and performs a transition on e. Publishing additionally
// requires CheckPublishable to pass; on any failure e is left untouched.
func Apply(e *model.Event, a Action) error {
	to, err := Next(e.Status, a)
	if err != nil {
		return err
	}
	if a == ActionPublish {
		if err := CheckPublishable(e); err != nil {
			return err
		}
	}
	e.Status = to
	return nil
}

// AcceptsRegistrations reports whether admissions are allowed in s.
func AcceptsRegistrations(s model.Status) bool {
	return s == model.StatusPublished || s == model.StatusOngoing
}

// CheckPublishable verifies that every core field is present, plus the
// requirements of the event type. Missing fields are reported together.
func CheckPublishable(e *model.Event) error {
	var missing []string
	require := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}
	require(strings.TrimSpace(e.Name) != "", "name")
	require(strings.TrimSpace(e.Description) != "", "description")
	require(e.EventType != "", "eventType")
	require(strings.TrimSpace(e.Eligibility) != "", "eligibility")
	require(e.RegistrationDeadline != nil, "registrationDeadline")
	require(e.StartDate != nil, "startDate")
	require(e.EndDate != nil, "endDate")
	require(e.RegistrationLimit != nil && *e.RegistrationLimit > 0, "registrationLimit")
	require(e.RegistrationFee != nil && *e.RegistrationFee >= 0, "registrationFee")
	require(len(e.Tags) > 0, "tags")

	switch e.EventType {
	case model.EventTypeNormal:
		if !e.TeamEvent {
			require(len(e.RegistrationForm) > 0, "registration Form")
		}
	case model.EventTypeMerchandise:
		if e.TeamEvent {
			return ErrTeamMerchandise
		}
		m := e.Merchandise
		require(m != nil && strings.TrimSpace(m.Item.Name) != "" && len(m.Item.Variants) > 0, "merchandise form")
	}

	if len(missing) > 0 {
		return &PublishError{Missing: missing}
	}
	if e.EndDate.Before(*e.StartDate) {
		return ErrInvalidSchedule
	}
	return nil
}

// NewDraft builds a Draft event from an organizer's payload.
func NewDraft(id, organizerID string, d model.EventDraft, now time.Time) (*model.Event, error) {
	e := &model.Event{
		ID:          id,
		OrganizerID: organizerID,
		Status:      model.StatusDraft,
		CreatedAt:   now,
	}
	if err := applyDraft(e, d); err != nil {
		return nil, err
	}
	return e, nil
}

// applyDraft replaces every editable field of e with d. The payload that does
// not belong to the event type is dropped.
func applyDraft(e *model.Event, d model.EventDraft) error {
	switch d.EventType {
	case "", model.EventTypeNormal, model.EventTypeMerchandise:
	default:
		return fmt.Errorf("%w: unknown eventType %q", ErrInvalidUpdate, d.EventType)
	}
	if d.EventType == model.EventTypeMerchandise && d.TeamEvent {
		return ErrTeamMerchandise
	}
	for _, f := range d.RegistrationForm {
		if !f.Kind.Valid() {
			return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidUpdate, f.Label, f.Kind)
		}
	}
	if d.Merchandise != nil {
		seen := make(map[[2]string]bool, len(d.Merchandise.Item.Variants))
		for _, v := range d.Merchandise.Item.Variants {
			if v.Stock < 0 {
				return fmt.Errorf("%w: variant %s/%s has negative stock", ErrInvalidUpdate, v.Size, v.Color)
			}
			key := [2]string{v.Size, v.Color}
			if seen[key] {
				return fmt.Errorf("%w: variant %s/%s is listed twice", ErrInvalidUpdate, v.Size, v.Color)
			}
			seen[key] = true
		}
	}

	e.Name = d.Name
	e.Description = d.Description
	e.EventType = d.EventType
	e.TeamEvent = d.TeamEvent
	e.Eligibility = d.Eligibility
	e.Tags = d.Tags
	if e.Tags == nil {
		e.Tags = []string{}
	}
	e.RegistrationFee = d.RegistrationFee
	e.RegistrationLimit = d.RegistrationLimit
	e.RegistrationDeadline = d.RegistrationDeadline
	e.StartDate = d.StartDate
	e.EndDate = d.EndDate
	e.RegistrationForm = d.RegistrationForm
	e.Merchandise = d.Merchandise

	switch e.EventType {
	case model.EventTypeMerchandise:
		e.RegistrationForm = nil
	case model.EventTypeNormal:
		e.Merchandise = nil
	}
	return nil
}

// ApplyUpdate applies u to e according to the edit rules of e's status.
// It reports whether the merchandise variants were replaced. On error e is
// left untouched.
func ApplyUpdate(e *model.Event, u model.EventUpdate, now time.Time) (bool, error) {
	switch e.Status {
	case model.StatusDraft:
		return applyDraftUpdate(e, u)
	case model.StatusPublished, model.StatusOngoing:
		return false, applyPublishedUpdate(e, u, now)
	case model.StatusClosed:
		return false, ErrEventReadOnly
	}
	return false, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, e.Status)
}

func applyDraftUpdate(e *model.Event, u model.EventUpdate) (bool, error) {
	next := *e
	if u.Draft != nil {
		if err := applyDraft(&next, *u.Draft); err != nil {
			return false, err
		}
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.RegistrationLimit != nil {
		next.RegistrationLimit = u.RegistrationLimit
	}
	if u.RegistrationDeadline != nil {
		next.RegistrationDeadline = u.RegistrationDeadline
	}
	if u.CloseRegistration {
		return false, fmt.Errorf("%w: a draft event has no open registration", ErrInvalidUpdate)
	}
	if next.RegistrationLimit != nil && *next.RegistrationLimit < 1 {
		return false, fmt.Errorf("%w: registrationLimit must be at least 1", ErrInvalidUpdate)
	}
	*e = next
	return u.Draft != nil, nil
}

func applyPublishedUpdate(e *model.Event, u model.EventUpdate, now time.Time) error {
	if u.Draft != nil {
		return ErrFieldLocked
	}
	next := *e
	if u.Description != nil {
		if strings.TrimSpace(*u.Description) == "" {
			return fmt.Errorf("%w: description cannot be empty", ErrInvalidUpdate)
		}
		next.Description = *u.Description
	}
	if u.RegistrationLimit != nil {
		if e.RegistrationLimit != nil && *u.RegistrationLimit <= *e.RegistrationLimit {
			return fmt.Errorf("%w: registrationLimit can only be raised", ErrInvalidUpdate)
		}
		limit := *u.RegistrationLimit
		next.RegistrationLimit = &limit
	}
	switch {
	case u.CloseRegistration:
		closed := now
		next.RegistrationDeadline = &closed
	case u.RegistrationDeadline != nil:
		if e.RegistrationDeadline != nil && !u.RegistrationDeadline.After(*e.RegistrationDeadline) {
			return fmt.Errorf("%w: registrationDeadline can only be postponed", ErrInvalidUpdate)
		}
		deadline := *u.RegistrationDeadline
		next.RegistrationDeadline = &deadline
	}
	*e = next
	return nil
}
