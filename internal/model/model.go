// Package model defines the core domain types for the event registration system.
package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an event.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusPublished Status = "Published"
	StatusOngoing   Status = "Ongoing"
	StatusClosed    Status = "Closed"
)

// EventType distinguishes regular sign-ups from merchandise sales.
type EventType string

const (
	EventTypeNormal      EventType = "normal"
	EventTypeMerchandise EventType = "merchandise"
)

// EligibilityAll admits every participant category.
const EligibilityAll = "all"

// FieldKind is the input kind of a registration form field.
type FieldKind string

const (
	FieldText     FieldKind = "text"
	FieldDropdown FieldKind = "dropdown"
	FieldCheckbox FieldKind = "checkbox"
	FieldFile     FieldKind = "file"
)

// Valid reports whether k is one of the known field kinds.
func (k FieldKind) Valid() bool {
	switch k {
	case FieldText, FieldDropdown, FieldCheckbox, FieldFile:
		return true
	}
	return false
}

// FormField describes one entry of an event's registration form.
type FormField struct {
	Label    string    `json:"label" yaml:"label"`
	Kind     FieldKind `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
	Options  []string  `json:"options,omitempty" yaml:"options"`
}

// Variant is a size/color combination of a merchandise item with its own stock.
type Variant struct {
	Size  string `json:"size" yaml:"size"`
	Color string `json:"color" yaml:"color"`
	Stock int    `json:"stock" yaml:"stock"`
}

// MerchandiseItem is the single item sold by a merchandise event.
type MerchandiseItem struct {
	Name     string    `json:"name" yaml:"name"`
	Variants []Variant `json:"variants" yaml:"variants"`
}

// Merchandise is the sale configuration of a merchandise event.
type Merchandise struct {
	Item                        MerchandiseItem `json:"items" yaml:"items"`
	PurchaseLimitPerParticipant *int            `json:"purchaseLimitPerParticipant,omitempty" yaml:"purchaseLimitPerParticipant"`
}

// Event represents an event owned by an organizer.
type Event struct {
	ID                   string       `json:"id"`
	OrganizerID          string       `json:"organizerId"`
	Name                 string       `json:"name"`
	Description          string       `json:"description"`
	EventType            EventType    `json:"eventType"`
	TeamEvent            bool         `json:"teamEvent"`
	Eligibility          string       `json:"eligibility"`
	Tags                 []string     `json:"tags"`
	Status               Status       `json:"status"`
	RegistrationFee      *float64     `json:"registrationFee,omitempty"`
	RegistrationLimit    *int         `json:"registrationLimit,omitempty"`
	RegisteredCount      int          `json:"registeredCount"`
	RegistrationDeadline *time.Time   `json:"registrationDeadline,omitempty"`
	StartDate            *time.Time   `json:"startDate,omitempty"`
	EndDate              *time.Time   `json:"endDate,omitempty"`
	RegistrationForm     []FormField  `json:"registrationForm,omitempty"`
	Merchandise          *Merchandise `json:"merchandise,omitempty"`
	CreatedAt            time.Time    `json:"createdAt"`
}

// Remaining returns the number of open places, or -1 when the event is unlimited.
func (e *Event) Remaining() int {
	if e.RegistrationLimit == nil {
		return -1
	}
	return *e.RegistrationLimit - e.RegisteredCount
}

// IsFull returns true when a limit is set and has been reached.
func (e *Event) IsFull() bool {
	return e.RegistrationLimit != nil && e.RegisteredCount >= *e.RegistrationLimit
}

// DeadlinePassed reports whether now is strictly after the registration deadline.
func (e *Event) DeadlinePassed(now time.Time) bool {
	return e.RegistrationDeadline != nil && now.After(*e.RegistrationDeadline)
}

// Admits reports whether the participant's category satisfies the eligibility filter.
func (e *Event) Admits(p *Participant) bool {
	if e.Eligibility == "" || e.Eligibility == EligibilityAll {
		return true
	}
	return p.Category == e.Eligibility
}

// PurchaseLimit returns the per-participant purchase limit, or 0 when unlimited.
func (e *Event) PurchaseLimit() int {
	if e.Merchandise == nil || e.Merchandise.PurchaseLimitPerParticipant == nil {
		return 0
	}
	return *e.Merchandise.PurchaseLimitPerParticipant
}

// Team is a group of participants registering together for a team event.
type Team struct {
	ID            string    `json:"id"`
	EventID       string    `json:"eventId"`
	Name          string    `json:"teamName"`
	Capacity      int       `json:"capacity"`
	CurrentLength int       `json:"currentLength"`
	Code          string    `json:"teamCode"`
	LeaderID      string    `json:"teamLeader"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Complete reports whether every place in the team is taken.
func (t *Team) Complete() bool {
	return t.CurrentLength >= t.Capacity
}

// FormValue is a typed answer to one form field. Exactly one payload is set,
// selected by Kind: Text for text and dropdown, Choices for checkbox, FileRef for file.
type FormValue struct {
	Kind    FieldKind `json:"kind"`
	Text    string    `json:"text,omitempty"`
	Choices []string  `json:"choices,omitempty"`
	FileRef string    `json:"fileRef,omitempty"`
}

// Empty reports whether the value carries no answer.
func (v FormValue) Empty() bool {
	switch v.Kind {
	case FieldCheckbox:
		return len(v.Choices) == 0
	case FieldFile:
		return v.FileRef == ""
	default:
		return v.Text == ""
	}
}

// FormResponse maps form field labels to typed answers.
type FormResponse map[string]FormValue

// MerchandiseSnapshot records what was bought by a merchandise registration.
type MerchandiseSnapshot struct {
	Name           string `json:"name"`
	Size           string `json:"size"`
	Color          string `json:"color"`
	RemainingStock int    `json:"remainingStock"`
}

// Registration is the immutable record of one successful admission.
type Registration struct {
	ID            string               `json:"id"`
	EventID       string               `json:"eventId"`
	ParticipantID string               `json:"participantId"`
	TeamID        string               `json:"teamId,omitempty"`
	EventType     EventType            `json:"eventType"`
	TicketID      string               `json:"ticketId"`
	Attended      bool                 `json:"attended"`
	Status        bool                 `json:"status"`
	FormResponse  FormResponse         `json:"formResponse,omitempty"`
	Merchandise   *MerchandiseSnapshot `json:"merchandise,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// Participant is the profile of a person who registers for events.
type Participant struct {
	ID            string    `json:"id"`
	FirstName     string    `json:"firstName"`
	LastName      string    `json:"lastName"`
	Email         string    `json:"email"`
	Category      string    `json:"category"`
	OrgName       string    `json:"orgName"`
	ContactNumber string    `json:"contactNumber"`
	Registered    []string  `json:"registered"`
	CreatedAt     time.Time `json:"createdAt"`
}

// FullName joins first and last name.
func (p *Participant) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// Organizer owns events.
type Organizer struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EventDraft is the payload for creating or replacing a draft event.
type EventDraft struct {
	Name                 string       `json:"name" yaml:"name"`
	Description          string       `json:"description" yaml:"description"`
	EventType            EventType    `json:"eventType" yaml:"eventType"`
	TeamEvent            bool         `json:"teamEvent" yaml:"teamEvent"`
	Eligibility          string       `json:"eligibility" yaml:"eligibility"`
	Tags                 []string     `json:"tags" yaml:"tags"`
	RegistrationFee      *float64     `json:"registrationFee" yaml:"registrationFee"`
	RegistrationLimit    *int         `json:"registrationLimit" yaml:"registrationLimit"`
	RegistrationDeadline *time.Time   `json:"registrationDeadline" yaml:"registrationDeadline"`
	StartDate            *time.Time   `json:"startDate" yaml:"startDate"`
	EndDate              *time.Time   `json:"endDate" yaml:"endDate"`
	RegistrationForm     []FormField  `json:"registrationForm" yaml:"registrationForm"`
	Merchandise          *Merchandise `json:"merchandise" yaml:"merchandise"`
}

// EventUpdate is a partial update. Nil fields are left untouched.
type EventUpdate struct {
	Draft                *EventDraft `json:"draft,omitempty"`
	Description          *string     `json:"description,omitempty"`
	RegistrationLimit    *int        `json:"registrationLimit,omitempty"`
	RegistrationDeadline *time.Time  `json:"registrationDeadline,omitempty"`
	CloseRegistration    bool        `json:"closeRegistration,omitempty"`
}

// EventStats summarises an event for its organizer.
type EventStats struct {
	Event         Event   `json:"event"`
	Registrations int     `json:"registrations"`
	Revenue       float64 `json:"revenue"`
}

// CreateTeamRequest asks to form a new team while registering.
type CreateTeamRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

// VariantSelection picks a merchandise variant.
type VariantSelection struct {
	Size  string `json:"size"`
	Color string `json:"color"`
}

// RegisterRequest is the payload for registering for an event.
type RegisterRequest struct {
	JoinTeamCode         string                     `json:"joinTeamCode,omitempty"`
	CreateTeam           *CreateTeamRequest         `json:"createTeam,omitempty"`
	FormResponse         map[string]json.RawMessage `json:"formResponse,omitempty"`
	MerchandiseSelection *VariantSelection          `json:"merchandiseSelection,omitempty"`
}

// TeamInfo is the team summary shown to participants.
type TeamInfo struct {
	Name     string   `json:"teamName"`
	Code     string   `json:"teamCode"`
	Complete bool     `json:"teamComplete"`
	Members  []string `json:"members,omitempty"`
}

// RegisterResult is the outcome of a successful registration.
type RegisterResult struct {
	Registration Registration `json:"registration"`
	Team         *TeamInfo    `json:"team,omitempty"`
}

// EventView is an event as seen by a participant.
type EventView struct {
	Event
	TeamInfo *TeamInfo `json:"teamInfo,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// BookingResult summarises the outcome of a single registration attempt.
// Used in concurrent test harnesses.
type BookingResult struct {
	ParticipantID string
	Success       bool
	Error         error
}
