// Package seed loads YAML fixtures into the ledger store for local
// development and demos.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/service"
)

// Fixtures is the layout of a seed file.
type Fixtures struct {
	Organizers   []Organizer   `yaml:"organizers"`
	Participants []Participant `yaml:"participants"`
	Events       []Event       `yaml:"events"`
}

// Organizer is an organizer fixture. ID is generated when empty.
type Organizer struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Email       string `yaml:"email"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

// Participant is a participant fixture. ID is generated when empty.
type Participant struct {
	ID            string `yaml:"id"`
	FirstName     string `yaml:"firstName"`
	LastName      string `yaml:"lastName"`
	Email         string `yaml:"email"`
	Category      string `yaml:"category"`
	OrgName       string `yaml:"orgName"`
	ContactNumber string `yaml:"contactNumber"`
}

// Event is a draft owned by the organizer with the given fixture id.
// Publish moves it out of Draft after creation.
type Event struct {
	Organizer        string `yaml:"organizer"`
	Publish          bool   `yaml:"publish"`
	model.EventDraft `yaml:",inline"`
}

// Summary reports what Apply created.
type Summary struct {
	Organizers   int
	Participants int
	Events       []model.Event
}

// Parse decodes fixtures, rejecting unknown keys.
func Parse(r io.Reader) (*Fixtures, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f Fixtures
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	return &f, nil
}

// LoadFile parses the fixtures stored at path.
func LoadFile(path string) (*Fixtures, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// Loader writes fixtures through the store and the event service, so seeded
// events obey the same lifecycle rules as API-created ones.
type Loader struct {
	store  repository.Store
	events *service.EventService
	now    func() time.Time
	logger *slog.Logger
}

// NewLoader returns a Loader.
func NewLoader(store repository.Store, events *service.EventService, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, events: events, now: time.Now, logger: logger}
}

// Apply inserts organizers, then participants, then events. It stops at the
// first failure; records written before it stay.
func (l *Loader) Apply(ctx context.Context, f *Fixtures) (*Summary, error) {
	now := l.now().UTC()
	sum := &Summary{}

	for _, o := range f.Organizers {
		org := &model.Organizer{
			ID:          orNew(o.ID),
			Name:        o.Name,
			Email:       o.Email,
			Category:    o.Category,
			Description: o.Description,
			CreatedAt:   now,
		}
		if err := l.store.CreateOrganizer(ctx, org); err != nil {
			return sum, fmt.Errorf("organizer %q: %w", o.Name, err)
		}
		sum.Organizers++
		l.logger.Info("seeded organizer", "id", org.ID, "name", org.Name)
	}

	for _, p := range f.Participants {
		part := &model.Participant{
			ID:            orNew(p.ID),
			FirstName:     p.FirstName,
			LastName:      p.LastName,
			Email:         p.Email,
			Category:      p.Category,
			OrgName:       p.OrgName,
			ContactNumber: p.ContactNumber,
			CreatedAt:     now,
		}
		if err := l.store.CreateParticipant(ctx, part); err != nil {
			return sum, fmt.Errorf("participant %q: %w", p.Email, err)
		}
		sum.Participants++
		l.logger.Info("seeded participant", "id", part.ID, "email", part.Email)
	}

	for _, e := range f.Events {
		event, err := l.events.CreateDraft(ctx, e.Organizer, e.EventDraft)
		if err != nil {
			return sum, fmt.Errorf("event %q: %w", e.Name, err)
		}
		if e.Publish {
			if event, err = l.events.Publish(ctx, e.Organizer, event.ID); err != nil {
				return sum, fmt.Errorf("publish %q: %w", e.Name, err)
			}
		}
		sum.Events = append(sum.Events, *event)
		l.logger.Info("seeded event", "id", event.ID, "name", event.Name, "status", event.Status)
	}
	return sum, nil
}

func orNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}
