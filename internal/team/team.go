// Package team creates teams and admits joiners for team events.
package team

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
	"github.com/Shivanand-hulikatti/eventreg/internal/ticket"
)

// Team size bounds, inclusive.
const (
	MinCapacity = 2
	MaxCapacity = 5
)

var (
	ErrTeamNotFound    = errors.New("team not found")
	ErrTeamFull        = errors.New("team is full")
	ErrInvalidCapacity = errors.New("team capacity must be between 2 and 5")
	ErrTeamRequired    = errors.New("team event requires a team code or a new team")
	ErrTeamNameMissing = errors.New("team name is required")
)

// Coordinator resolves team membership inside the admission transaction.
type Coordinator struct {
	codes ticket.Generator
}

// NewCoordinator constructs a Coordinator. A nil codes uses ticket.NewCode.
func NewCoordinator(codes ticket.Generator) *Coordinator {
	return &Coordinator{codes: codes}
}

// Resolve joins or creates the team requested by req. Joining wins when both
// a code and a create request are supplied.
func (c *Coordinator) Resolve(ctx context.Context, tx repository.Tx, eventID, participantID string, req model.RegisterRequest, now time.Time) (*model.Team, error) {
	if code := strings.TrimSpace(req.JoinTeamCode); code != "" {
		return c.Join(ctx, tx, eventID, code)
	}
	if req.CreateTeam != nil {
		return c.Create(ctx, tx, eventID, participantID, *req.CreateTeam, now)
	}
	return nil, ErrTeamRequired
}

// Join admits one more member to the team holding code within the event.
// The capacity check and the increment are a single conditional update.
func (c *Coordinator) Join(ctx context.Context, tx repository.Tx, eventID, code string) (*model.Team, error) {
	t, err := tx.FindTeamByCode(ctx, eventID, strings.ToUpper(code))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, err
	}
	joined, err := tx.IncrementTeamLength(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if joined == nil {
		return nil, ErrTeamFull
	}
	return joined, nil
}

// Create forms a team led by leaderID with one member and a fresh code.
func (c *Coordinator) Create(ctx context.Context, tx repository.Tx, eventID, leaderID string, req model.CreateTeamRequest, now time.Time) (*model.Team, error) {
	if req.Capacity < MinCapacity || req.Capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, req.Capacity)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrTeamNameMissing
	}
	code, err := ticket.UniqueCode(ctx, c.codes, tx.TeamCodeExists)
	if err != nil {
		return nil, fmt.Errorf("team code: %w", err)
	}
	t := &model.Team{
		ID:            uuid.NewString(),
		EventID:       eventID,
		Name:          name,
		Capacity:      req.Capacity,
		CurrentLength: 1,
		Code:          code,
		LeaderID:      leaderID,
		CreatedAt:     now,
	}
	if err := tx.CreateTeam(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
