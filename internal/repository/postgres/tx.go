package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
)

type pgTx struct {
	tx pgx.Tx
}

// LockEvent loads the event with SELECT … FOR UPDATE.
//
// ─────────────────────────────────────────────────────────────────────────────
// RACE CONDITION EXPLAINED
// ─────────────────────────────────────────────────────────────────────────────
//
// Naive read-then-write approach (BROKEN):
//
//	goroutine A: SELECT registered_count FROM events WHERE id = X  → returns 9
//	goroutine B: SELECT registered_count FROM events WHERE id = X  → returns 9
//	goroutine A: limit=10, 9 < 10, OK → INSERT registration, UPDATE count=10
//	goroutine B: limit=10, 9 < 10, OK → INSERT registration, UPDATE count=10
//	Result: 11 registrations for a 10-seat event.
//
// The row lock blocks every other admission for the same event until this
// transaction commits or rolls back. Admissions for other events lock other
// rows and proceed in parallel. The per-participant duplicate and purchase
// limit checks are only sound because they run under this lock.
// ─────────────────────────────────────────────────────────────────────────────
func (t *pgTx) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, t.tx, id, true)
}

// SaveEvent rewrites the editable columns of an event.
func (t *pgTx) SaveEvent(ctx context.Context, e *model.Event) error {
	args, err := eventArgs(e)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE events SET
			organizer_id = $2, name = $3, description = $4, event_type = $5, team_event = $6,
			eligibility = $7, tags = $8, status = $9, registration_fee = $10, registration_limit = $11,
			registration_deadline = $12, start_date = $13, end_date = $14, registration_form = $15,
			merch_name = $16, merch_purchase_limit = $17
		 WHERE id = $1`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", mapErr(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ReplaceVariants deletes and re-inserts the variants of an event.
func (t *pgTx) ReplaceVariants(ctx context.Context, eventID string, variants []model.Variant) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM merch_variants WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("delete variants: %w", err)
	}
	batch := &pgx.Batch{}
	for i, v := range variants {
		batch.Queue(
			`INSERT INTO merch_variants (event_id, position, size, color, stock) VALUES ($1, $2, $3, $4, $5)`,
			eventID, i, v.Size, v.Color, v.Stock,
		)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert variants: %w", mapErr(err))
	}
	return nil
}

// IncrementRegisteredCount is a conditional update: it only matches while
// the event is below its limit, so the check and the increment are one step.
func (t *pgTx) IncrementRegisteredCount(ctx context.Context, eventID string) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE events SET registered_count = registered_count + 1
		 WHERE id = $1 AND (registration_limit IS NULL OR registered_count < registration_limit)`,
		eventID,
	)
	if err != nil {
		return false, fmt.Errorf("increment registered_count: %w", mapErr(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	return getParticipant(ctx, t.tx, id)
}

func (t *pgTx) GetOrganizer(ctx context.Context, id string) (*model.Organizer, error) {
	return getOrganizer(ctx, t.tx, id)
}

func (t *pgTx) CountParticipantRegistrations(ctx context.Context, eventID, participantID string) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND participant_id = $2`,
		eventID, participantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count participant registrations: %w", err)
	}
	return n, nil
}

func (t *pgTx) FindTeamByCode(ctx context.Context, eventID, code string) (*model.Team, error) {
	return scanTeam(t.tx.QueryRow(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE event_id = $1 AND code = $2`, eventID, code))
}

func (t *pgTx) TeamCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE code = $1)`, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("check team code: %w", err)
	}
	return exists, nil
}

func (t *pgTx) CreateTeam(ctx context.Context, team *model.Team) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO teams (id, event_id, name, capacity, current_length, code, leader_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		team.ID, team.EventID, team.Name, team.Capacity, team.CurrentLength, team.Code, team.LeaderID, team.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert team: %w", mapErr(err))
	}
	return nil
}

// IncrementTeamLength is a compare-and-set on current_length < capacity.
func (t *pgTx) IncrementTeamLength(ctx context.Context, teamID string) (*model.Team, error) {
	team, err := scanTeam(t.tx.QueryRow(ctx,
		`UPDATE teams SET current_length = current_length + 1
		 WHERE id = $1 AND current_length < capacity
		 RETURNING `+teamColumns,
		teamID,
	))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return team, nil
}

// DecrementStock takes one unit with UPDATE … WHERE stock > 0 RETURNING stock.
func (t *pgTx) DecrementStock(ctx context.Context, eventID, size, color string) (int, bool, error) {
	var remaining int
	err := t.tx.QueryRow(ctx,
		`UPDATE merch_variants SET stock = stock - 1
		 WHERE event_id = $1 AND size = $2 AND color = $3 AND stock > 0
		 RETURNING stock`,
		eventID, size, color,
	).Scan(&remaining)
	if err == nil {
		return remaining, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("decrement stock: %w", mapErr(err))
	}

	// Nothing matched: either the variant does not exist or it is sold out.
	var exists bool
	if err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM merch_variants WHERE event_id = $1 AND size = $2 AND color = $3)`,
		eventID, size, color,
	).Scan(&exists); err != nil {
		return 0, false, fmt.Errorf("check variant: %w", err)
	}
	if !exists {
		return 0, false, repository.ErrNotFound
	}
	return 0, false, nil
}

func (t *pgTx) TicketExists(ctx context.Context, ticketID string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM registrations WHERE ticket_id = $1)`, ticketID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check ticket: %w", err)
	}
	return exists, nil
}

func (t *pgTx) CreateRegistration(ctx context.Context, r *model.Registration) error {
	var form []byte
	if r.FormResponse != nil {
		var err error
		if form, err = json.Marshal(r.FormResponse); err != nil {
			return fmt.Errorf("encode form response: %w", err)
		}
	}
	var (
		teamID               *string
		mName, mSize, mColor *string
		mStock               *int
	)
	if r.TeamID != "" {
		teamID = &r.TeamID
	}
	if m := r.Merchandise; m != nil {
		mName, mSize, mColor, mStock = &m.Name, &m.Size, &m.Color, &m.RemainingStock
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO registrations (id, event_id, participant_id, team_id, event_type, ticket_id, attended, status,
			form_response, merch_name, merch_size, merch_color, merch_stock, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.EventID, r.ParticipantID, teamID, r.EventType, r.TicketID, r.Attended, r.Status,
		form, mName, mSize, mColor, mStock, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) ConfirmTeam(ctx context.Context, teamID string) ([]model.Registration, error) {
	if _, err := t.tx.Exec(ctx, `UPDATE registrations SET status = TRUE WHERE team_id = $1`, teamID); err != nil {
		return nil, fmt.Errorf("confirm team: %w", err)
	}
	return listRegistrations(ctx, t.tx, `team_id = $1`, teamID)
}
