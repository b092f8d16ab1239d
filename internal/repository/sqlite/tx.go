package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
)

type liteTx struct {
	tx *sql.Tx
}

// LockEvent loads the event inside the write transaction. Transactions are
// opened with BEGIN IMMEDIATE, so the database write lock is already held and
// no other admission can interleave until this one ends.
func (t *liteTx) LockEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, t.tx, id)
}

// SaveEvent rewrites the editable columns of an event.
func (t *liteTx) SaveEvent(ctx context.Context, e *model.Event) error {
	args, err := eventArgs(e)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE events SET
			organizer_id = ?, name = ?, description = ?, event_type = ?, team_event = ?,
			eligibility = ?, tags = ?, status = ?, registration_fee = ?, registration_limit = ?,
			registration_deadline = ?, start_date = ?, end_date = ?, registration_form = ?,
			merch_name = ?, merch_purchase_limit = ?
		 WHERE id = ?`,
		append(args, e.ID)...,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", mapErr(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ReplaceVariants deletes and re-inserts the variants of an event.
func (t *liteTx) ReplaceVariants(ctx context.Context, eventID string, variants []model.Variant) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM merch_variants WHERE event_id = ?`, eventID); err != nil {
		return fmt.Errorf("delete variants: %w", err)
	}
	for i, v := range variants {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO merch_variants (event_id, position, size, color, stock) VALUES (?, ?, ?, ?, ?)`,
			eventID, i, v.Size, v.Color, v.Stock,
		)
		if err != nil {
			return fmt.Errorf("insert variant: %w", mapErr(err))
		}
	}
	return nil
}

// IncrementRegisteredCount only matches while the event is below its limit.
func (t *liteTx) IncrementRegisteredCount(ctx context.Context, eventID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE events SET registered_count = registered_count + 1
		 WHERE id = ? AND (registration_limit IS NULL OR registered_count < registration_limit)`,
		eventID,
	)
	if err != nil {
		return false, fmt.Errorf("increment registered_count: %w", mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("increment registered_count: %w", err)
	}
	return n == 1, nil
}

func (t *liteTx) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	return getParticipant(ctx, t.tx, id)
}

func (t *liteTx) GetOrganizer(ctx context.Context, id string) (*model.Organizer, error) {
	return getOrganizer(ctx, t.tx, id)
}

func (t *liteTx) CountParticipantRegistrations(ctx context.Context, eventID, participantID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = ? AND participant_id = ?`,
		eventID, participantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count participant registrations: %w", err)
	}
	return n, nil
}

func (t *liteTx) FindTeamByCode(ctx context.Context, eventID, code string) (*model.Team, error) {
	return scanTeam(t.tx.QueryRowContext(ctx,
		`SELECT `+teamColumns+` FROM teams WHERE event_id = ? AND code = ?`, eventID, code))
}

func (t *liteTx) TeamCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM teams WHERE code = ?)`, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("check team code: %w", err)
	}
	return exists, nil
}

func (t *liteTx) CreateTeam(ctx context.Context, team *model.Team) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO teams (id, event_id, name, capacity, current_length, code, leader_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		team.ID, team.EventID, team.Name, team.Capacity, team.CurrentLength, team.Code, team.LeaderID, millis(team.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert team: %w", mapErr(err))
	}
	return nil
}

// IncrementTeamLength is a compare-and-set on current_length < capacity.
func (t *liteTx) IncrementTeamLength(ctx context.Context, teamID string) (*model.Team, error) {
	team, err := scanTeam(t.tx.QueryRowContext(ctx,
		`UPDATE teams SET current_length = current_length + 1
		 WHERE id = ? AND current_length < capacity
		 RETURNING `+teamColumns,
		teamID,
	))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return team, nil
}

// DecrementStock takes one unit with UPDATE … WHERE stock > 0 RETURNING stock.
func (t *liteTx) DecrementStock(ctx context.Context, eventID, size, color string) (int, bool, error) {
	var remaining int
	err := t.tx.QueryRowContext(ctx,
		`UPDATE merch_variants SET stock = stock - 1
		 WHERE event_id = ? AND size = ? AND color = ? AND stock > 0
		 RETURNING stock`,
		eventID, size, color,
	).Scan(&remaining)
	if err == nil {
		return remaining, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("decrement stock: %w", mapErr(err))
	}

	var exists bool
	if err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM merch_variants WHERE event_id = ? AND size = ? AND color = ?)`,
		eventID, size, color,
	).Scan(&exists); err != nil {
		return 0, false, fmt.Errorf("check variant: %w", err)
	}
	if !exists {
		return 0, false, repository.ErrNotFound
	}
	return 0, false, nil
}

func (t *liteTx) TicketExists(ctx context.Context, ticketID string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM registrations WHERE ticket_id = ?)`, ticketID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check ticket: %w", err)
	}
	return exists, nil
}

func (t *liteTx) CreateRegistration(ctx context.Context, r *model.Registration) error {
	var form sql.NullString
	if r.FormResponse != nil {
		raw, err := json.Marshal(r.FormResponse)
		if err != nil {
			return fmt.Errorf("encode form response: %w", err)
		}
		form = sql.NullString{String: string(raw), Valid: true}
	}
	var (
		teamID               sql.NullString
		mName, mSize, mColor sql.NullString
		mStock               sql.NullInt64
	)
	if r.TeamID != "" {
		teamID = sql.NullString{String: r.TeamID, Valid: true}
	}
	if m := r.Merchandise; m != nil {
		mName = sql.NullString{String: m.Name, Valid: true}
		mSize = sql.NullString{String: m.Size, Valid: true}
		mColor = sql.NullString{String: m.Color, Valid: true}
		mStock = sql.NullInt64{Int64: int64(m.RemainingStock), Valid: true}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO registrations (id, event_id, participant_id, team_id, event_type, ticket_id, attended, status,
			form_response, merch_name, merch_size, merch_color, merch_stock, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EventID, r.ParticipantID, teamID, string(r.EventType), r.TicketID, r.Attended, r.Status,
		form, mName, mSize, mColor, mStock, millis(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", mapErr(err))
	}
	return nil
}

func (t *liteTx) ConfirmTeam(ctx context.Context, teamID string) ([]model.Registration, error) {
	if _, err := t.tx.ExecContext(ctx, `UPDATE registrations SET status = 1 WHERE team_id = ?`, teamID); err != nil {
		return nil, fmt.Errorf("confirm team: %w", err)
	}
	return listRegistrations(ctx, t.tx, `team_id = ?`, teamID)
}
