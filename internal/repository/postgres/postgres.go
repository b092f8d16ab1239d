// Package postgres implements the ledger store on PostgreSQL using pgx
// directly (no ORM).
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the pgx-backed ledger store.
type Store struct {
	db *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// New constructs a Store over an existing pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Close releases the pool.
func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Migrate applies embedded migrations at most once per file.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		var applied bool
		if err := s.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, file,
		).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied {
			continue
		}
		content, err := migrationsFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, upSection(string(content))); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (name, applied_at) VALUES ($1, $2)`,
				file, time.Now().UTC(),
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	return nil
}

func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}

// WithinTx runs fn in a read-committed transaction. Serialisation failures,
// deadlocks and unique collisions surface as repository.ErrConflict.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Tx) error) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
	return mapErr(err)
}

// mapErr translates retryable PostgreSQL errors into repository.ErrConflict.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.Message)
		}
	}
	return err
}

// ─── Organizers & participants ───────────────────────────────────────────────

// CreateOrganizer inserts an organizer.
func (s *Store) CreateOrganizer(ctx context.Context, o *model.Organizer) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO organizers (id, name, email, category, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.Name, o.Email, o.Category, o.Description, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert organizer: %w", mapErr(err))
	}
	return nil
}

// GetOrganizer returns an organizer or ErrNotFound.
func (s *Store) GetOrganizer(ctx context.Context, id string) (*model.Organizer, error) {
	return getOrganizer(ctx, s.db, id)
}

func getOrganizer(ctx context.Context, q querier, id string) (*model.Organizer, error) {
	var o model.Organizer
	err := q.QueryRow(ctx,
		`SELECT id, name, email, category, description, created_at
		 FROM organizers WHERE id = $1`, id,
	).Scan(&o.ID, &o.Name, &o.Email, &o.Category, &o.Description, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get organizer: %w", err)
	}
	return &o, nil
}

// CreateParticipant inserts a participant profile.
func (s *Store) CreateParticipant(ctx context.Context, p *model.Participant) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO participants (id, first_name, last_name, email, category, org_name, contact_number, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.FirstName, p.LastName, p.Email, p.Category, p.OrgName, p.ContactNumber, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", mapErr(err))
	}
	return nil
}

// GetParticipant returns a participant with its registration back-references.
func (s *Store) GetParticipant(ctx context.Context, id string) (*model.Participant, error) {
	return getParticipant(ctx, s.db, id)
}

func getParticipant(ctx context.Context, q querier, id string) (*model.Participant, error) {
	var p model.Participant
	err := q.QueryRow(ctx,
		`SELECT id, first_name, last_name, email, category, org_name, contact_number, created_at
		 FROM participants WHERE id = $1`, id,
	).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Category, &p.OrgName, &p.ContactNumber, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}

	rows, err := q.Query(ctx,
		`SELECT id FROM registrations WHERE participant_id = $1 ORDER BY created_at ASC, id ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list participant registrations: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan participant registrations: %w", err)
	}
	p.Registered = ids
	return &p, nil
}

// ─── Events ──────────────────────────────────────────────────────────────────

const eventColumns = `id, organizer_id, name, description, event_type, team_event, eligibility, tags,
	status, registration_fee, registration_limit, registered_count, registration_deadline,
	start_date, end_date, registration_form, merch_name, merch_purchase_limit, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*model.Event, error) {
	var (
		e             model.Event
		tags, form    []byte
		merchName     *string
		purchaseLimit *int
	)
	err := row.Scan(&e.ID, &e.OrganizerID, &e.Name, &e.Description, &e.EventType, &e.TeamEvent,
		&e.Eligibility, &tags, &e.Status, &e.RegistrationFee, &e.RegistrationLimit, &e.RegisteredCount,
		&e.RegistrationDeadline, &e.StartDate, &e.EndDate, &form, &merchName, &purchaseLimit, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tags, &e.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(form, &e.RegistrationForm); err != nil {
		return nil, fmt.Errorf("decode registration form: %w", err)
	}
	if merchName != nil {
		e.Merchandise = &model.Merchandise{
			Item:                        model.MerchandiseItem{Name: *merchName},
			PurchaseLimitPerParticipant: purchaseLimit,
		}
	}
	return &e, nil
}

func loadVariants(ctx context.Context, q querier, e *model.Event) error {
	if e.Merchandise == nil {
		return nil
	}
	rows, err := q.Query(ctx,
		`SELECT size, color, stock FROM merch_variants WHERE event_id = $1 ORDER BY position ASC`, e.ID,
	)
	if err != nil {
		return fmt.Errorf("list variants: %w", err)
	}
	variants, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Variant, error) {
		var v model.Variant
		err := row.Scan(&v.Size, &v.Color, &v.Stock)
		return v, err
	})
	if err != nil {
		return fmt.Errorf("scan variants: %w", err)
	}
	e.Merchandise.Item.Variants = variants
	return nil
}

func getEvent(ctx context.Context, q querier, id string, lock bool) (*model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	e, err := scanEvent(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", mapErr(err))
	}
	if err := loadVariants(ctx, q, e); err != nil {
		return nil, err
	}
	return e, nil
}

func eventArgs(e *model.Event) ([]any, error) {
	tags, err := json.Marshal(nonNil(e.Tags))
	if err != nil {
		return nil, fmt.Errorf("encode tags: %w", err)
	}
	form, err := json.Marshal(nonNil(e.RegistrationForm))
	if err != nil {
		return nil, fmt.Errorf("encode registration form: %w", err)
	}
	var (
		merchName     *string
		purchaseLimit *int
	)
	if e.Merchandise != nil {
		merchName = &e.Merchandise.Item.Name
		purchaseLimit = e.Merchandise.PurchaseLimitPerParticipant
	}
	return []any{
		e.ID, e.OrganizerID, e.Name, e.Description, e.EventType, e.TeamEvent, e.Eligibility, tags,
		e.Status, e.RegistrationFee, e.RegistrationLimit, e.RegistrationDeadline,
		e.StartDate, e.EndDate, form, merchName, purchaseLimit,
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// CreateEvent inserts an event together with its merchandise variants.
func (s *Store) CreateEvent(ctx context.Context, e *model.Event) error {
	args, err := eventArgs(e)
	if err != nil {
		return err
	}
	return s.WithinTx(ctx, func(rtx repository.Tx) error {
		tx := rtx.(*pgTx).tx
		_, err := tx.Exec(ctx,
			`INSERT INTO events (id, organizer_id, name, description, event_type, team_event, eligibility, tags,
				status, registration_fee, registration_limit, registration_deadline,
				start_date, end_date, registration_form, merch_name, merch_purchase_limit,
				registered_count, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
			append(args, e.RegisteredCount, e.CreatedAt)...,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		if e.Merchandise != nil {
			return rtx.ReplaceVariants(ctx, e.ID, e.Merchandise.Item.Variants)
		}
		return nil
	})
}

// GetEvent returns a single event or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, s.db, id, false)
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, f repository.EventFilter) ([]model.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.OrganizerID != "" {
		args = append(args, f.OrganizerID)
		where = append(where, fmt.Sprintf("organizer_id = $%d", len(args)))
	}
	if f.ExcludeDraft {
		args = append(args, model.StatusDraft)
		where = append(where, fmt.Sprintf("status <> $%d", len(args)))
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Event, error) {
		e, err := scanEvent(row)
		if err != nil {
			return model.Event{}, err
		}
		return *e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	for i := range events {
		if err := loadVariants(ctx, s.db, &events[i]); err != nil {
			return nil, err
		}
	}
	return events, nil
}

// ─── Teams ───────────────────────────────────────────────────────────────────

const teamColumns = `id, event_id, name, capacity, current_length, code, leader_id, created_at`

func scanTeam(row scanner) (*model.Team, error) {
	var t model.Team
	if err := row.Scan(&t.ID, &t.EventID, &t.Name, &t.Capacity, &t.CurrentLength, &t.Code, &t.LeaderID, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan team: %w", err)
	}
	return &t, nil
}

// GetTeam returns a team or ErrNotFound.
func (s *Store) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	return scanTeam(s.db.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
}

// ─── Registrations ───────────────────────────────────────────────────────────

const registrationColumns = `id, event_id, participant_id, team_id, event_type, ticket_id, attended, status,
	form_response, merch_name, merch_size, merch_color, merch_stock, created_at`

func scanRegistration(row scanner) (*model.Registration, error) {
	var (
		r                    model.Registration
		teamID               *string
		form                 []byte
		mName, mSize, mColor *string
		mStock               *int
	)
	err := row.Scan(&r.ID, &r.EventID, &r.ParticipantID, &teamID, &r.EventType, &r.TicketID, &r.Attended,
		&r.Status, &form, &mName, &mSize, &mColor, &mStock, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if teamID != nil {
		r.TeamID = *teamID
	}
	if len(form) > 0 {
		if err := json.Unmarshal(form, &r.FormResponse); err != nil {
			return nil, fmt.Errorf("decode form response: %w", err)
		}
	}
	if mName != nil {
		r.Merchandise = &model.MerchandiseSnapshot{Name: *mName}
		if mSize != nil {
			r.Merchandise.Size = *mSize
		}
		if mColor != nil {
			r.Merchandise.Color = *mColor
		}
		if mStock != nil {
			r.Merchandise.RemainingStock = *mStock
		}
	}
	return &r, nil
}

func getRegistration(ctx context.Context, q querier, where string, args ...any) (*model.Registration, error) {
	r, err := scanRegistration(q.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return r, nil
}

func listRegistrations(ctx context.Context, q querier, where string, args ...any) ([]model.Registration, error) {
	rows, err := q.Query(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE `+where+` ORDER BY created_at ASC, id ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	regs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Registration, error) {
		r, err := scanRegistration(row)
		if err != nil {
			return model.Registration{}, err
		}
		return *r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	return regs, nil
}

// GetRegistration returns a registration or ErrNotFound.
func (s *Store) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	return getRegistration(ctx, s.db, `id = $1`, id)
}

// GetRegistrationByTicket finds the registration holding ticketID for an event.
func (s *Store) GetRegistrationByTicket(ctx context.Context, eventID, ticketID string) (*model.Registration, error) {
	return getRegistration(ctx, s.db, `event_id = $1 AND ticket_id = $2`, eventID, ticketID)
}

// FindRegistration returns the participant's first registration for an event.
func (s *Store) FindRegistration(ctx context.Context, eventID, participantID string) (*model.Registration, error) {
	return getRegistration(ctx, s.db,
		`event_id = $1 AND participant_id = $2 ORDER BY created_at ASC LIMIT 1`, eventID, participantID)
}

// ListRegistrationsByEvent returns all registrations for an event.
func (s *Store) ListRegistrationsByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	return listRegistrations(ctx, s.db, `event_id = $1`, eventID)
}

// ListRegistrationsByParticipant returns all registrations of a participant.
func (s *Store) ListRegistrationsByParticipant(ctx context.Context, participantID string) ([]model.Registration, error) {
	return listRegistrations(ctx, s.db, `participant_id = $1`, participantID)
}

// ListTeamRegistrations returns the registrations that belong to a team.
func (s *Store) ListTeamRegistrations(ctx context.Context, teamID string) ([]model.Registration, error) {
	return listRegistrations(ctx, s.db, `team_id = $1`, teamID)
}

// CountRegistrationsByEvent counts the registrations of an event.
func (s *Store) CountRegistrationsByEvent(ctx context.Context, eventID string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM registrations WHERE event_id = $1`, eventID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return n, nil
}

// SetAttended toggles the attended flag of one registration.
func (s *Store) SetAttended(ctx context.Context, registrationID string, attended bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE registrations SET attended = $1 WHERE id = $2`, attended, registrationID)
	if err != nil {
		return fmt.Errorf("set attended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
