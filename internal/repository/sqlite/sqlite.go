// Package sqlite implements the ledger store on SQLite (modernc.org/sqlite).
// It backs local development and the test suites.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/eventreg/internal/model"
	"github.com/Shivanand-hulikatti/eventreg/internal/repository"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store provides SQLite-backed ledger persistence.
//
// SQLite has a single writer, so the store keeps one connection open and
// every transaction is exclusive for its duration. Admissions for different
// events are therefore serialized; use the postgres store where they must run
// in parallel.
type Store struct {
	db *sql.DB
}

var _ repository.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies embedded migrations at most once per file.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name       TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		var found int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM schema_migrations WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		content, err := migrationsFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, upSection(string(content))); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`,
				file, time.Now().UTC().UnixMilli(),
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

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapErr(err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapErr(err))
	}
	return nil
}

// WithinTx runs fn inside one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(repository.Tx) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&liteTx{tx: tx})
	})
}

// mapErr translates busy and unique-constraint errors into repository.ErrConflict.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var liteErr *sqlite.Error
	if !errors.As(err, &liteErr) {
		return err
	}
	code := liteErr.Code()
	switch {
	case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED,
		code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY,
		strings.Contains(liteErr.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%w: %s", repository.ErrConflict, liteErr.Error())
	}
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(n sql.Null[int64]) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.V)
	return &t
}

func ptr[T any](n sql.Null[T]) *T {
	if !n.Valid {
		return nil
	}
	v := n.V
	return &v
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// ─── Organizers & participants ───────────────────────────────────────────────

// CreateOrganizer inserts an organizer.
func (s *Store) CreateOrganizer(ctx context.Context, o *model.Organizer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizers (id, name, email, category, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		o.ID, o.Name, o.Email, o.Category, o.Description, millis(o.CreatedAt),
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
	var (
		o       model.Organizer
		created int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, name, email, category, description, created_at FROM organizers WHERE id = ?`, id,
	).Scan(&o.ID, &o.Name, &o.Email, &o.Category, &o.Description, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get organizer: %w", err)
	}
	o.CreatedAt = fromMillis(created)
	return &o, nil
}

// CreateParticipant inserts a participant profile.
func (s *Store) CreateParticipant(ctx context.Context, p *model.Participant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (id, first_name, last_name, email, category, org_name, contact_number, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.FirstName, p.LastName, p.Email, p.Category, p.OrgName, p.ContactNumber, millis(p.CreatedAt),
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
	var (
		p       model.Participant
		created int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, first_name, last_name, email, category, org_name, contact_number, created_at
		 FROM participants WHERE id = ?`, id,
	).Scan(&p.ID, &p.FirstName, &p.LastName, &p.Email, &p.Category, &p.OrgName, &p.ContactNumber, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	p.CreatedAt = fromMillis(created)

	rows, err := q.QueryContext(ctx,
		`SELECT id FROM registrations WHERE participant_id = ? ORDER BY created_at ASC, rowid ASC`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("list participant registrations: %w", err)
	}
	defer rows.Close()
	p.Registered = []string{}
	for rows.Next() {
		var regID string
		if err := rows.Scan(&regID); err != nil {
			return nil, fmt.Errorf("scan participant registration: %w", err)
		}
		p.Registered = append(p.Registered, regID)
	}
	return &p, rows.Err()
}

// ─── Events ──────────────────────────────────────────────────────────────────

const eventColumns = `id, organizer_id, name, description, event_type, team_event, eligibility, tags,
	status, registration_fee, registration_limit, registered_count, registration_deadline,
	start_date, end_date, registration_form, merch_name, merch_purchase_limit, created_at`

func scanEvent(row scanner) (*model.Event, error) {
	var (
		e                    model.Event
		tags, form           string
		fee                  sql.Null[float64]
		limit, purchaseLimit sql.Null[int]
		deadline, start, end sql.Null[int64]
		merchName            sql.Null[string]
		created              int64
	)
	err := row.Scan(&e.ID, &e.OrganizerID, &e.Name, &e.Description, &e.EventType, &e.TeamEvent,
		&e.Eligibility, &tags, &e.Status, &fee, &limit, &e.RegisteredCount,
		&deadline, &start, &end, &form, &merchName, &purchaseLimit, &created)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(form), &e.RegistrationForm); err != nil {
		return nil, fmt.Errorf("decode registration form: %w", err)
	}
	e.RegistrationFee = ptr(fee)
	e.RegistrationLimit = ptr(limit)
	e.RegistrationDeadline = fromNullMillis(deadline)
	e.StartDate = fromNullMillis(start)
	e.EndDate = fromNullMillis(end)
	e.CreatedAt = fromMillis(created)
	if merchName.Valid {
		e.Merchandise = &model.Merchandise{
			Item:                        model.MerchandiseItem{Name: merchName.V},
			PurchaseLimitPerParticipant: ptr(purchaseLimit),
		}
	}
	return &e, nil
}

func loadVariants(ctx context.Context, q querier, e *model.Event) error {
	if e.Merchandise == nil {
		return nil
	}
	rows, err := q.QueryContext(ctx,
		`SELECT size, color, stock FROM merch_variants WHERE event_id = ? ORDER BY position ASC`, e.ID,
	)
	if err != nil {
		return fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()
	var variants []model.Variant
	for rows.Next() {
		var v model.Variant
		if err := rows.Scan(&v.Size, &v.Color, &v.Stock); err != nil {
			return fmt.Errorf("scan variant: %w", err)
		}
		variants = append(variants, v)
	}
	e.Merchandise.Item.Variants = variants
	return rows.Err()
}

func getEvent(ctx context.Context, q querier, id string) (*model.Event, error) {
	e, err := scanEvent(q.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
		merchName     sql.NullString
		purchaseLimit sql.NullInt64
	)
	if e.Merchandise != nil {
		merchName = sql.NullString{String: e.Merchandise.Item.Name, Valid: true}
		purchaseLimit = nullInt(e.Merchandise.PurchaseLimitPerParticipant)
	}
	return []any{
		e.OrganizerID, e.Name, e.Description, string(e.EventType), e.TeamEvent, e.Eligibility, string(tags),
		string(e.Status), nullFloat(e.RegistrationFee), nullInt(e.RegistrationLimit), nullMillis(e.RegistrationDeadline),
		nullMillis(e.StartDate), nullMillis(e.EndDate), string(form), merchName, purchaseLimit,
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
		tx := rtx.(*liteTx).tx
		all := append([]any{e.ID}, args...)
		all = append(all, e.RegisteredCount, millis(e.CreatedAt))
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, organizer_id, name, description, event_type, team_event, eligibility, tags,
				status, registration_fee, registration_limit, registration_deadline,
				start_date, end_date, registration_form, merch_name, merch_purchase_limit,
				registered_count, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			all...,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", mapErr(err))
		}
		if e.Merchandise != nil {
			return rtx.ReplaceVariants(ctx, e.ID, e.Merchandise.Item.Variants)
		}
		return nil
	})
}

// GetEvent returns a single event or ErrNotFound.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return getEvent(ctx, s.db, id)
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, f repository.EventFilter) ([]model.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.OrganizerID != "" {
		where = append(where, "organizer_id = ?")
		args = append(args, f.OrganizerID)
	}
	if f.ExcludeDraft {
		where = append(where, "status <> ?")
		args = append(args, string(model.StatusDraft))
	}
	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	events, err := s.collectEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// Variants are loaded after the cursor is closed: the single connection
	// cannot serve a second query while rows are still open.
	for i := range events {
		if err := loadVariants(ctx, s.db, &events[i]); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (s *Store) collectEvents(ctx context.Context, query string, args ...any) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

// ─── Teams ───────────────────────────────────────────────────────────────────

const teamColumns = `id, event_id, name, capacity, current_length, code, leader_id, created_at`

func scanTeam(row scanner) (*model.Team, error) {
	var (
		t       model.Team
		created int64
	)
	if err := row.Scan(&t.ID, &t.EventID, &t.Name, &t.Capacity, &t.CurrentLength, &t.Code, &t.LeaderID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan team: %w", mapErr(err))
	}
	t.CreatedAt = fromMillis(created)
	return &t, nil
}

// GetTeam returns a team or ErrNotFound.
func (s *Store) GetTeam(ctx context.Context, id string) (*model.Team, error) {
	return scanTeam(s.db.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = ?`, id))
}

// ─── Registrations ───────────────────────────────────────────────────────────

const registrationColumns = `id, event_id, participant_id, team_id, event_type, ticket_id, attended, status,
	form_response, merch_name, merch_size, merch_color, merch_stock, created_at`

func scanRegistration(row scanner) (*model.Registration, error) {
	var (
		r                    model.Registration
		teamID, form         sql.Null[string]
		mName, mSize, mColor sql.Null[string]
		mStock               sql.Null[int]
		created              int64
	)
	err := row.Scan(&r.ID, &r.EventID, &r.ParticipantID, &teamID, &r.EventType, &r.TicketID, &r.Attended,
		&r.Status, &form, &mName, &mSize, &mColor, &mStock, &created)
	if err != nil {
		return nil, err
	}
	r.TeamID = teamID.V
	r.CreatedAt = fromMillis(created)
	if form.Valid && form.V != "" {
		if err := json.Unmarshal([]byte(form.V), &r.FormResponse); err != nil {
			return nil, fmt.Errorf("decode form response: %w", err)
		}
	}
	if mName.Valid {
		r.Merchandise = &model.MerchandiseSnapshot{
			Name:           mName.V,
			Size:           mSize.V,
			Color:          mColor.V,
			RemainingStock: mStock.V,
		}
	}
	return &r, nil
}

func getRegistration(ctx context.Context, q querier, where string, args ...any) (*model.Registration, error) {
	r, err := scanRegistration(q.QueryRowContext(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get registration: %w", err)
	}
	return r, nil
}

func listRegistrations(ctx context.Context, q querier, where string, args ...any) ([]model.Registration, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE `+where+` ORDER BY created_at ASC, rowid ASC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()
	var regs []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, *r)
	}
	return regs, rows.Err()
}

// GetRegistration returns a registration or ErrNotFound.
func (s *Store) GetRegistration(ctx context.Context, id string) (*model.Registration, error) {
	return getRegistration(ctx, s.db, `id = ?`, id)
}

// GetRegistrationByTicket finds the registration holding ticketID for an event.
func (s *Store) GetRegistrationByTicket(ctx context.Context, eventID, ticketID string) (*model.Registration, error) {
	return getRegistration(ctx, s.db, `event_id = ? AND ticket_id = ?`, eventID, ticketID)
}

// FindRegistration returns the participant's first registration for an event.
func (s *Store) FindRegistration(ctx context.Context, eventID, participantID string) (*model.Registration, error) {
	return getRegistration(ctx, s.db,
		`event_id = ? AND participant_id = ? ORDER BY created_at ASC, rowid ASC LIMIT 1`, eventID, participantID)
}

// ListRegistrationsByEvent returns all registrations for an event.
func (s *Store) ListRegistrationsByEvent(ctx context.Context, eventID string) ([]model.Registration, error) {
	return listRegistrations(ctx, s.db, `event_id = ?`, eventID)
}

// ListRegistrationsByParticipant returns all registrations of a participant.
func (s *Store) ListRegistrationsByParticipant(ctx context.Context, participantID string) ([]model.Registration, error) {
	return listRegistrations(ctx, s.db, `participant_id = ?`, participantID)
}

// ListTeamRegistrations returns the registrations that belong to a team.
func (s *Store) ListTeamRegistrations(ctx context.Context, teamID string) ([]model.Registration, error) {
	return listRegistrations(ctx, s.db, `team_id = ?`, teamID)
}

// CountRegistrationsByEvent counts the registrations of an event.
func (s *Store) CountRegistrationsByEvent(ctx context.Context, eventID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM registrations WHERE event_id = ?`, eventID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return n, nil
}

// SetAttended toggles the attended flag of one registration.
func (s *Store) SetAttended(ctx context.Context, registrationID string, attended bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE registrations SET attended = ? WHERE id = ?`, attended, registrationID)
	if err != nil {
		return fmt.Errorf("set attended: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set attended: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
