package attendance

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Dialects understood by Repository.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Repository persists the tables in a SQL database (Postgres via pgx or
// SQLite via go-sqlite3).
type Repository struct {
	db      *sql.DB
	dialect string
}

// NewRepository creates a repo. Call Migrate before use.
func NewRepository(db *sql.DB, dialect string) *Repository {
	return &Repository{db: db, dialect: dialect}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS attendance_events (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	service    TEXT NOT NULL,
	check_date TEXT NOT NULL,
	check_time TEXT NOT NULL,
	type       TEXT NOT NULL,
	status     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS lateness_events (
	seq              BIGSERIAL PRIMARY KEY,
	event_id         TEXT NOT NULL REFERENCES attendance_events(id),
	name             TEXT NOT NULL,
	service          TEXT NOT NULL,
	check_date       TEXT NOT NULL,
	check_time       TEXT NOT NULL,
	official_time    TEXT NOT NULL,
	type             TEXT NOT NULL,
	lateness_minutes INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance_events(check_date);
CREATE INDEX IF NOT EXISTS idx_lateness_date ON lateness_events(check_date);
`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS attendance_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	service    TEXT NOT NULL,
	check_date TEXT NOT NULL,
	check_time TEXT NOT NULL,
	type       TEXT NOT NULL,
	status     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS lateness_events (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id         TEXT NOT NULL REFERENCES attendance_events(id),
	name             TEXT NOT NULL,
	service          TEXT NOT NULL,
	check_date       TEXT NOT NULL,
	check_time       TEXT NOT NULL,
	official_time    TEXT NOT NULL,
	type             TEXT NOT NULL,
	lateness_minutes INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance_events(check_date);
CREATE INDEX IF NOT EXISTS idx_lateness_date ON lateness_events(check_date);
`

// Migrate creates the tables if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	schema := postgresSchema
	if r.dialect == DialectSQLite {
		schema = sqliteSchema
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// AppendCheck inserts the attendance row and its lateness row in one transaction.
func (r *Repository) AppendCheck(ctx context.Context, event AttendanceEvent, late *LatenessEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, r.bind(`
		INSERT INTO attendance_events (id, name, service, check_date, check_time, type, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), id, event.Name, event.Service, event.Date, event.Time, string(event.Type), event.Status)
	if err != nil {
		return fmt.Errorf("%w: insert attendance: %v", ErrStoreUnavailable, err)
	}

	if late != nil {
		_, err = tx.ExecContext(ctx, r.bind(`
			INSERT INTO lateness_events (event_id, name, service, check_date, check_time, official_time, type, lateness_minutes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), id, late.Name, late.Service, late.Date, late.CheckTime, late.OfficialTime, string(late.Type), late.LatenessMinutes)
		if err != nil {
			return fmt.Errorf("%w: insert lateness: %v", ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// LoadAttendance returns every attendance row in insertion order.
func (r *Repository) LoadAttendance(ctx context.Context) ([]AttendanceEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, service, check_date, check_time, type, status
		FROM attendance_events
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var res []AttendanceEvent
	for rows.Next() {
		var evt AttendanceEvent
		var typ string
		if err := rows.Scan(&evt.Name, &evt.Service, &evt.Date, &evt.Time, &typ, &evt.Status); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		evt.Type = EventType(typ)
		res = append(res, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res, nil
}

// LoadLateness returns every lateness row in insertion order.
func (r *Repository) LoadLateness(ctx context.Context) ([]LatenessEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, service, check_date, check_time, official_time, type, lateness_minutes
		FROM lateness_events
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var res []LatenessEvent
	for rows.Next() {
		var evt LatenessEvent
		var typ string
		if err := rows.Scan(&evt.Name, &evt.Service, &evt.Date, &evt.CheckTime, &evt.OfficialTime, &typ, &evt.LatenessMinutes); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		evt.Type = EventType(typ)
		res = append(res, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return res, nil
}

// bind rewrites ? placeholders to $n for Postgres.
func (r *Repository) bind(query string) string {
	if r.dialect == DialectSQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

func itoa(i int) string { return fmt.Sprintf("%d", i) }
