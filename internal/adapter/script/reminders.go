package script

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Reminder is a note a script asked to be kept for a point in time.
type Reminder struct {
	ID        int64
	At        time.Time
	Text      string
	CreatedAt time.Time
}

// ReminderStore persists reminders in SQLite.
type ReminderStore struct {
	db *sql.DB
}

// NewReminderStore opens (or creates) the database at dsn and runs the
// schema migration. ":memory:" keeps reminders for the process lifetime.
func NewReminderStore(dsn string) (*ReminderStore, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open reminders db: %w", err)
	}
	// Each pooled connection to :memory: would see its own empty database.
	db.SetMaxOpenConns(1)

	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate reminders db: %w", err)
	}
	return &ReminderStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reminders (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			at         INTEGER NOT NULL,
			text       TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *ReminderStore) Close() error {
	return s.db.Close()
}

// Add stores a reminder and returns its id.
func (s *ReminderStore) Add(ctx context.Context, at time.Time, text string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO reminders (at, text, created_at) VALUES (?, ?, ?)",
		at.Unix(), text, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	return res.LastInsertId()
}

// List returns all reminders ordered by due time.
func (s *ReminderStore) List(ctx context.Context) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, at, text, created_at FROM reminders ORDER BY at, id")
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var (
			r       Reminder
			at      int64
			created string
		)
		if err := rows.Scan(&r.ID, &at, &r.Text, &created); err != nil {
			return nil, err
		}
		r.At = time.Unix(at, 0)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}
