package incident

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const ddlSQLite = `
CREATE TABLE IF NOT EXISTS safety_incidents (
    id           TEXT     PRIMARY KEY,
    session_id   TEXT     NOT NULL,
    participant  TEXT     NOT NULL DEFAULT '',
    phrase       TEXT     NOT NULL DEFAULT '',
    created_at   INTEGER  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_safety_incidents_created_at
    ON safety_incidents (created_at);
`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore writes incidents to a local SQLite file. Timestamps are stored
// as Unix microseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("incident sqlite: empty path")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("incident sqlite: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("incident sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddlSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("incident sqlite: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Record implements [Store].
func (s *SQLiteStore) Record(ctx context.Context, inc Incident) error {
	const q = `
		INSERT OR IGNORE INTO safety_incidents (id, session_id, participant, phrase, created_at)
		VALUES (?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, q,
		inc.ID.String(),
		inc.SessionID,
		inc.Participant,
		inc.Phrase,
		inc.CreatedAt.UnixMicro(),
	); err != nil {
		return fmt.Errorf("incident sqlite: record: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Incident, error) {
	const q = `
		SELECT id, session_id, participant, phrase, created_at
		FROM   safety_incidents
		ORDER  BY created_at DESC, rowid DESC
		LIMIT  ?`

	rows, err := s.db.QueryContext(ctx, q, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("incident sqlite: recent: %w", err)
	}
	defer rows.Close()

	var incs []Incident
	for rows.Next() {
		var (
			inc     Incident
			id      string
			created int64
		)
		if err := rows.Scan(&id, &inc.SessionID, &inc.Participant, &inc.Phrase, &created); err != nil {
			return nil, fmt.Errorf("incident sqlite: scan: %w", err)
		}
		if inc.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("incident sqlite: parse id %q: %w", id, err)
		}
		inc.CreatedAt = time.UnixMicro(created).UTC()
		incs = append(incs, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("incident sqlite: rows: %w", err)
	}
	return incs, nil
}

// Ping implements [Store].
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements [Store].
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
