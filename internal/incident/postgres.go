package incident

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPostgres = `
CREATE TABLE IF NOT EXISTS safety_incidents (
    seq          BIGSERIAL    PRIMARY KEY,
    id           TEXT         NOT NULL UNIQUE,
    session_id   TEXT         NOT NULL,
    participant  TEXT         NOT NULL DEFAULT '',
    phrase       TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_safety_incidents_created_at
    ON safety_incidents (created_at);

CREATE INDEX IF NOT EXISTS idx_safety_incidents_session_id
    ON safety_incidents (session_id);
`

var _ Store = (*PostgresStore)(nil)

// PostgresStore writes incidents to the safety_incidents table.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection and runs
// [MigratePostgres].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("incident postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("incident postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("incident postgres: ping: %w", err)
	}
	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

// MigratePostgres creates the incident schema. It is idempotent.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlPostgres); err != nil {
		return fmt.Errorf("incident postgres: migrate: %w", err)
	}
	return nil
}

// Record implements [Store].
func (s *PostgresStore) Record(ctx context.Context, inc Incident) error {
	const q = `
		INSERT INTO safety_incidents (id, session_id, participant, phrase, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.pool.Exec(ctx, q,
		inc.ID.String(),
		inc.SessionID,
		inc.Participant,
		inc.Phrase,
		inc.CreatedAt,
	); err != nil {
		return fmt.Errorf("incident postgres: record: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Incident, error) {
	const q = `
		SELECT id, session_id, participant, phrase, created_at
		FROM   safety_incidents
		ORDER  BY created_at DESC, seq DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("incident postgres: recent: %w", err)
	}
	incs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Incident, error) {
		var (
			inc Incident
			id  string
		)
		if err := row.Scan(&id, &inc.SessionID, &inc.Participant, &inc.Phrase, &inc.CreatedAt); err != nil {
			return Incident{}, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return Incident{}, fmt.Errorf("parse id %q: %w", id, err)
		}
		inc.ID = parsed
		inc.CreatedAt = inc.CreatedAt.UTC()
		return inc, nil
	})
	if err != nil {
		return nil, fmt.Errorf("incident postgres: scan: %w", err)
	}
	return incs, nil
}

// Ping implements [Store].
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
