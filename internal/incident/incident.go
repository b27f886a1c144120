// Package incident records safety escalations in an audit log so that
// counsellors can follow up on crisis-flagged sessions.
//
// An [Incident] carries the session, the participant and the crisis phrase
// that matched. It never carries the message text itself.
//
// Three [Store] backends are available: an in-memory ring ([MemoryStore]),
// PostgreSQL via pgx ([PostgresStore]) and a local SQLite file
// ([SQLiteStore]). [Open] selects one from configuration. Wrap the result in
// a [Guard] so that audit failures never reach the chat path.
package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/serene/internal/config"
)

// DefaultLimit is the number of incidents returned when a caller asks for
// zero or fewer.
const DefaultLimit = 50

// Incident is one crisis escalation.
type Incident struct {
	ID          uuid.UUID `json:"id"`
	SessionID   string    `json:"sessionId"`
	Participant string    `json:"participant"`
	Phrase      string    `json:"phrase"`
	CreatedAt   time.Time `json:"createdAt"`
}

// New returns an Incident with a fresh id, stamped with the current time.
func New(sessionID, participant, phrase string) Incident {
	return Incident{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Participant: participant,
		Phrase:      phrase,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

// Store persists incidents.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Record persists inc.
	Record(ctx context.Context, inc Incident) error

	// Recent returns up to limit incidents, most recent first.
	Recent(ctx context.Context, limit int) ([]Incident, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// Open returns the Store selected by cfg.Driver. An empty driver selects the
// in-memory ring.
func Open(ctx context.Context, cfg config.IncidentsConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.IncidentMemory:
		return NewMemoryStore(cfg.MemoryCapacity), nil
	case config.IncidentPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	case config.IncidentSQLite:
		return NewSQLiteStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("incident: unknown driver %q", cfg.Driver)
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
