package incident

import (
	"context"
	"log/slog"
	"sync/atomic"
)

var _ Store = (*Guard)(nil)

// Guard wraps a [Store] and makes writes and reads non-fatal. If the
// underlying store fails, the error is logged and swallowed and the guard
// reports itself degraded until the next successful call.
//
// Ping and Close are passed through unchanged so that readiness checks and
// shutdown still see the real state.
//
// All methods are safe for concurrent use.
type Guard struct {
	store    Store
	degraded atomic.Bool
}

// NewGuard returns a [Guard] around store.
func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// Record attempts to persist inc. Failures are logged and swallowed.
func (g *Guard) Record(ctx context.Context, inc Incident) error {
	if err := g.store.Record(ctx, inc); err != nil {
		g.degraded.Store(true)
		slog.Warn("incident guard: Record failed, swallowing error",
			"session_id", inc.SessionID,
			"incident_id", inc.ID,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Recent returns recent incidents, or an empty slice when the store fails.
func (g *Guard) Recent(ctx context.Context, limit int) ([]Incident, error) {
	incs, err := g.store.Recent(ctx, limit)
	if err != nil {
		g.degraded.Store(true)
		slog.Warn("incident guard: Recent failed, returning empty",
			"limit", limit,
			"err", err,
		)
		return []Incident{}, nil
	}
	g.degraded.Store(false)
	if incs == nil {
		incs = []Incident{}
	}
	return incs, nil
}

// Ping passes through to the underlying store.
func (g *Guard) Ping(ctx context.Context) error { return g.store.Ping(ctx) }

// Close passes through to the underlying store.
func (g *Guard) Close() error { return g.store.Close() }

// IsDegraded reports whether the most recent Record or Recent call failed.
func (g *Guard) IsDegraded() bool { return g.degraded.Load() }

// Unwrap returns the underlying store.
func (g *Guard) Unwrap() Store { return g.store }
