// Package session keeps the per-conversation state of the chat relay in
// memory: the ordered message log and the turn-policy state of every session
// id.
//
// Sessions are created lazily by [Store.Acquire], which also serialises turns
// on the same id. Idle sessions are evicted after a TTL, and the store is
// bounded by a maximum session count with least-recently-used eviction. A
// session that is currently acquired is never evicted.
package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/serene/internal/observe"
)

const (
	defaultTTL             = 2 * time.Hour
	defaultCleanupInterval = time.Minute
)

// Eviction reasons reported to metrics.
const (
	reasonTTL      = "ttl"
	reasonCapacity = "capacity"
)

// StoreConfig configures a [Store].
type StoreConfig struct {
	// TTL evicts sessions that have been idle for longer. Defaults to 2h.
	TTL time.Duration

	// MaxSessions bounds the number of sessions. Zero means unbounded.
	MaxSessions int

	// CleanupInterval is the period of the eviction sweep in [Store.Run].
	// Defaults to 1m.
	CleanupInterval time.Duration

	// Metrics receives session gauges. Nil disables recording.
	Metrics *observe.Metrics

	// Now overrides the clock. Defaults to [time.Now].
	Now func() time.Time
}

// Store maps session ids to sessions.
//
// All methods are safe for concurrent use.
type Store struct {
	ttl      time.Duration
	max      int
	interval time.Duration
	metrics  *observe.Metrics
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore returns an empty [Store].
func NewStore(cfg StoreConfig) *Store {
	s := &Store{
		ttl:      cfg.TTL,
		max:      cfg.MaxSessions,
		interval: cfg.CleanupInterval,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		sessions: make(map[string]*Session),
	}
	if s.ttl <= 0 {
		s.ttl = defaultTTL
	}
	if s.interval <= 0 {
		s.interval = defaultCleanupInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Acquire returns the session for id, creating it when absent, and locks it
// for one turn. Concurrent turns on the same id run one after another; turns
// on different ids never block each other.
//
// The caller must call release exactly once when the turn is done. Calling
// it again is a no-op. If ctx is cancelled while waiting for the lock,
// Acquire returns ctx.Err().
func (s *Store) Acquire(ctx context.Context, id string) (sess *Session, release func(), err error) {
	sess = s.pin(id)

	select {
	case sess.turn <- struct{}{}:
	case <-ctx.Done():
		s.unpin(sess)
		return nil, nil, ctx.Err()
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			<-sess.turn
			s.unpin(sess)
		})
	}
	return sess, release, nil
}

// pin returns the session for id with its reference count raised so the
// sweep leaves it alone.
func (s *Store) pin(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		sess = newSession(id)
		s.sessions[id] = sess
		if s.metrics != nil {
			s.metrics.ActiveSessions.Add(context.Background(), 1)
		}
	}
	sess.refs++
	sess.lastUsed = s.now()
	if !ok {
		s.evictOverflowLocked()
	}
	return sess
}

func (s *Store) unpin(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.refs--
	sess.lastUsed = s.now()
}

// evictOverflowLocked drops least-recently-used idle sessions until the store
// is within bounds. Pinned sessions are skipped, so the bound is soft while
// many turns are in flight. s.mu must be held.
func (s *Store) evictOverflowLocked() {
	if s.max <= 0 || len(s.sessions) <= s.max {
		return
	}
	idle := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if sess.refs == 0 {
			idle = append(idle, sess)
		}
	}
	slices.SortFunc(idle, func(a, b *Session) int { return a.lastUsed.Compare(b.lastUsed) })

	evicted := 0
	for _, sess := range idle {
		if len(s.sessions) <= s.max {
			break
		}
		delete(s.sessions, sess.id)
		evicted++
	}
	if evicted > 0 {
		slog.Debug("session store: evicted sessions over capacity", "count", evicted, "max", s.max)
		s.recordEviction(reasonCapacity, evicted)
	}
}

// Sweep evicts every idle session unused for longer than the TTL and returns
// how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	evicted := 0
	for id, sess := range s.sessions {
		if sess.refs == 0 && sess.lastUsed.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		s.recordEviction(reasonTTL, evicted)
	}
	return evicted
}

func (s *Store) recordEviction(reason string, n int) {
	if s.metrics != nil {
		s.metrics.RecordEviction(context.Background(), reason, n)
	}
}

// Run sweeps expired sessions every cleanup interval until ctx is done.
// It always returns nil.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("session store: evicted idle sessions", "count", n, "ttl", s.ttl)
			}
		}
	}
}

// Snapshot returns a copy of the session stored under id. It does not wait
// for an in-flight turn and does not refresh the session's idle timer.
func (s *Store) Snapshot(id string) (Snapshot, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// Len returns the number of sessions currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
