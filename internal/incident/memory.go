package incident

import (
	"context"
	"sync"
)

const defaultMemoryCapacity = 1000

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the most recent incidents in a fixed-size ring. Older
// incidents are overwritten once the ring is full.
type MemoryStore struct {
	mu    sync.Mutex
	ring  []Incident
	next  int
	count int
}

// NewMemoryStore returns a ring holding up to capacity incidents. A
// non-positive capacity selects 1000.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{ring: make([]Incident, capacity)}
}

// Record implements [Store].
func (m *MemoryStore) Record(_ context.Context, inc Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ring[m.next] = inc
	m.next = (m.next + 1) % len(m.ring)
	if m.count < len(m.ring) {
		m.count++
	}
	return nil
}

// Recent implements [Store].
func (m *MemoryStore) Recent(_ context.Context, limit int) ([]Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := min(clampLimit(limit), m.count)
	out := make([]Incident, 0, n)
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		out = append(out, m.ring[idx])
	}
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *MemoryStore) Close() error { return nil }
