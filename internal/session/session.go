package session

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/serene/internal/policy"
)

// Session is the state of one conversation.
//
// Mutations are made by the holder of the turn lock obtained through
// [Store.Acquire]. Reads through [Session.Messages], [Session.State] and
// [Session.Snapshot] are safe at any time.
type Session struct {
	id string

	// turn is a one-slot semaphore held for the duration of a turn.
	turn chan struct{}

	mu       sync.RWMutex
	owner    string
	messages []policy.Message
	state    policy.State

	// Guarded by Store.mu.
	refs     int
	lastUsed time.Time
}

func newSession(id string) *Session {
	return &Session{
		id:    id,
		turn:  make(chan struct{}, 1),
		state: policy.Initial(),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Claim records participant as the owner of the session. Only the first
// non-empty participant is kept.
func (s *Session) Claim(participant string) {
	if participant == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == "" {
		s.owner = participant
	}
}

// Owner returns the participant that first claimed the session, or "".
func (s *Session) Owner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// Append adds one entry to the message log.
func (s *Session) Append(role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, policy.Message{Role: role, Text: text})
}

// Commit appends a completed turn (user message, then assistant reply) and
// stores the next policy state in one step.
func (s *Session) Commit(userText, reply string, next policy.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages,
		policy.Message{Role: policy.RoleUser, Text: userText},
		policy.Message{Role: policy.RoleAssistant, Text: reply},
	)
	s.state = next
}

// ResetQuestionCount returns the session to Normal{0}.
func (s *Session) ResetQuestionCount() {
	s.SetState(policy.Initial())
}

// SetState replaces the turn-policy state.
func (s *Session) SetState(st policy.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// State returns the turn-policy state.
func (s *Session) State() policy.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Messages returns a copy of the message log.
func (s *Session) Messages() []policy.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Len returns the number of logged messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID       string
	Owner    string
	Messages []policy.Message
	State    policy.State
}

// Snapshot returns a copy of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := slices.Clone(s.messages)
	if msgs == nil {
		msgs = []policy.Message{}
	}
	return Snapshot{ID: s.id, Owner: s.owner, Messages: msgs, State: s.state}
}
