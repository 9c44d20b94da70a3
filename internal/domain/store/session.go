// Package store holds Session (the mutable handle around an immutable
// session.State snapshot) and the pluggable SessionStore contract (C2).
package store

import (
	"sync"
	"time"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

// InteractionHandler records who produced an interaction's response.
type InteractionHandler string

const (
	HandlerProxy    InteractionHandler = "proxy"
	HandlerBackend  InteractionHandler = "backend"
)

// Interaction is one recorded request/response pair in a session's history.
type Interaction struct {
	Prompt     string
	Handler    InteractionHandler
	Backend    string
	Model      string
	Project    string
	Parameters map[string]any
	Response   string
	Usage      map[string]int
	Timestamp  time.Time
}

// Session is the mutable handle around a session id. Its State is an
// immutable snapshot; mutation means swapping the pointer under mu, never
// editing the snapshot in place.
type Session struct {
	ID           string
	Agent        string
	CreatedAt    time.Time
	LastActiveAt time.Time

	mu      sync.Mutex
	state   *session.State
	history []Interaction
}

// NewSession constructs a session with a default state snapshot.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
		state:        session.Default(),
	}
}

// State returns the current immutable snapshot.
func (s *Session) State() *session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState atomically swaps in a new snapshot and bumps LastActiveAt.
// LastActiveAt is monotonic: a swap never moves it backwards.
func (s *Session) SetState(next *session.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = next
	now := time.Now()
	if now.After(s.LastActiveAt) {
		s.LastActiveAt = now
	}
}

// SetAgent tags the session with the calling agent identity (e.g. "cline").
func (s *Session) SetAgent(agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Agent = agent
}

// GetAgent reads the tagged agent identity.
func (s *Session) GetAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Agent
}

// AppendInteraction records a completed interaction under the session's own
// lock.
func (s *Session) AppendInteraction(in Interaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, in)
}

// History returns a copy of the recorded interactions.
func (s *Session) History() []Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Interaction, len(s.history))
	copy(out, s.history)
	return out
}
