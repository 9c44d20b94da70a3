package store

// SessionStore is a concurrent mapping from session id to Session.
// Eviction/TTL policy is pluggable; the core only requires that ids stay
// stable across a single request's lifetime.
type SessionStore interface {
	// Get returns the existing session or constructs one with defaults.
	// Never fails.
	Get(id string) *Session
	// Update atomically replaces the stored session reference, preserving
	// monotonic LastActiveAt (enforced by Session.SetState, not here).
	Update(s *Session)
	// Delete removes a session, reporting whether it existed.
	Delete(id string) bool
	// Len reports the number of tracked sessions (diagnostics only).
	Len() int
}
