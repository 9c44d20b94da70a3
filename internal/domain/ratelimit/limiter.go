// Package ratelimit implements a per-key sliding-window admission limiter
// (C6), mirroring the semantics of the original service's
// rate_limiter_service.py: a list of usage timestamps per key, purged
// against the window on every check.
package ratelimit

import (
	"sync"
	"time"
)

// Info reports the admission state for a key at the moment of the call.
type Info struct {
	IsLimited bool
	Remaining int
	ResetAt   time.Time
	Limit     int
	Window    time.Duration
}

// keyState is the per-key sliding window plus its configured limit.
type keyState struct {
	mu        sync.Mutex
	stamps    []time.Time
	limit     int
	window    time.Duration
	retryHint time.Time // set by RecordRetryAfter when a provider returns 429
}

// Limiter is a concurrency-safe sliding-window rate limiter. Safe for
// concurrent callers: each key has its own mutex, so unrelated keys never
// contend.
type Limiter struct {
	mu        sync.Mutex
	keys      map[string]*keyState
	defLimit  int
	defWindow time.Duration
}

// New constructs a limiter with a default (limit, window) applied to keys
// that have never had SetLimit called.
func New(defaultLimit int, defaultWindow time.Duration) *Limiter {
	return &Limiter{
		keys:      make(map[string]*keyState),
		defLimit:  defaultLimit,
		defWindow: defaultWindow,
	}
}

func (l *Limiter) state(key string) *keyState {
	l.mu.Lock()
	defer l.mu.Unlock()
	ks, ok := l.keys[key]
	if !ok {
		ks = &keyState{limit: l.defLimit, window: l.defWindow}
		l.keys[key] = ks
	}
	return ks
}

// CheckLimit purges stamps older than now-window and reports admission
// state without recording usage.
func (l *Limiter) CheckLimit(key string) Info {
	ks := l.state(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := time.Now()
	ks.purge(now)

	info := Info{Limit: ks.limit, Window: ks.window}
	if len(ks.stamps) >= ks.limit {
		info.IsLimited = true
		info.ResetAt = ks.stamps[0].Add(ks.window)
		info.Remaining = 0
		return info
	}

	// A prior 429's retry-after still pending takes precedence even if
	// the local window has room — the backend told us it's not ready.
	if !ks.retryHint.IsZero() && now.Before(ks.retryHint) {
		info.IsLimited = true
		info.ResetAt = ks.retryHint
		info.Remaining = 0
		return info
	}

	info.Remaining = ks.limit - len(ks.stamps)
	return info
}

// RecordUsage appends `cost` timestamps; a cost of zero or less counts as 1.
func (l *Limiter) RecordUsage(key string, cost int) {
	if cost <= 0 {
		cost = 1
	}
	ks := l.state(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	now := time.Now()
	ks.purge(now)
	for i := 0; i < cost; i++ {
		ks.stamps = append(ks.stamps, now)
	}
}

// RecordRetryAfter pins the key's reset time to the backend-provided
// retry-after duration, consulted by CheckLimit until it elapses.
func (l *Limiter) RecordRetryAfter(key string, retryAfter time.Duration) {
	ks := l.state(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.retryHint = time.Now().Add(retryAfter)
}

// Reset clears all recorded usage and any pending retry hint for a key.
func (l *Limiter) Reset(key string) {
	ks := l.state(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.stamps = nil
	ks.retryHint = time.Time{}
}

// SetLimit overrides a key's (limit, window), independent of the default.
func (l *Limiter) SetLimit(key string, limit int, window time.Duration) {
	ks := l.state(key)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.limit = limit
	ks.window = window
}

// purge drops stamps older than now-window. Caller holds ks.mu.
func (ks *keyState) purge(now time.Time) {
	cutoff := now.Add(-ks.window)
	i := 0
	for i < len(ks.stamps) && ks.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		ks.stamps = ks.stamps[i:]
	}
}
