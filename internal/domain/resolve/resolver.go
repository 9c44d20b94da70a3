// Package resolve extracts or generates a stable session id from request
// context (C13).
package resolve

import (
	"net/http"

	"github.com/google/uuid"
)

// Request is the slice of the incoming HTTP request the resolver needs.
// Kept narrow so this package has no gin/net-http framework dependency
// beyond the stdlib *http.Request it is handed.
type Request struct {
	// SessionID is the session_id field on the canonical ChatRequest, or
	// its extra["session_id"] fallback — highest priority.
	SessionID string
	Header    http.Header
	Cookies   []*http.Cookie
}

// Resolver resolves a stable session id with priority:
// (1) SessionID field → (2) X-Session-Id header → (3) session_id cookie
// → (4) a freshly generated "<prefix>-<random>" id.
type Resolver struct {
	prefix string
}

// New constructs a resolver; generated ids look like "<prefix>-<hex>".
func New(prefix string) *Resolver {
	if prefix == "" {
		prefix = "proxy"
	}
	return &Resolver{prefix: prefix}
}

// Resolve returns the session id and whether it was freshly generated.
// Generated ids are never reused: each call that falls through to
// generation mints a new random id, so cross-request leakage via a stale
// generated id is impossible by construction.
func (r *Resolver) Resolve(req Request) (id string, generated bool) {
	if req.SessionID != "" {
		return req.SessionID, false
	}
	if h := req.Header.Get("X-Session-Id"); h != "" {
		return h, false
	}
	for _, c := range req.Cookies {
		if c.Name == "session_id" && c.Value != "" {
			return c.Value, false
		}
	}
	return r.prefix + "-" + uuid.NewString(), true
}
