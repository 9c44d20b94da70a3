package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/service"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
)

// defaultEditFailureMarkers are the substrings seen in streamed output
// when an editing tool rejects the model's diff (spec.md §4.9.2).
var defaultEditFailureMarkers = []string{"diff_error", "edit_failed", "could not find the string"}

type editState struct {
	pending   int
	expiresAt time.Time
}

// EditPrecisionRegistry holds the per-session "pending" counter spec.md
// §4.9.2 describes: seeing an edit-failure marker in a response bumps the
// counter, and the next request for that session gets temperature/top_p
// tuned down before dispatch. A pending entry is debounced — if the next
// request never arrives within TTL, the entry expires rather than tuning
// an unrelated, much later request (SPEC_FULL.md's supplemented cleanup
// behavior, grounded on original_source's expiry handling).
type EditPrecisionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*editState
	ttl      time.Duration
}

// NewEditPrecisionRegistry builds a registry with the given pending-entry
// TTL; ttl <= 0 means entries never expire.
func NewEditPrecisionRegistry(ttl time.Duration) *EditPrecisionRegistry {
	return &EditPrecisionRegistry{sessions: map[string]*editState{}, ttl: ttl}
}

// MarkPending records one pending tuned request for sessionID.
func (r *EditPrecisionRegistry) MarkPending(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok {
		st = &editState{}
		r.sessions[sessionID] = st
	}
	st.pending++
	if r.ttl > 0 {
		st.expiresAt = time.Now().Add(r.ttl)
	}
}

// ConsumePending reports whether sessionID has a live pending entry, and
// if so decrements it. An expired entry counts as empty and is dropped.
func (r *EditPrecisionRegistry) ConsumePending(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.sessions[sessionID]
	if !ok || st.pending <= 0 {
		return false
	}
	if r.ttl > 0 && time.Now().After(st.expiresAt) {
		delete(r.sessions, sessionID)
		return false
	}
	st.pending--
	if st.pending <= 0 {
		delete(r.sessions, sessionID)
	}
	return true
}

// TuneRequest mutates req's Temperature/top_p extra param when sessionID
// has a pending edit-precision entry, consuming it. It returns whether a
// tune was applied so callers can log it.
func (r *EditPrecisionRegistry) TuneRequest(sessionID string, req *service.LLMRequest, lowTemp, minTopP float64) bool {
	if !r.ConsumePending(sessionID) {
		return false
	}
	req.Temperature = lowTemp
	if req.ExtraParams == nil {
		req.ExtraParams = map[string]interface{}{}
	}
	if existing, ok := req.ExtraParams["top_p"].(float64); !ok || existing < minTopP {
		req.ExtraParams["top_p"] = minTopP
	}
	return true
}

// EditPrecisionMiddleware is priority 20: it watches streamed text for an
// edit-failure marker and arms the registry for the session's next
// request. It never alters the current response.
type EditPrecisionMiddleware struct {
	Registry  *EditPrecisionRegistry
	SessionID string
	Markers   []string
	Enabled   bool
}

// NewEditPrecisionMiddleware applies the documented default marker set.
func NewEditPrecisionMiddleware(registry *EditPrecisionRegistry, sessionID string, enabled bool) *EditPrecisionMiddleware {
	return &EditPrecisionMiddleware{
		Registry:  registry,
		SessionID: sessionID,
		Markers:   defaultEditFailureMarkers,
		Enabled:   enabled,
	}
}

func (m *EditPrecisionMiddleware) Name() string  { return "edit_precision" }
func (m *EditPrecisionMiddleware) Priority() int { return 20 }

func (m *EditPrecisionMiddleware) Process(_ context.Context, item stream.Content, _ *RequestContext) (stream.Content, error) {
	if !m.Enabled || m.Registry == nil || item.Text == "" {
		return item, nil
	}
	lower := strings.ToLower(item.Text)
	for _, marker := range m.Markers {
		if strings.Contains(lower, marker) {
			m.Registry.MarkPending(m.SessionID)
			break
		}
	}
	return item, nil
}
