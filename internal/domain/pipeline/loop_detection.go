package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
	apperrors "github.com/ngoclaw/llm-interactive-proxy/pkg/errors"
)

const bufferKey = "pipeline.loop.text_buffer"

// ToolLoopRegistry tracks structurally identical tool invocations per
// session so the tool-call loop detector can count repeats across calls
// within a TTL window (spec.md §4.9.1). One registry is shared across all
// requests for a process; sessions are independent of each other.
type ToolLoopRegistry struct {
	mu       sync.Mutex
	sessions map[string]*toolLoopState
}

type toolLoopState struct {
	counts map[string][]time.Time
	warned map[string]bool
}

// NewToolLoopRegistry constructs an empty registry.
func NewToolLoopRegistry() *ToolLoopRegistry {
	return &ToolLoopRegistry{sessions: map[string]*toolLoopState{}}
}

func (r *ToolLoopRegistry) stateFor(sessionID string) *toolLoopState {
	st, ok := r.sessions[sessionID]
	if !ok {
		st = &toolLoopState{counts: map[string][]time.Time{}, warned: map[string]bool{}}
		r.sessions[sessionID] = st
	}
	return st
}

// recordAndCount appends a timestamp for (sessionID, signature), purges
// entries older than ttl, and returns the count within the window plus
// whether this signature already produced one warning.
func (r *ToolLoopRegistry) recordAndCount(sessionID, signature string, ttl time.Duration) (count int, alreadyWarned bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateFor(sessionID)
	now := time.Now()
	cutoff := now.Add(-ttl)
	stamps := append(st.counts[signature], now)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	st.counts[signature] = kept
	return len(kept), st.warned[signature]
}

func (r *ToolLoopRegistry) markWarned(sessionID, signature string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateFor(sessionID).warned[signature] = true
}

func (r *ToolLoopRegistry) resetSignature(sessionID, signature string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stateFor(sessionID)
	delete(st.counts, signature)
	delete(st.warned, signature)
}

// toolSignature builds a stable key for a tool call: name plus its sorted
// argument keys and values, so equivalent calls collapse to one signature
// regardless of map iteration order.
func toolSignature(name string, args map[string]interface{}) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	sig := name
	for _, k := range keys {
		sig += "|" + k + "=" + toString(args[k])
	}
	return sig
}

func toString(v interface{}) string {
	if v == nil {
		return "<nil>"
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "<non-string>"
}

// LoopDetectionMiddleware is priority 10 (runs first): it aborts a
// response mid-stream when the model repeats itself, either as raw text
// (a rolling pattern match over the accumulated buffer) or as the same
// tool call issued over and over within the TTL window.
//
// Text detection scans, for each candidate pattern length L in
// [MinPatternLength, MaxPatternLength], whether the tail of the buffer is
// RepeatThreshold consecutive copies of the same L-byte block. This is a
// cheap O(maxLen) check per chunk rather than a full suffix-automaton, which
// is enough since only the buffer tail ever needs checking — a repetition
// starting earlier and not reaching the tail isn't actionable yet.
type LoopDetectionMiddleware struct {
	Config           session.LoopConfig
	ToolLoops        *ToolLoopRegistry
	SessionID        string
	MinPatternLength int
	MaxPatternLength int
	RepeatThreshold  int
	ToolLoopTTL      time.Duration
}

// NewLoopDetectionMiddleware applies the documented defaults (min 8, max
// 100 chars, 3 consecutive repeats, 5 minute tool-loop TTL).
func NewLoopDetectionMiddleware(cfg session.LoopConfig, registry *ToolLoopRegistry, sessionID string) *LoopDetectionMiddleware {
	return &LoopDetectionMiddleware{
		Config:           cfg,
		ToolLoops:        registry,
		SessionID:        sessionID,
		MinPatternLength: 8,
		MaxPatternLength: 100,
		RepeatThreshold:  3,
		ToolLoopTTL:      5 * time.Minute,
	}
}

func (m *LoopDetectionMiddleware) Name() string  { return "loop_detection" }
func (m *LoopDetectionMiddleware) Priority() int { return 10 }

func (m *LoopDetectionMiddleware) Process(_ context.Context, item stream.Content, rc *RequestContext) (stream.Content, error) {
	if item.ToolCall != nil && m.Config.ToolLoopDetectionEnabled {
		action, err := m.checkToolCall(item.ToolCall.Name, item.ToolCall.Arguments)
		if err != nil {
			return item, err
		}
		if action == toolActionWarn {
			item.Metadata = withWarning(item.Metadata, "repeated tool call detected")
		}
	}

	if item.Text != "" && m.Config.LoopDetectionEnabled {
		buf, _ := rc.Get(bufferKey)
		text, _ := buf.(string)
		text += item.Text
		if m.MaxPatternLength > 0 && len(text) > m.MaxPatternLength*m.RepeatThreshold*2 {
			text = text[len(text)-m.MaxPatternLength*m.RepeatThreshold*2:]
		}
		rc.Set(bufferKey, text)

		if detectRepeat(text, m.MinPatternLength, m.MaxPatternLength, m.RepeatThreshold) {
			return item, apperrors.NewLoopDetectionError("response abandoned: repeating pattern detected")
		}
	}

	return item, nil
}

type toolAction int

const (
	toolActionNone toolAction = iota
	toolActionWarn
	toolActionBreak
)

func (m *LoopDetectionMiddleware) checkToolCall(name string, args map[string]interface{}) (toolAction, error) {
	if m.ToolLoops == nil {
		return toolActionNone, nil
	}
	sig := toolSignature(name, args)
	ttl := m.ToolLoopTTL
	if m.Config.ToolLoopTTLSeconds > 0 {
		ttl = time.Duration(m.Config.ToolLoopTTLSeconds) * time.Second
	}
	count, warned := m.ToolLoops.recordAndCount(m.SessionID, sig, ttl)

	threshold := m.Config.ToolLoopMaxRepeats
	if threshold <= 0 {
		threshold = 4
	}

	switch m.Config.ToolLoopMode {
	case session.ToolLoopBreak:
		if count >= threshold {
			return toolActionBreak, apperrors.NewLoopDetectionError("tool call loop detected: " + name)
		}
	case session.ToolLoopChanceThenBreak:
		if count >= threshold {
			if !warned {
				m.ToolLoops.markWarned(m.SessionID, sig)
				return toolActionWarn, nil
			}
			return toolActionBreak, apperrors.NewLoopDetectionError("tool call loop detected after warning: " + name)
		}
	case session.ToolLoopWarn:
		if count >= threshold && !warned {
			m.ToolLoops.markWarned(m.SessionID, sig)
			return toolActionWarn, nil
		}
	}
	return toolActionNone, nil
}

// detectRepeat reports whether text ends with threshold consecutive
// copies of some block length L in [minLen, maxLen].
func detectRepeat(text string, minLen, maxLen, threshold int) bool {
	if threshold < 2 {
		return false
	}
	n := len(text)
	for l := minLen; l <= maxLen; l++ {
		span := l * threshold
		if span > n {
			break
		}
		tail := text[n-span:]
		block := tail[:l]
		repeated := true
		for i := 1; i < threshold; i++ {
			if tail[i*l:(i+1)*l] != block {
				repeated = false
				break
			}
		}
		if repeated && len(trimSpaceCount(block)) > 0 {
			return true
		}
	}
	return false
}

// trimSpaceCount is a tiny helper avoiding strings.TrimSpace import churn
// across the file; a pattern of pure whitespace shouldn't trip detection.
func trimSpaceCount(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceByte(s[start]) {
		start++
	}
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func withWarning(meta map[string]interface{}, msg string) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range meta {
		out[k] = v
	}
	out["loop_warning"] = msg
	return out
}
