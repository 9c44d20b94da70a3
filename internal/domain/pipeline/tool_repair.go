package pipeline

import (
	"context"
	"strings"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
)

// ToolRepairMiddleware is priority 30: an optional, config-gated repair
// pass for truncated JSON produced right at end-of-stream (spec.md
// §4.9.3) — a provider cutting off mid-object leaves an unparsable tool
// call argument blob or a dangling assistant message; this middleware
// closes it up rather than surfacing a parse error downstream.
type ToolRepairMiddleware struct {
	Enabled bool
}

// NewToolRepairMiddleware constructs the middleware; pass enabled per the
// session/app config gate ("tool_call_repair_enabled").
func NewToolRepairMiddleware(enabled bool) *ToolRepairMiddleware {
	return &ToolRepairMiddleware{Enabled: enabled}
}

func (m *ToolRepairMiddleware) Name() string  { return "tool_repair" }
func (m *ToolRepairMiddleware) Priority() int { return 30 }

func (m *ToolRepairMiddleware) Process(_ context.Context, item stream.Content, rc *RequestContext) (stream.Content, error) {
	if !m.Enabled {
		return item, nil
	}

	if item.Text != "" {
		buf, _ := rc.Get(repairBufferKey)
		text, _ := buf.(string)
		text += item.Text
		rc.Set(repairBufferKey, text)
	}

	if item.ToolCall != nil && item.ToolCall.Arguments != nil {
		for k, v := range item.ToolCall.Arguments {
			if s, ok := v.(string); ok {
				item.ToolCall.Arguments[k] = repairJSONFragment(s)
			}
		}
	}

	if item.IsDone {
		buf, _ := rc.Get(repairBufferKey)
		if text, ok := buf.(string); ok && text != "" {
			repaired := repairJSONFragment(text)
			if len(repaired) > len(text) {
				item.Text += repaired[len(text):]
			}
		}
	}

	return item, nil
}

const repairBufferKey = "pipeline.repair.buffer"

// repairJSONFragment closes unmatched braces/brackets and completes a
// dangling string literal in a (possibly truncated) JSON fragment. It is
// a best-effort textual repair, not a parser: it tracks bracket depth and
// in-string state while walking the fragment once, then appends whatever
// closers are needed to balance what it saw.
func repairJSONFragment(s string) string {
	if s == "" {
		return s
	}
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}
