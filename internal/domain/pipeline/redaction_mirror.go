package pipeline

import (
	"context"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/redact"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
)

// RedactionMirrorMiddleware is priority 40, the last stage: it scrubs any
// known API key that leaked into the model's own generated text before
// the chunk reaches the client or the wire-capture mirror (spec.md §4.8
// applies redaction to both directions, not just the outbound request).
type RedactionMirrorMiddleware struct {
	Redactor *redact.Redactor
}

// NewRedactionMirrorMiddleware wraps a shared Redactor (the same one used
// for outbound request scrubbing) for use on response chunks.
func NewRedactionMirrorMiddleware(r *redact.Redactor) *RedactionMirrorMiddleware {
	return &RedactionMirrorMiddleware{Redactor: r}
}

func (m *RedactionMirrorMiddleware) Name() string  { return "redaction_mirror" }
func (m *RedactionMirrorMiddleware) Priority() int { return 40 }

func (m *RedactionMirrorMiddleware) Process(_ context.Context, item stream.Content, _ *RequestContext) (stream.Content, error) {
	if m.Redactor == nil || item.Text == "" {
		return item, nil
	}
	item.Text = m.Redactor.RedactText(item.Text)
	return item, nil
}
