package pipeline

import (
	"context"
	"strings"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
	apperrors "github.com/ngoclaw/llm-interactive-proxy/pkg/errors"
)

// EmptyResponseMiddleware is the terminal stage (priority 45) of the
// non-streaming chain: when the accumulated reply is empty/whitespace
// and carries no tool call, it raises EmptyResponseRetryError so the
// request processor (C11) can resubmit once with a recovery prompt
// appended (spec.md §4.10). Streaming chains must not include this
// middleware — retrying a stream already being relayed to the client
// isn't meaningful.
type EmptyResponseMiddleware struct {
	RecoveryPrompt string
}

// NewEmptyResponseMiddleware builds the middleware with the configured
// recovery prompt text appended on retry.
func NewEmptyResponseMiddleware(recoveryPrompt string) *EmptyResponseMiddleware {
	return &EmptyResponseMiddleware{RecoveryPrompt: recoveryPrompt}
}

func (m *EmptyResponseMiddleware) Name() string  { return "empty_response" }
func (m *EmptyResponseMiddleware) Priority() int { return 45 }

func (m *EmptyResponseMiddleware) Process(_ context.Context, item stream.Content, _ *RequestContext) (stream.Content, error) {
	if item.IsDone && !item.IsCancellation && item.ToolCall == nil && strings.TrimSpace(item.Text) == "" {
		return item, &apperrors.EmptyResponseRetryError{RecoveryPrompt: m.RecoveryPrompt}
	}
	return item, nil
}
