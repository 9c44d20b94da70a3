// Package stream implements the stream normalizer (C10): a uniform async
// iterator over upstream chunks, decoupled from whatever framing the
// backend adapter used (SSE, provider-specific JSON lines, …). It never
// buffers the whole response — each item is handed to the caller as soon
// as it is produced.
package stream

import (
	"context"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/service"
)

// Content is one normalized item in a response stream (spec.md §3's
// StreamingContent). Exactly one of Content/ToolCall is meaningful per
// item; IsDone marks the terminal item.
type Content struct {
	Text           string
	ToolCall       *service.ToolCallInfo
	Metadata       map[string]interface{}
	IsDone         bool
	IsCancellation bool
	FinishReason   string
}

// Source is anything that can be drained into a channel of upstream
// chunks — typically a backend adapter's GenerateStream deltaCh.
type Source <-chan service.StreamChunk

// Normalize converts a raw upstream chunk channel into a channel of
// Content items. It closes the output channel once the source closes or
// ctx is cancelled, and never blocks trying to push past a cancelled
// context (so a client disconnect unwinds promptly, per spec.md §5's
// cancellation-propagation requirement).
func Normalize(ctx context.Context, src Source) <-chan Content {
	out := make(chan Content)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				select {
				case out <- Content{IsCancellation: true, IsDone: true}:
				default:
				}
				return
			case chunk, ok := <-src:
				if !ok {
					return
				}
				item := fromChunk(chunk)
				select {
				case out <- item:
				case <-ctx.Done():
					return
				}
				if item.IsDone {
					return
				}
			}
		}
	}()
	return out
}

func fromChunk(c service.StreamChunk) Content {
	item := Content{
		Text:         c.DeltaText,
		ToolCall:     c.DeltaToolCall,
		FinishReason: c.FinishReason,
	}
	if c.FinishReason != "" {
		item.IsDone = true
	}
	return item
}

// Single wraps a one-shot (non-streaming) response as a single-item
// stream, so the middleware chain in internal/domain/pipeline can treat
// streaming and non-streaming replies uniformly (spec.md §4.9: "The chain
// is shared between streaming and non-streaming paths; non-streaming
// responses are treated as single-item streams internally").
func Single(text string, toolCalls []service.ToolCallInfo) <-chan Content {
	out := make(chan Content, len(toolCalls)+1)
	for i := range toolCalls {
		tc := toolCalls[i]
		out <- Content{ToolCall: &tc}
	}
	out <- Content{Text: text, IsDone: true, FinishReason: "stop"}
	close(out)
	return out
}
