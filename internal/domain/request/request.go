// Package request implements the request processor (C11): the fixed
// ten-step orchestration spec.md §4.11 describes, wiring together the
// session store (C2), command dispatcher (C3/C4), redaction (C8),
// failover coordinator (C5), backend dispatch (C7), response middleware
// chain and stream normalizer (C9/C10), wire capture (C12), and session
// resolver (C13) into one call.
//
// This package stays strictly domain-layer: it depends only on other
// internal/domain/* packages and narrow interfaces (CaptureWriter,
// BackendDispatcher) that concrete infrastructure adapters implement, so
// the dependency direction is always infra -> domain, never the reverse.
package request

import (
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/chatmsg"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/failover"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/service"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
)

// ChatRequest is the canonical request shape (spec.md §3's ChatRequest):
// framework-neutral, independent of whichever wire format (OpenAI,
// Anthropic) produced it. Callers (the HTTP handlers) are responsible
// for step 1 of §4.11 — translating their wire format into this shape —
// before calling Processor.Process.
type ChatRequest struct {
	// Model may be bare ("gpt-4") or qualified ("backend:model" /
	// "backend/model"); qualification overrides the session's backend
	// binding for this call only.
	Model       string
	Messages    []chatmsg.Message
	Stream      bool
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Tools       []service.ToolDef
	ToolChoice  interface{}
	// SessionID is the explicit session id carried on the request body
	// (or its extra["session_id"] equivalent); empty means "resolve from
	// transport context" (C13).
	SessionID string
	// Agent tags the calling client ("cline", ...) for synthetic-reply
	// formatting and session bookkeeping.
	Agent string
	Extra map[string]interface{}
}

// ResponseEnvelope is the transport-neutral result of Process: either a
// complete non-streaming reply (Stream is nil) or a live channel of
// normalized content the caller relays as it arrives.
type ResponseEnvelope struct {
	ID           string
	SessionID    string
	Model        string
	Backend      string
	Content      string
	ToolCalls    []service.ToolCallInfo
	FinishReason string
	Usage        Usage
	// CommandOnly marks a synthetic command reply (id "proxy_cmd_processed"):
	// no backend adapter was invoked for this request.
	CommandOnly bool
	// Stream is set instead of Content/ToolCalls/FinishReason when the
	// caller asked for a streaming response; the normalized chunks have
	// already passed through the full C9/C10 middleware chain.
	Stream <-chan stream.Content
}

// Usage mirrors the token accounting a backend adapter reports.
type Usage struct {
	TokensUsed int
}

// CaptureMeta is the bundle of labels one wire-capture record carries
// (spec.md §6's header line), passed to CaptureWriter without this
// package needing to know the concrete Record/Direction shape that lives
// in internal/infrastructure/capture.
type CaptureMeta struct {
	SessionID string
	ClientIP  string
	Agent     string
	Backend   string
	Model     string
	KeyName   string
}

// Direction values a CaptureWriter implementation must recognize; kept
// as plain strings (matching internal/infrastructure/capture.Direction's
// wire values) so this package never imports the infrastructure layer.
const (
	DirectionRequest     = "REQUEST"
	DirectionReply       = "REPLY"
	DirectionReplyStream = "REPLY-STREAM"
)

// CaptureWriter is the narrow capability C12 offers C11: append one
// labeled, best-effort record. Implementations must never block the
// caller or propagate an error — a misconfigured sink is simply a no-op
// (spec.md §5).
type CaptureWriter interface {
	Capture(direction string, meta CaptureMeta, payload []byte)
}

// Identity carries the per-app identity headers spec.md §4.7 calls for
// ("HTTP-Referer", "X-Title") that a backend dispatch should inject.
type Identity struct {
	Referer string
	Title   string
}

// BackendDispatcher builds one failover.Dialer (C7) for a single
// in-flight canonical request. The concrete implementation lives in
// internal/infrastructure/llm (a Registry-backed Dispatcher); Processor
// only ever sees the domain-level failover.Dialer contract it returns.
type BackendDispatcher interface {
	NewDialer(req *service.LLMRequest, stream bool, deltaCh chan<- service.StreamChunk, identity Identity) failover.Dialer
}
