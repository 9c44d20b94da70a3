package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/request"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/resolve"
	anthropicwire "github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/llm/anthropic"
	"github.com/ngoclaw/llm-interactive-proxy/internal/interfaces/anthropicapi"
	apperrors "github.com/ngoclaw/llm-interactive-proxy/pkg/errors"
)

// AnthropicHandler implements the Anthropic Messages compatible surface
// (spec.md §6): POST /anthropic/v1/messages, translating to/from the
// canonical request.ChatRequest through the pure anthropicapi converter
// and driving everything else through Processor (C11), same as
// OpenAIHandler does for the OpenAI-compatible surface.
type AnthropicHandler struct {
	Processor *request.Processor
	Logger    *zap.Logger
	Resolver  *resolve.Resolver
}

// NewAnthropicHandler constructs the Anthropic-compatible handler.
func NewAnthropicHandler(proc *request.Processor, resolver *resolve.Resolver, logger *zap.Logger) *AnthropicHandler {
	return &AnthropicHandler{Processor: proc, Resolver: resolver, Logger: logger}
}

// Messages handles POST /anthropic/v1/messages.
func (h *AnthropicHandler) Messages(c *gin.Context) {
	var wire anthropicwire.Request
	if err := c.ShouldBindJSON(&wire); err != nil {
		writeAnthropicError(c, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	sessionID := c.GetHeader("X-Session-ID")
	canonical := anthropicapi.ToCanonical(&wire, sessionID)
	canonical.Agent = c.GetHeader("X-Agent")

	in := request.Incoming{
		Resolve: resolve.Request{
			SessionID: sessionID,
			Header:    c.Request.Header,
			Cookies:   c.Request.Cookies(),
		},
		ClientIP: c.ClientIP(),
	}

	envelope, err := h.Processor.Process(c.Request.Context(), in, canonical)
	if err != nil {
		writeAnthropicProcessError(c, err)
		return
	}

	if envelope.Stream != nil {
		h.streamResponse(c, wire.Model, envelope)
		return
	}

	resp := anthropicapi.FromCanonical(wire.Model, envelope)
	if resp.ID == "" {
		resp.ID = fmt.Sprintf("msg_%d", time.Now().UnixNano())
	}
	c.JSON(http.StatusOK, resp)
}

// streamResponse relays envelope.Stream as Anthropic's typed SSE event
// sequence: message_start, one text content block (content_block_start,
// a content_block_delta per text piece, content_block_stop), message_delta
// carrying stop_reason/usage, message_stop. Tool-call items are not relayed.
func (h *AnthropicHandler) streamResponse(c *gin.Context, model string, envelope *request.ResponseEnvelope) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	msgID := fmt.Sprintf("msg_%d", time.Now().UnixNano())

	writeEvent := func(eventType string, v interface{}) {
		data, err := json.Marshal(v)
		if err != nil {
			h.Logger.Error("marshal anthropic SSE event failed", zap.Error(err))
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, data)
		c.Writer.Flush()
	}

	writeEvent("message_start", anthropicwire.StreamEvent{
		Type: "message_start",
		Message: &anthropicwire.Response{
			ID: msgID, Type: "message", Role: "assistant", Model: model,
			Content: []anthropicwire.ContentBlock{},
		},
	})
	writeEvent("content_block_start", anthropicwire.StreamEvent{
		Type: "content_block_start", Index: 0,
		ContentBlock: &anthropicwire.ContentBlock{Type: "text", Text: ""},
	})

	stopReason := "end_turn"
	for item := range envelope.Stream {
		if item.IsDone {
			if item.FinishReason == "tool_calls" {
				stopReason = "tool_use"
			} else if item.FinishReason == "length" {
				stopReason = "max_tokens"
			}
			if item.Text != "" {
				writeEvent("content_block_delta", anthropicwire.StreamEvent{
					Type: "content_block_delta", Index: 0,
					Delta: &anthropicwire.DeltaBlock{Type: "text_delta", Text: item.Text},
				})
			}
			break
		}
		if item.Text == "" {
			continue
		}
		writeEvent("content_block_delta", anthropicwire.StreamEvent{
			Type: "content_block_delta", Index: 0,
			Delta: &anthropicwire.DeltaBlock{Type: "text_delta", Text: item.Text},
		})
	}

	writeEvent("content_block_stop", anthropicwire.StreamEvent{Type: "content_block_stop", Index: 0})
	writeEvent("message_delta", anthropicwire.StreamEvent{
		Type:  "message_delta",
		Delta: &anthropicwire.DeltaBlock{StopReason: stopReason},
		Usage: &anthropicwire.Usage{OutputTokens: envelope.Usage.TokensUsed},
	})
	writeEvent("message_stop", anthropicwire.StreamEvent{Type: "message_stop"})
	c.Writer.Flush()
}

func writeAnthropicError(c *gin.Context, status int, errType, message string) {
	c.JSON(status, gin.H{"type": "error", "error": gin.H{"type": errType, "message": message}})
}

func writeAnthropicProcessError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	errType := "api_error"
	switch {
	case apperrors.IsRateLimited(err):
		status = http.StatusTooManyRequests
		errType = "rate_limit_error"
	case apperrors.IsBackendError(err):
		status = http.StatusBadGateway
		errType = "api_error"
	case apperrors.IsLoopDetected(err):
		status = http.StatusBadRequest
		errType = "invalid_request_error"
	case apperrors.IsInvalidInput(err):
		status = http.StatusBadRequest
		errType = "invalid_request_error"
	}
	writeAnthropicError(c, status, errType, err.Error())
}
