package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/chatmsg"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/request"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/resolve"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/service"
	"github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/llm"
	apperrors "github.com/ngoclaw/llm-interactive-proxy/pkg/errors"
)

// OpenAIHandler implements the OpenAI Chat Completions compatible
// surface (spec.md §6): POST /v1/chat/completions and the model-listing
// endpoints, translating wire DTOs to/from the canonical
// request.ChatRequest and driving everything else through Processor
// (C11).
type OpenAIHandler struct {
	Processor *request.Processor
	Registry  *llm.Registry
	Logger    *zap.Logger
	Resolver  *resolve.Resolver
	// FallbackModels is returned by ListModels when every adapter's
	// get_available_models call fails (spec.md §6: "falls back to a
	// built-in default list on adapter failure (returns 200, not 500)").
	FallbackModels []string
}

// ChatCompletionRequest mirrors OpenAI's request format.
type ChatCompletionRequest struct {
	Model       string          `json:"model" binding:"required"`
	Messages    []WireMessage   `json:"messages" binding:"required"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []WireTool      `json:"tools,omitempty"`
	ToolChoice  interface{}     `json:"tool_choice,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	User        string          `json:"user,omitempty"`
}

// WireMessage is one OpenAI-wire chat message. Content is either a plain
// string or an array of content parts; UnmarshalJSON below picks the
// right shape.
type WireMessage struct {
	Role       string          `json:"role"`
	Content    interface{}     `json:"content"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// WireTool mirrors OpenAI's function-tool declaration shape.
type WireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

// ChatCompletionResponse mirrors OpenAI's non-streaming response format.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *ChatUsage   `json:"usage,omitempty"`
}

// ChatChoice represents a completion choice.
type ChatChoice struct {
	Index        int                    `json:"index"`
	Message      ChatCompletionMessage  `json:"message"`
	FinishReason string                 `json:"finish_reason"`
}

// ChatCompletionMessage is the assistant reply message.
type ChatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatUsage represents token usage.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatStreamChunk represents one SSE "data:" frame.
type ChatStreamChunk struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []ChatStreamChoice `json:"choices"`
}

// ChatStreamChoice represents a streaming choice delta.
type ChatStreamChoice struct {
	Index        int             `json:"index"`
	Delta        ChatStreamDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

// ChatStreamDelta represents the delta in a streaming choice.
type ChatStreamDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// OpenAIModel represents a model in the /v1/models response.
type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse mirrors OpenAI's models list response.
type ModelsResponse struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// NewOpenAIHandler constructs the OpenAI-compatible handler.
func NewOpenAIHandler(proc *request.Processor, registry *llm.Registry, resolver *resolve.Resolver, logger *zap.Logger, fallbackModels []string) *OpenAIHandler {
	return &OpenAIHandler{Processor: proc, Registry: registry, Resolver: resolver, Logger: logger, FallbackModels: fallbackModels}
}

// ChatCompletions handles POST /v1/chat/completions (spec.md §6).
func (h *OpenAIHandler) ChatCompletions(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), "invalid_request_error", "")
		return
	}

	messages := toCanonicalMessages(req.Messages)

	canonical := request.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Tools:       toCanonicalTools(req.Tools),
		ToolChoice:  req.ToolChoice,
		SessionID:   req.SessionID,
		Agent:       c.GetHeader("X-Agent"),
	}

	in := request.Incoming{
		Resolve: resolve.Request{
			SessionID: req.SessionID,
			Header:    c.Request.Header,
			Cookies:   c.Request.Cookies(),
		},
		ClientIP: c.ClientIP(),
	}

	envelope, err := h.Processor.Process(c.Request.Context(), in, canonical)
	if err != nil {
		writeProcessError(c, err)
		return
	}

	if envelope.Stream != nil {
		h.streamResponse(c, req.Model, envelope)
		return
	}

	id := envelope.ID
	if id == "" {
		id = fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	}
	finish := envelope.FinishReason
	if finish == "" {
		finish = "stop"
	}
	c.JSON(http.StatusOK, ChatCompletionResponse{
		ID:      id,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatCompletionMessage{Role: "assistant", Content: envelope.Content},
			FinishReason: finish,
		}},
		// The core pipeline only tracks one combined token count
		// (spec.md's Usage shape), not the prompt/completion split, so
		// the total is mirrored onto CompletionTokens/TotalTokens.
		Usage: &ChatUsage{CompletionTokens: envelope.Usage.TokensUsed, TotalTokens: envelope.Usage.TokensUsed},
	})
}

// streamResponse relays envelope.Stream as OpenAI "data: <json>\n\n" SSE
// frames, terminated by "data: [DONE]\n\n" (spec.md §3, §6).
func (h *OpenAIHandler) streamResponse(c *gin.Context, model string, envelope *request.ResponseEnvelope) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	completionID := fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	created := time.Now().Unix()

	writeChunk := func(chunk ChatStreamChunk) {
		data, err := marshalSSE(chunk)
		if err != nil {
			h.Logger.Error("marshal SSE chunk failed", zap.Error(err))
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		c.Writer.Flush()
	}

	writeChunk(ChatStreamChunk{
		ID: completionID, Object: "chat.completion.chunk", Created: created, Model: model,
		Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{Role: "assistant"}}},
	})

	for item := range envelope.Stream {
		if item.IsDone {
			reason := item.FinishReason
			if reason == "" {
				reason = "stop"
			}
			if item.Text != "" {
				writeChunk(ChatStreamChunk{
					ID: completionID, Object: "chat.completion.chunk", Created: created, Model: model,
					Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{Content: item.Text}}},
				})
			}
			writeChunk(ChatStreamChunk{
				ID: completionID, Object: "chat.completion.chunk", Created: created, Model: model,
				Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{}, FinishReason: &reason}},
			})
			break
		}
		if item.Text == "" {
			continue
		}
		writeChunk(ChatStreamChunk{
			ID: completionID, Object: "chat.completion.chunk", Created: created, Model: model,
			Choices: []ChatStreamChoice{{Index: 0, Delta: ChatStreamDelta{Content: item.Text}}},
		})
	}

	io.WriteString(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
}

// ListModels handles GET /models and GET /v1/models (spec.md §6):
// aggregate get_available_models() across registered backends, falling
// back to a built-in default list on adapter failure (still a 200).
func (h *OpenAIHandler) ListModels(c *gin.Context) {
	var models []OpenAIModel
	if h.Registry != nil {
		for _, status := range h.Registry.ListProviders(c.Request.Context()) {
			for _, m := range status.Models {
				models = append(models, OpenAIModel{ID: m, Object: "model", OwnedBy: status.Name})
			}
		}
	}
	if len(models) == 0 {
		for _, m := range h.FallbackModels {
			models = append(models, OpenAIModel{ID: m, Object: "model", OwnedBy: "proxy"})
		}
	}
	c.JSON(http.StatusOK, ModelsResponse{Object: "list", Data: models})
}

func marshalSSE(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// writeProcessError maps a pkg/errors.AppError to the HTTP status and
// structured body spec.md §6/§7 call for.
func writeProcessError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	errType := "server_error"
	switch {
	case apperrors.IsRateLimited(err):
		status = http.StatusTooManyRequests
		errType = "rate_limit_error"
	case apperrors.IsBackendError(err):
		status = http.StatusBadGateway
		errType = "backend_error"
	case apperrors.IsLoopDetected(err):
		status = http.StatusBadRequest
		errType = "loop_detection_error"
	case apperrors.IsInvalidInput(err):
		status = http.StatusBadRequest
		errType = "invalid_request_error"
	}
	writeError(c, status, err.Error(), errType, "")
}

func writeError(c *gin.Context, status int, message, errType, code string) {
	body := gin.H{"error": gin.H{"message": message, "type": errType}}
	if code != "" {
		body["error"].(gin.H)["code"] = code
	}
	c.JSON(status, body)
}

// toCanonicalMessages converts wire messages to chatmsg.Message, keeping
// multipart content as ordered parts and preserving non-text parts
// verbatim (spec.md §3's ChatMessage).
func toCanonicalMessages(in []WireMessage) []chatmsg.Message {
	out := make([]chatmsg.Message, 0, len(in))
	for _, m := range in {
		cm := chatmsg.Message{
			Role:       chatmsg.Role(m.Role),
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
		switch content := m.Content.(type) {
		case string:
			cm.Content = content
		case []interface{}:
			for _, raw := range content {
				part, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				if t, _ := part["type"].(string); t == "text" {
					text, _ := part["text"].(string)
					cm.Parts = append(cm.Parts, chatmsg.Part{Type: chatmsg.PartText, Text: text})
				} else {
					cm.Parts = append(cm.Parts, chatmsg.Part{Type: chatmsg.PartOpaque, Raw: part})
				}
			}
		}
		out = append(out, cm)
	}
	return out
}

func toCanonicalTools(tools []WireTool) []service.ToolDef {
	if len(tools) == 0 {
		return nil
	}
	out := make([]service.ToolDef, 0, len(tools))
	for _, t := range tools {
		out = append(out, service.ToolDef{Name: t.Function.Name, Description: t.Function.Description, Parameters: t.Function.Parameters})
	}
	return out
}
