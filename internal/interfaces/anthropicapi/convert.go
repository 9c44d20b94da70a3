// Package anthropicapi implements the pure Anthropic↔OpenAI shape
// converter spec.md §1 names as an external collaborator of the core:
// translating the Anthropic Messages API wire shape to/from the
// canonical request.ChatRequest/ResponseEnvelope the request processor
// (C11) operates on. Nothing here touches a session, a command, or a
// backend — it is a pure mapping between two wire formats.
package anthropicapi

import (
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/chatmsg"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/request"
	anthropic "github.com/ngoclaw/llm-interactive-proxy/internal/infrastructure/llm/anthropic"
)

// ToCanonical converts an incoming Anthropic Messages API request into
// the canonical ChatRequest shape. A top-level System field becomes a
// leading system message (spec.md §3: "System prompt is a separate
// top-level field, not a message" on the Anthropic side; the canonical
// shape always carries it as a message).
func ToCanonical(req *anthropic.Request, sessionID string) request.ChatRequest {
	var messages []chatmsg.Message
	if req.System != "" {
		messages = append(messages, chatmsg.Message{Role: chatmsg.RoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		messages = append(messages, blocksToMessage(m))
	}

	var maxTokens *int
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		maxTokens = &mt
	}
	var temperature *float64
	if req.Temperature != 0 {
		t := req.Temperature
		temperature = &t
	}

	return request.ChatRequest{
		Model:       req.Model,
		Messages:    messages,
		Stream:      req.Stream,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		SessionID:   sessionID,
	}
}

// blocksToMessage flattens one Anthropic message's content blocks into a
// canonical message, preserving tool_use/thinking (and other non-text)
// blocks as opaque parts and turning a tool_result block into a text part
// plus ToolCallID, so no information is silently dropped (spec.md §3: "A
// part is either {type:text, text} or an opaque non-text part preserved
// verbatim").
func blocksToMessage(m anthropic.Message) chatmsg.Message {
	role := chatmsg.RoleUser
	if m.Role == "assistant" {
		role = chatmsg.RoleAssistant
	}
	cm := chatmsg.Message{Role: role}

	if len(m.Content) == 1 && m.Content[0].Type == "text" {
		cm.Content = m.Content[0].Text
		return cm
	}

	for _, block := range m.Content {
		switch block.Type {
		case "text":
			cm.Parts = append(cm.Parts, chatmsg.Part{Type: chatmsg.PartText, Text: block.Text})
		case "tool_result":
			cm.ToolCallID = block.ToolUseID
			cm.Parts = append(cm.Parts, chatmsg.Part{Type: chatmsg.PartText, Text: block.Content})
		default:
			cm.Parts = append(cm.Parts, chatmsg.Part{Type: chatmsg.PartOpaque, Raw: map[string]any{
				"type": block.Type, "id": block.ID, "name": block.Name, "input": block.Input, "thinking": block.Thinking,
			}})
		}
	}
	return cm
}

// FromCanonical converts a non-streaming ResponseEnvelope into the
// Anthropic Messages API response shape.
func FromCanonical(model string, env *request.ResponseEnvelope) *anthropic.Response {
	stopReason := "end_turn"
	if env.FinishReason == "tool_calls" || len(env.ToolCalls) > 0 {
		stopReason = "tool_use"
	} else if env.FinishReason == "length" {
		stopReason = "max_tokens"
	}

	content := []anthropic.ContentBlock{}
	if env.Content != "" {
		content = append(content, anthropic.ContentBlock{Type: "text", Text: env.Content})
	}
	for _, tc := range env.ToolCalls {
		content = append(content, anthropic.ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: tc.Arguments})
	}

	return &anthropic.Response{
		ID:         env.ID,
		Type:       "message",
		Role:       "assistant",
		Content:    content,
		Model:      model,
		StopReason: stopReason,
		Usage:      anthropic.Usage{OutputTokens: env.Usage.TokensUsed},
	}
}
