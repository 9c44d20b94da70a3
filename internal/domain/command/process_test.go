package command

import (
	"testing"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/chatmsg"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

func helloRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(stubHandler{
		name: "hello",
		fn: func(a Args, s *session.State, c Context) (Result, *session.State) {
			return Result{Success: true}, s.WithHelloRequested(true)
		},
	})
	return reg
}

func TestProcessMessages_CommandOnlyBecomesEmpty(t *testing.T) {
	d := newTestDispatcher(helloRegistry(), true)
	msgs := []chatmsg.Message{
		{Role: chatmsg.RoleUser, Content: "!/hello"},
	}
	result := d.ProcessMessages(msgs, session.Default())

	if !result.CommandExecuted {
		t.Fatal("expected command executed")
	}
	if len(result.Messages) != 0 {
		t.Fatalf("expected the command-only message removed, got %d messages", len(result.Messages))
	}
	if !result.State.HelloRequested {
		t.Fatal("expected hello_requested set on returned state")
	}
}

func TestProcessMessages_StopsAtFirstMatchNewestFirst(t *testing.T) {
	d := newTestDispatcher(helloRegistry(), true)
	msgs := []chatmsg.Message{
		{Role: chatmsg.RoleUser, Content: "!/hello first"},
		{Role: chatmsg.RoleAssistant, Content: "assistant reply"},
		{Role: chatmsg.RoleUser, Content: "!/hello second"},
	}
	result := d.ProcessMessages(msgs, session.Default())

	if !result.CommandExecuted {
		t.Fatal("expected command executed")
	}
	// Only the last (newest) message should have been touched.
	if result.Messages[0].Content != "!/hello first" {
		t.Fatalf("expected earliest message untouched, got %q", result.Messages[0].Content)
	}
	if result.Messages[2].Content != "second" {
		t.Fatalf("expected newest message's command stripped, got %q", result.Messages[2].Content)
	}
}

func TestProcessMessages_NoCommandsLeavesAllUntouched(t *testing.T) {
	d := newTestDispatcher(helloRegistry(), true)
	msgs := []chatmsg.Message{
		{Role: chatmsg.RoleUser, Content: "plain text"},
	}
	result := d.ProcessMessages(msgs, session.Default())
	if result.CommandExecuted {
		t.Fatal("expected no command executed")
	}
	if len(result.Messages) != 1 || result.Messages[0].Content != "plain text" {
		t.Fatalf("expected message preserved, got %+v", result.Messages)
	}
}

func TestProcessMessages_MultipartStopsAfterFirstCommandPart(t *testing.T) {
	d := newTestDispatcher(helloRegistry(), true)
	msgs := []chatmsg.Message{
		{
			Role: chatmsg.RoleUser,
			Parts: []chatmsg.Part{
				{Type: chatmsg.PartText, Text: "!/hello"},
				{Type: chatmsg.PartText, Text: "!/hello again"},
				{Type: chatmsg.PartOpaque, Raw: map[string]any{"url": "image"}},
			},
		},
	}
	result := d.ProcessMessages(msgs, session.Default())
	if !result.CommandExecuted {
		t.Fatal("expected command executed")
	}
	// The whole message became empty: first part emptied by the command,
	// second part passed through unchanged but untouched-looking since it
	// still carries a literal "!/hello again" (not reprocessed), and the
	// opaque part is preserved. Net result: message dropped only if the
	// second part itself would also end up empty, which it does not here
	// (it is passed through verbatim), so the message must survive.
	if len(result.Messages) != 1 {
		t.Fatalf("expected message retained due to passthrough + opaque parts, got %d", len(result.Messages))
	}
	parts := result.Messages[0].Parts
	if len(parts) != 2 {
		t.Fatalf("expected 2 surviving parts (passthrough text + opaque), got %d", len(parts))
	}
	if parts[0].Text != "!/hello again" {
		t.Fatalf("expected second part passed through unchanged, got %q", parts[0].Text)
	}
	if parts[1].Type != chatmsg.PartOpaque {
		t.Fatal("expected opaque part preserved")
	}
}
