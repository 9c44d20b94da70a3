package redact

import (
	"testing"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/chatmsg"
)

func TestRedactText_ReplacesKnownKey(t *testing.T) {
	r := New([]string{"RED_SECRET_ABC"})
	got := r.RedactText("Use RED_SECRET_ABC and !/help")
	want := "Use (API_KEY_HAS_BEEN_REDACTED) and "
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRedactText_NoKeyConfigured(t *testing.T) {
	r := New(nil)
	got := r.RedactText("hello world")
	if got != "hello world" {
		t.Fatalf("got %q", got)
	}
}

func TestRedactText_LongestKeyWins(t *testing.T) {
	r := New([]string{"sk-abc", "sk-abcdef"})
	got := r.RedactText("key=sk-abcdef")
	want := "key=" + Placeholder
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRedactMessages_PreservesNonTextParts(t *testing.T) {
	r := New([]string{"SECRET"})
	msgs := []chatmsg.Message{
		{
			Role: chatmsg.RoleUser,
			Parts: []chatmsg.Part{
				{Type: chatmsg.PartText, Text: "here is SECRET"},
				{Type: chatmsg.PartOpaque, Raw: map[string]any{"url": "img"}},
			},
		},
	}
	got := r.RedactMessages(msgs)
	if got[0].Parts[0].Text != "here is "+Placeholder {
		t.Fatalf("text part not redacted: %q", got[0].Parts[0].Text)
	}
	if got[0].Parts[1].Raw["url"] != "img" {
		t.Fatalf("non-text part mutated: %+v", got[0].Parts[1])
	}
	if msgs[0].Parts[0].Text != "here is SECRET" {
		t.Fatalf("RedactMessages mutated caller's slice")
	}
}
