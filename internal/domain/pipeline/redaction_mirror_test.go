package pipeline

import (
	"context"
	"testing"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/redact"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
)

func TestRedactionMirror_ScrubsGeneratedText(t *testing.T) {
	r := redact.New([]string{"sk-leaked-key"})
	mw := NewRedactionMirrorMiddleware(r)
	item, err := mw.Process(context.Background(), stream.Content{Text: "your key is sk-leaked-key"}, NewRequestContext("s1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "your key is " + redact.Placeholder
	if item.Text != want {
		t.Fatalf("got %q, want %q", item.Text, want)
	}
}
