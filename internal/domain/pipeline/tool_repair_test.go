package pipeline

import (
	"context"
	"testing"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
)

func TestToolRepair_ClosesTruncatedObjectAtEndOfStream(t *testing.T) {
	mw := NewToolRepairMiddleware(true)
	rc := NewRequestContext("s1")

	mw.Process(context.Background(), stream.Content{Text: `{"a": [1, 2, "b`}, rc)
	item, err := mw.Process(context.Background(), stream.Content{IsDone: true}, rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := `{"a": [1, 2, "b` + item.Text
	want := `{"a": [1, 2, "b"]}`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestToolRepair_DisabledLeavesTextUntouched(t *testing.T) {
	mw := NewToolRepairMiddleware(false)
	rc := NewRequestContext("s1")
	mw.Process(context.Background(), stream.Content{Text: `{"a": [1`}, rc)
	item, _ := mw.Process(context.Background(), stream.Content{IsDone: true}, rc)
	if item.Text != "" {
		t.Fatalf("expected no repair text appended, got %q", item.Text)
	}
}

func TestRepairJSONFragment_AlreadyValid(t *testing.T) {
	in := `{"a": 1}`
	if got := repairJSONFragment(in); got != in {
		t.Fatalf("got %q, want unchanged %q", got, in)
	}
}
