package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/service"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
)

func TestEditPrecision_MarksAndTunesNextRequest(t *testing.T) {
	registry := NewEditPrecisionRegistry(time.Minute)
	mw := NewEditPrecisionMiddleware(registry, "s1", true)

	_, err := mw.Process(context.Background(), stream.Content{Text: "tool error: diff_error: no match"}, NewRequestContext("s1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := &service.LLMRequest{Temperature: 0.9}
	if !registry.TuneRequest("s1", req, 0.15, 0.9) {
		t.Fatalf("expected pending tune to apply")
	}
	if req.Temperature != 0.15 {
		t.Fatalf("temperature not tuned: %v", req.Temperature)
	}
	if req.ExtraParams["top_p"] != 0.9 {
		t.Fatalf("top_p not tuned: %v", req.ExtraParams["top_p"])
	}

	// Pending counter is one-shot: a second request isn't tuned.
	req2 := &service.LLMRequest{}
	if registry.TuneRequest("s1", req2, 0.15, 0.9) {
		t.Fatalf("expected no pending tune on second request")
	}
}

func TestEditPrecision_DisabledNeverMarks(t *testing.T) {
	registry := NewEditPrecisionRegistry(time.Minute)
	mw := NewEditPrecisionMiddleware(registry, "s1", false)
	mw.Process(context.Background(), stream.Content{Text: "diff_error"}, NewRequestContext("s1"))
	if registry.ConsumePending("s1") {
		t.Fatalf("expected no pending entry while disabled")
	}
}

func TestEditPrecision_ExpiredEntryIsDropped(t *testing.T) {
	registry := NewEditPrecisionRegistry(time.Millisecond)
	registry.MarkPending("s1")
	time.Sleep(5 * time.Millisecond)
	if registry.ConsumePending("s1") {
		t.Fatalf("expected expired entry to be dropped")
	}
}
