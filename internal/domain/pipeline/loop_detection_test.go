package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/service"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
	apperrors "github.com/ngoclaw/llm-interactive-proxy/pkg/errors"
)

func TestLoopDetection_TextRepeatAborts(t *testing.T) {
	cfg := session.LoopConfig{LoopDetectionEnabled: true}
	mw := NewLoopDetectionMiddleware(cfg, NewToolLoopRegistry(), "s1")
	mw.MinPatternLength = 4
	mw.MaxPatternLength = 4
	mw.RepeatThreshold = 3

	rc := NewRequestContext("s1")
	var lastErr error
	for _, chunk := range []string{"abcd", "abcd", "abcd"} {
		_, err := mw.Process(context.Background(), stream.Content{Text: chunk}, rc)
		if err != nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		t.Fatalf("expected loop detection error")
	}
	if !apperrors.IsLoopDetected(lastErr) {
		t.Fatalf("expected loop-detected error, got %v", lastErr)
	}
}

func TestLoopDetection_DisabledNeverAborts(t *testing.T) {
	cfg := session.LoopConfig{LoopDetectionEnabled: false}
	mw := NewLoopDetectionMiddleware(cfg, NewToolLoopRegistry(), "s1")
	mw.MinPatternLength = 2
	mw.MaxPatternLength = 2
	mw.RepeatThreshold = 3

	rc := NewRequestContext("s1")
	_, err := mw.Process(context.Background(), stream.Content{Text: strings.Repeat("ab", 10)}, rc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoopDetection_ToolCallLoopBreak(t *testing.T) {
	cfg := session.LoopConfig{
		ToolLoopDetectionEnabled: true,
		ToolLoopMaxRepeats:       3,
		ToolLoopTTLSeconds:       60,
		ToolLoopMode:             session.ToolLoopBreak,
	}
	registry := NewToolLoopRegistry()
	mw := NewLoopDetectionMiddleware(cfg, registry, "s1")
	rc := NewRequestContext("s1")

	call := stream.Content{ToolCall: &service.ToolCallInfo{Name: "search", Arguments: map[string]interface{}{"q": "x"}}}

	var err error
	for i := 0; i < 3; i++ {
		_, err = mw.Process(context.Background(), call, rc)
	}
	if err == nil {
		t.Fatalf("expected tool-loop break error")
	}
}

func TestLoopDetection_ToolCallChanceThenBreak(t *testing.T) {
	cfg := session.LoopConfig{
		ToolLoopDetectionEnabled: true,
		ToolLoopMaxRepeats:       2,
		ToolLoopTTLSeconds:       60,
		ToolLoopMode:             session.ToolLoopChanceThenBreak,
	}
	registry := NewToolLoopRegistry()
	mw := NewLoopDetectionMiddleware(cfg, registry, "s1")
	rc := NewRequestContext("s1")
	call := stream.Content{ToolCall: &service.ToolCallInfo{Name: "search", Arguments: nil}}

	item, err := mw.Process(context.Background(), call, rc)
	if err != nil {
		t.Fatalf("first call: unexpected error: %v", err)
	}
	item, err = mw.Process(context.Background(), call, rc)
	if err != nil {
		t.Fatalf("second call (warn): unexpected error: %v", err)
	}
	if item.Metadata["loop_warning"] == nil {
		t.Fatalf("expected warning metadata on second call")
	}
	_, err = mw.Process(context.Background(), call, rc)
	if err == nil {
		t.Fatalf("expected break error on third call")
	}
}
