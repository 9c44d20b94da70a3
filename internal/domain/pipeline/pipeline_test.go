package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/redact"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
)

func TestChain_OrdersByPriority(t *testing.T) {
	order := []string{}
	mk := func(name string, pri int) Middleware {
		return fakeMiddleware{name: name, pri: pri, fn: func() { order = append(order, name) }}
	}
	c := NewChain(mk("c", 30), mk("a", 10), mk("b", 20))

	src := make(chan stream.Content, 1)
	src <- stream.Content{Text: "hi", IsDone: true}
	close(src)
	out, errCh := c.Run(context.Background(), src, NewRequestContext("s1"))

	for range out {
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if order[i] != w {
			t.Fatalf("got order %v, want %v", order, want)
		}
	}
}

type fakeMiddleware struct {
	name string
	pri  int
	fn   func()
}

func (f fakeMiddleware) Name() string  { return f.name }
func (f fakeMiddleware) Priority() int { return f.pri }
func (f fakeMiddleware) Process(_ context.Context, item stream.Content, _ *RequestContext) (stream.Content, error) {
	f.fn()
	return item, nil
}

func TestChain_FullStack_RedactsAndRepairsAndSurvivesLoopDetectionOff(t *testing.T) {
	loopCfg := session.LoopConfig{LoopDetectionEnabled: false, ToolLoopDetectionEnabled: false}
	loopMW := NewLoopDetectionMiddleware(loopCfg, NewToolLoopRegistry(), "s1")
	editMW := NewEditPrecisionMiddleware(NewEditPrecisionRegistry(time.Minute), "s1", true)
	repairMW := NewToolRepairMiddleware(true)
	redactMW := NewRedactionMirrorMiddleware(redact.New([]string{"sk-secret"}))

	chain := NewChain(loopMW, editMW, repairMW, redactMW)

	src := make(chan stream.Content, 2)
	src <- stream.Content{Text: `key sk-secret and {"a": [1`}
	src <- stream.Content{IsDone: true}
	close(src)

	out, errCh := chain.Run(context.Background(), src, NewRequestContext("s1"))
	var texts []string
	for item := range out {
		texts = append(texts, item.Text)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if texts[0] != "key "+redact.Placeholder+" and {\"a\": [1" {
		t.Fatalf("redaction not applied: %q", texts[0])
	}
	if texts[1] != "]}" {
		t.Fatalf("repair not applied on final chunk: %q", texts[1])
	}
}
