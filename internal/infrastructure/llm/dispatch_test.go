package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/failover"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/service"
	"go.uber.org/zap"
)

type fakeProvider struct {
	name      string
	available bool
	err       error
	resp      *service.LLMResponse
	gotModel  string
	gotKey    interface{}
}

func (f *fakeProvider) Generate(_ context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	f.gotModel = req.Model
	if req.ExtraParams != nil {
		f.gotKey = req.ExtraParams["api_key"]
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeProvider) GenerateStream(_ context.Context, req *service.LLMRequest, _ chan<- service.StreamChunk) (*service.LLMResponse, error) {
	return f.Generate(context.Background(), req)
}

func (f *fakeProvider) Name() string                 { return f.name }
func (f *fakeProvider) Models() []string              { return []string{"m1"} }
func (f *fakeProvider) SupportsModel(m string) bool   { return true }
func (f *fakeProvider) IsAvailable(_ context.Context) bool { return f.available }

func TestDispatcher_DialSuccess(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	p := &fakeProvider{name: "openai", available: true, resp: &service.LLMResponse{Content: "hi"}}
	reg.Register(p)

	d := &Dispatcher{Registry: reg, Request: &service.LLMRequest{Model: "placeholder"}}
	res, err := d.Dial(context.Background(), failover.Attempt{Backend: "openai", Model: "gpt-4", KeyName: "key1", KeyValue: "sk-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp, ok := res.Payload.(*service.LLMResponse)
	if !ok || resp.Content != "hi" {
		t.Fatalf("unexpected payload: %+v", res.Payload)
	}
	if p.gotModel != "gpt-4" {
		t.Fatalf("expected model override to gpt-4, got %q", p.gotModel)
	}
	if p.gotKey != "sk-test" {
		t.Fatalf("expected api key injected, got %v", p.gotKey)
	}
}

func TestDispatcher_UnknownBackend(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	d := &Dispatcher{Registry: reg, Request: &service.LLMRequest{}}
	_, err := d.Dial(context.Background(), failover.Attempt{Backend: "missing", Model: "m"})
	if err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestDispatcher_UnavailableProvider(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(&fakeProvider{name: "openai", available: false})
	d := &Dispatcher{Registry: reg, Request: &service.LLMRequest{}}
	_, err := d.Dial(context.Background(), failover.Attempt{Backend: "openai", Model: "m"})
	if err == nil {
		t.Fatalf("expected error for unavailable provider")
	}
}

func TestDispatcher_PropagatesProviderError(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.Register(&fakeProvider{name: "openai", available: true, err: errors.New("boom")})
	d := &Dispatcher{Registry: reg, Request: &service.LLMRequest{}}
	_, err := d.Dial(context.Background(), failover.Attempt{Backend: "openai", Model: "m"})
	if err == nil {
		t.Fatalf("expected error propagated from provider")
	}
}
