package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/failover"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/service"
)

// Dispatcher routes one failover.Attempt to the named provider (C7). It
// implements failover.Dialer for a single in-flight canonical request;
// internal/domain/request (C11) builds one Dispatcher per call and hands
// it to failover.Coordinator.Run.
type Dispatcher struct {
	Registry *Registry
	Request  *service.LLMRequest
	Stream   bool
	DeltaCh  chan<- service.StreamChunk
	Identity Identity
}

// Identity carries the per-app/per-backend identity headers spec.md §4.7
// calls for ("HTTP-Referer", "X-Title"), injected per dispatch.
type Identity struct {
	Referer string
	Title   string
}

// Dial implements failover.Dialer.
func (d *Dispatcher) Dial(ctx context.Context, a failover.Attempt) (*failover.Result, error) {
	provider, ok := d.Registry.Get(a.Backend)
	if !ok {
		return nil, fmt.Errorf("llm dispatch: unknown backend %q", a.Backend)
	}
	if !d.Registry.Allow(a.Backend) {
		return nil, fmt.Errorf("llm dispatch: backend %q circuit open", a.Backend)
	}
	if !provider.IsAvailable(ctx) {
		return nil, fmt.Errorf("llm dispatch: backend %q unavailable", a.Backend)
	}

	req := *d.Request
	req.Model = a.Model
	if req.ExtraParams == nil {
		req.ExtraParams = map[string]interface{}{}
	}
	req.ExtraParams["api_key"] = a.KeyValue
	if d.Identity.Referer != "" {
		req.ExtraParams["http_referer"] = d.Identity.Referer
	}
	if d.Identity.Title != "" {
		req.ExtraParams["x_title"] = d.Identity.Title
	}

	start := time.Now()
	var (
		resp *service.LLMResponse
		err  error
	)
	if d.Stream {
		resp, err = provider.GenerateStream(ctx, &req, d.DeltaCh)
	} else {
		resp, err = provider.Generate(ctx, &req)
	}
	d.Registry.RecordResult(a.Backend, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &failover.Result{Payload: resp}, nil
}
