package llm

import (
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/failover"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/request"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/service"
)

// BackendDispatcher implements request.BackendDispatcher (C11's narrow
// view of C7): it hands the request processor one failover.Dialer per
// in-flight call, backed by this package's Registry/Dispatcher.
type BackendDispatcher struct {
	Registry *Registry
}

// NewBackendDispatcher wraps a Registry for use as C11's BackendDispatcher.
func NewBackendDispatcher(r *Registry) *BackendDispatcher {
	return &BackendDispatcher{Registry: r}
}

// NewDialer implements request.BackendDispatcher.
func (b *BackendDispatcher) NewDialer(req *service.LLMRequest, stream bool, deltaCh chan<- service.StreamChunk, identity request.Identity) failover.Dialer {
	return &Dispatcher{
		Registry: b.Registry,
		Request:  req,
		Stream:   stream,
		DeltaCh:  deltaCh,
		Identity: Identity{Referer: identity.Referer, Title: identity.Title},
	}
}

var _ request.BackendDispatcher = (*BackendDispatcher)(nil)
