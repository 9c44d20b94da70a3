// Package pipeline implements the response middleware chain (C9): an
// ordered sequence of transforms over the normalized chunk stream
// produced by internal/domain/stream. Middlewares are ordered by a
// numeric priority (lower runs first), matching the teacher's
// MiddlewarePipeline shape generalized from message-level hooks to the
// stream-item shape spec.md §4.9 requires.
package pipeline

import (
	"context"
	"sync"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/stream"
)

// RequestContext carries the per-request state middlewares may read or
// write. It is the only mutable state shared across middlewares within
// one request (spec.md §5); everything else is the immutable content
// item passed down the chain.
type RequestContext struct {
	SessionID string
	Values    map[string]interface{}

	mu sync.Mutex
}

// Set stores a value under key, safe for concurrent access (a request's
// middlewares run sequentially today, but the map is guarded so a future
// concurrent middleware doesn't need a new synchronization story).
func (c *RequestContext) Set(key string, v interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Values == nil {
		c.Values = map[string]interface{}{}
	}
	c.Values[key] = v
}

// Get reads a value stored by Set.
func (c *RequestContext) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.Values[key]
	return v, ok
}

// NewRequestContext constructs an empty context for one request.
func NewRequestContext(sessionID string) *RequestContext {
	return &RequestContext{SessionID: sessionID}
}

// Middleware is one ordered stage in the response pipeline.
type Middleware interface {
	Name() string
	// Priority orders middlewares; lower runs first.
	Priority() int
	// Process transforms one stream item. Returning a non-nil error
	// aborts the stream (spec.md §4.9: "Middleware exceptions abort the
	// stream with a typed error").
	Process(ctx context.Context, item stream.Content, rc *RequestContext) (stream.Content, error)
}

// Chain runs an ordered list of Middleware over a stream.Content channel.
type Chain struct {
	middlewares []Middleware
}

// NewChain builds a chain from the given middlewares, sorted ascending by
// Priority(). The required spec.md §4.9 ordering (loop detection, then
// edit-precision, then tool-call repair, then redaction mirror) is
// achieved by assigning priorities in that order at construction sites;
// NewChain itself just sorts whatever it's given.
func NewChain(mws ...Middleware) *Chain {
	sorted := make([]Middleware, len(mws))
	copy(sorted, mws)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority() < sorted[j-1].Priority(); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &Chain{middlewares: sorted}
}

// Run drains src through every middleware in priority order, emitting the
// transformed item on the returned channel. Per spec.md §5(c), "for a
// single request, the N-th yielded upstream chunk is fed to middleware N
// before N+1" — here that's simply "item i passes through every stage
// before item i+1 starts", since Run processes one item fully before
// reading the next. If a middleware returns an error, Run sends it on the
// returned error channel and stops draining src.
func (c *Chain) Run(ctx context.Context, src <-chan stream.Content, rc *RequestContext) (<-chan stream.Content, <-chan error) {
	out := make(chan stream.Content)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		for item := range src {
			var err error
			for _, mw := range c.middlewares {
				item, err = mw.Process(ctx, item, rc)
				if err != nil {
					errCh <- err
					return
				}
			}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
			if item.IsDone {
				return
			}
		}
	}()

	return out, errCh
}
