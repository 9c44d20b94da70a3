// Package handlers implements the canonical C4 command handler set
// registered against a command.Registry at startup.
package handlers

import (
	"fmt"
	"strings"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Backend implements `!/backend(name)` and its `default-backend` alias.
type Backend struct{}

func (Backend) Name() string        { return "backend" }
func (Backend) Aliases() []string   { return []string{"default-backend"} }
func (Backend) Description() string { return "Set the session's default backend." }
func (Backend) Examples() []string  { return []string{"!/backend(openrouter)"} }

func (Backend) Handle(args command.Args, s *session.State, ctx command.Context) (command.Result, *session.State) {
	name, _ := firstArgKey(args)
	if name == "" {
		return command.Result{Success: false, Message: "backend requires a name"}, s
	}
	if len(ctx.FunctionalBackends) > 0 && !contains(ctx.FunctionalBackends, name) {
		cleared := s.WithBackend("", s.Backend.Model)
		return command.Result{Success: false, Message: fmt.Sprintf("backend %q is not functional; override cleared", name)}, cleared
	}
	return command.Result{Success: true, Message: "backend set to " + name}, s.WithBackend(name, "")
}

// firstArgKey returns the first bare-key argument name, used by handlers
// whose single positional value arrives as a bare key (`!/backend(openrouter)`)
// rather than `key=value`.
func firstArgKey(args command.Args) (string, bool) {
	if positional := args.Positional(); len(positional) > 0 {
		return positional[0], true
	}
	// ParseArgs always records positional keys, but callers constructing
	// Args literals directly (tests, programmatic callers) may not; a
	// lone bare key is unambiguous regardless of map iteration order.
	for k, v := range args {
		if v == true {
			return k, true
		}
	}
	// Fall back to a conventional "name"/"value" key if the command was
	// invoked with an explicit key=value form.
	for _, key := range []string{"name", "value", "backend"} {
		if v, ok := args.String(key); ok {
			return v, true
		}
	}
	return "", false
}

// Model implements `!/model(backend:model)` or `!/model(backend/model)`.
type Model struct{}

func (Model) Name() string        { return "model" }
func (Model) Aliases() []string   { return nil }
func (Model) Description() string { return "Override the session's model, optionally qualified by backend." }
func (Model) Examples() []string  { return []string{"!/model(openrouter:gpt-4)", "!/model(openrouter/gpt-4)"} }

func (Model) Handle(args command.Args, s *session.State, ctx command.Context) (command.Result, *session.State) {
	raw, _ := firstArgKey(args)
	if raw == "" {
		return command.Result{Success: false, Message: "model requires a value"}, s
	}
	backend, model := splitQualified(raw)
	if backend == "" {
		return command.Result{Success: true, Message: "model set to " + model, Data: map[string]any{"model": model}}, s.WithBackend("", model)
	}
	if s.Backend.InteractiveMode && len(ctx.FunctionalBackends) > 0 && !contains(ctx.FunctionalBackends, backend) {
		return command.Result{Success: false, Message: fmt.Sprintf("unknown backend %q for model override", backend)}, s
	}
	return command.Result{Success: true, Message: fmt.Sprintf("model set to %s:%s (possibly invalid)", backend, model), Data: map[string]any{"model": model}}, s.WithBackend(backend, model)
}

// splitQualified accepts "backend:model" or "backend/model" and returns
// ("", raw) if no separator is present.
func splitQualified(raw string) (backend, model string) {
	if idx := strings.Index(raw, ":"); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	if idx := strings.Index(raw, "/"); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return "", raw
}

// OneOff implements `!/oneoff(backend/model)`.
type OneOff struct{}

func (OneOff) Name() string        { return "oneoff" }
func (OneOff) Aliases() []string   { return nil }
func (OneOff) Description() string { return "Single-shot backend/model override, consumed after the next successful call." }
func (OneOff) Examples() []string  { return []string{"!/oneoff(openrouter/gpt-4)"} }

func (OneOff) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	raw, _ := firstArgKey(args)
	if raw == "" {
		return command.Result{Success: false, Message: "oneoff requires backend/model"}, s
	}
	backend, model := splitQualified(raw)
	if backend == "" {
		return command.Result{Success: false, Message: "oneoff requires a qualified backend/model"}, s
	}
	return command.Result{Success: true, Message: "one-off set for next call"}, s.WithOneOff(backend, model)
}

// OpenAIURL implements `!/openai-url(http://...)`.
type OpenAIURL struct{}

func (OpenAIURL) Name() string        { return "openai-url" }
func (OpenAIURL) Aliases() []string   { return nil }
func (OpenAIURL) Description() string { return "Override the OpenAI-compatible base URL for this session." }
func (OpenAIURL) Examples() []string  { return []string{"!/openai-url(https://my-proxy.example.com/v1)"} }

func (OpenAIURL) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	raw, _ := firstArgKey(args)
	next, err := s.WithOpenAIURL(raw)
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	return command.Result{Success: true, Message: "openai-url set"}, next
}
