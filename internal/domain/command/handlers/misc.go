package handlers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

// Hello implements the bare `!/hello` form: a synthetic banner reply with
// no backend call (Result.Data stays empty).
type Hello struct{}

func (Hello) Name() string        { return "hello" }
func (Hello) Aliases() []string   { return nil }
func (Hello) Description() string { return "Show a session status banner instead of calling the backend." }
func (Hello) Examples() []string  { return []string{"!/hello"} }

func (Hello) Handle(_ command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	return command.Result{Success: true, Message: "hello"}, s.WithHelloRequested(true)
}

// Help implements `!/help` (list all commands) and `!/help(name)` (a
// single command's description and examples). It holds a pointer to the
// registry it is ultimately registered into, resolved lazily at call
// time since registration order has no bearing on lookups.
type Help struct {
	Registry *command.Registry
}

func (Help) Name() string        { return "help" }
func (Help) Aliases() []string   { return nil }
func (Help) Description() string { return "List commands, or describe one command." }
func (Help) Examples() []string  { return []string{"!/help", "!/help(backend)"} }

func (h Help) Handle(args command.Args, s *session.State, ctx command.Context) (command.Result, *session.State) {
	if h.Registry == nil {
		return command.Result{Success: false, Message: "help is unavailable"}, s
	}
	if name, ok := firstArgKey(args); ok && name != "" {
		handler, found := h.Registry.Lookup(name)
		if !found {
			return command.Result{Success: false, Message: fmt.Sprintf("unknown command %q", name)}, s
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s", handler.Name(), handler.Description())
		for _, ex := range handler.Examples() {
			b.WriteString("\n  " + ex)
		}
		return command.Result{Success: true, Message: b.String()}, s
	}

	all := h.Registry.All()
	names := make([]string, 0, len(all))
	byName := make(map[string]command.Handler, len(all))
	for _, handler := range all {
		names = append(names, handler.Name())
		byName[handler.Name()] = handler
	}
	sort.Strings(names)
	var b strings.Builder
	fmt.Fprintf(&b, "commands (prefix %q):", ctx.CommandPrefix)
	for _, name := range names {
		fmt.Fprintf(&b, "\n  %s - %s", name, byName[name].Description())
	}
	return command.Result{Success: true, Message: b.String()}, s
}

// CommandPrefix implements the supplemented `!/command-prefix(newprefix)`
// feature: it persists the new prefix through Context.SaveConfig when a
// persistence capability is bound. It does not change the prefix the
// running parser scans for (the processor keeps its configured prefix),
// and the session state is returned unchanged.
type CommandPrefix struct{}

func (CommandPrefix) Name() string        { return "command-prefix" }
func (CommandPrefix) Aliases() []string   { return nil }
func (CommandPrefix) Description() string { return "Persist a new in-band command prefix to the configuration." }
func (CommandPrefix) Examples() []string  { return []string{"!/command-prefix($$)"} }

func (CommandPrefix) Handle(args command.Args, s *session.State, ctx command.Context) (command.Result, *session.State) {
	raw, _ := firstArgKey(args)
	if raw == "" {
		return command.Result{Success: false, Message: "command-prefix requires a value"}, s
	}
	if ctx.SaveConfig != nil {
		if err := ctx.SaveConfig("command_prefix", raw); err != nil {
			return command.Result{Success: false, Message: "failed to persist command-prefix: " + err.Error()}, s
		}
	}
	return command.Result{Success: true, Message: "command-prefix set to " + raw}, s
}

// unsettableKeys enumerates the parameter names `!/unset` accepts, each
// mapped to the state transformation that reverts it to its default.
var unsettableKeys = map[string]func(*session.State) *session.State{
	"temperature":      func(s *session.State) *session.State { return s.WithTemperatureUnset() },
	"reasoning-effort": func(s *session.State) *session.State {
		// The default tier is empty (no effort sent upstream); WithProject
		// with the current name yields a fresh, unshared copy to clear.
		next := s.WithProject(s.Project)
		next.Reasoning.ReasoningEffort = ""
		return next
	},
	"openai-url":       func(s *session.State) *session.State { return s.WithOpenAIURLCleared() },
	"project":          func(s *session.State) *session.State { return s.WithProject("") },
	"project-dir":      func(s *session.State) *session.State { return s.WithProjectDir("") },
}

// Unset implements `!/unset(key, ...)`, reverting each recognized key to
// its default. Unrecognized keys are reported but do not abort the rest.
type Unset struct{}

func (Unset) Name() string        { return "unset" }
func (Unset) Aliases() []string   { return nil }
func (Unset) Description() string { return "Revert one or more session parameters to their defaults." }
func (Unset) Examples() []string  { return []string{"!/unset(temperature)", "!/unset(temperature,project)"} }

func (Unset) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	current := s
	var applied, unknown []string
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fn, ok := unsettableKeys[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		current = fn(current)
		applied = append(applied, key)
	}
	if len(applied) == 0 {
		return command.Result{Success: false, Message: "no recognized keys to unset"}, s
	}
	msg := "unset: " + strings.Join(applied, ", ")
	if len(unknown) > 0 {
		msg += " (ignored unknown: " + strings.Join(unknown, ", ") + ")"
	}
	return command.Result{Success: true, Message: msg}, current
}
