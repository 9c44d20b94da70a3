// Package command implements the in-band command DSL: parsing (C3) and
// the handler registry that commands are dispatched to (C4's contract
// lives here; concrete handlers live in the handlers subpackage).
package command

import "github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"

// Args is a parsed argument map. A bare key ("foo" with no "=value")
// parses to the boolean true.
type Args map[string]any

// positionalKey is a reserved map key (unreachable by any real argument,
// which can never contain a NUL byte) under which ParseArgs records bare
// keys in document order, since map iteration order is not document
// order. Handlers needing positional args ("name,policy") use Positional
// instead of ranging over the map directly.
const positionalKey = "\x00positional"

// String returns the string value for key, or ok=false if absent or not
// a string (e.g. it was a bare boolean arg).
func (a Args) String(key string) (string, bool) {
	v, ok := a[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Bool reports whether key is present at all (bare args and key=value
// args are both "present").
func (a Args) Bool(key string) bool {
	_, ok := a[key]
	return ok
}

// Positional returns the bare (non key=value) argument keys in the order
// they appeared in the command's argument list.
func (a Args) Positional() []string {
	v, _ := a[positionalKey].([]string)
	return v
}

// Result is the outcome of dispatching one command to its handler.
type Result struct {
	Name    string
	Success bool
	Message string
	// Data, when non-empty on a successful result, signals "state
	// changed, also call the backend" (e.g. temperature) rather than
	// "command-only reply" (e.g. hello).
	Data map[string]any
}

// Context carries the narrow capabilities some handlers need beyond pure
// (value, state) -> result, per spec.md §4.4's IApplicationState carve-out
// (command prefix, redaction flag, config persistence).
type Context struct {
	// CommandPrefix is the currently configured prefix, needed by
	// `help`/`command-prefix` to render accurate usage text.
	CommandPrefix string
	// FunctionalBackends lists backend names the dispatcher/registry
	// currently considers usable, for `backend`/`model` validation.
	FunctionalBackends []string
	// ThinkingBudgetCLIOverride is set when the process was launched
	// with a CLI thinking-budget override: interactive attempts to
	// change thinking-budget/reasoning-effort must then fail.
	ThinkingBudgetCLIOverride bool
	// SaveConfig persists a command-driven change (e.g. command-prefix)
	// when bound; nil means no persistence capability is available and
	// persistent-marked handlers silently skip the save.
	SaveConfig func(key string, value any) error
}

// Handler is one recognized command. Handlers are pure functions of
// (value, state) except where Context is consulted for the capabilities
// named above.
type Handler interface {
	// Name is the canonical (lowercased) command name.
	Name() string
	// Aliases lists alternative keys; underscore/dash are normalized by
	// the registry before lookup, so handlers need not list both forms.
	Aliases() []string
	// Description is a one-line summary for `help`.
	Description() string
	// Examples lists example invocations for `help(<command>)`.
	Examples() []string
	// Handle executes the command against the given args and current
	// state, returning the outcome and (on success) the new state.
	Handle(args Args, state *session.State, ctx Context) (Result, *session.State)
}
