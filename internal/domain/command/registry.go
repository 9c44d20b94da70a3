package command

import "strings"

// Registry is a name/alias → Handler lookup, keyed by lowercased,
// dash-normalized name. No reflection is used; handlers are plain
// interface values (spec.md §9 "Dynamic dispatch... is modeled as a
// registry keyed by lowercased name/alias").
type Registry struct {
	byKey map[string]Handler
	all   []Handler
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKey: make(map[string]Handler)}
}

// normalizeKey lowercases and maps underscores to dashes so "tool_loop_mode"
// and "tool-loop-mode" resolve to the same handler.
func normalizeKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "_", "-")
}

// Register adds a handler under its name and every alias.
func (r *Registry) Register(h Handler) {
	r.all = append(r.all, h)
	r.byKey[normalizeKey(h.Name())] = h
	for _, a := range h.Aliases() {
		r.byKey[normalizeKey(a)] = h
	}
}

// Lookup resolves a command name (already lowercased or not) to its
// handler.
func (r *Registry) Lookup(name string) (Handler, bool) {
	h, ok := r.byKey[normalizeKey(name)]
	return h, ok
}

// All returns every registered handler, each appearing once even if
// reachable through multiple aliases — used by `help` with no argument.
func (r *Registry) All() []Handler {
	out := make([]Handler, len(r.all))
	copy(out, r.all)
	return out
}
