// Package failover implements the failover coordinator (C5): given the
// effective model and a session's failover routes, it expands a named
// route's policy into an ordered attempt list, then drives those attempts
// against the rate limiter, honoring retry-after and surfacing 429 only
// when every attempt was skipped for being rate-limited.
package failover

import "github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"

// Attempt is one (backend, model, key) combination the coordinator will
// try, in order. Constructed by the coordinator, consumed by the
// dispatcher, never persisted.
type Attempt struct {
	Backend  string
	Model    string
	KeyName  string
	KeyValue string
}

// KeySource resolves the ordered list of API keys configured for a given
// backend name, in declaration order. The coordinator never sees raw
// config; it only asks "what keys does this backend have".
type KeySource interface {
	KeysForBackend(backend string) []Key
}

// Key is one named credential for a backend.
type Key struct {
	Name  string
	Value string
}

// BuildAttempts expands the session's failover configuration for the
// given user-visible model into an ordered attempt list, per spec.md
// §4.5:
//
//   - if a route named exactly like the effective model exists, expand it
//     per its policy (k / m / km / mk);
//   - otherwise, a single attempt using the session's default backend and
//     its first key.
func BuildAttempts(state *session.State, effectiveModel string, keys KeySource) []Attempt {
	route, ok := state.Backend.FailoverRoutes[effectiveModel]
	if !ok || len(route.Elements) == 0 {
		backend := state.Backend.BackendType
		if backend == "" {
			return nil
		}
		ks := keys.KeysForBackend(backend)
		if len(ks) == 0 {
			return []Attempt{{Backend: backend, Model: effectiveModel}}
		}
		return []Attempt{{Backend: backend, Model: effectiveModel, KeyName: ks[0].Name, KeyValue: ks[0].Value}}
	}

	switch route.Policy {
	case session.PolicyKeyFan:
		return expandKeyFan(route.Elements, keys)
	case session.PolicyModelFan:
		return expandModelFan(route.Elements, keys)
	case session.PolicyKeysModels:
		return expandKeysThenModels(route.Elements, keys)
	case session.PolicyModelsKeys:
		return expandModelsThenKeys(route.Elements, keys)
	default:
		return expandModelFan(route.Elements, keys)
	}
}

// splitElement splits a "backend:model" route element. Elements may also
// use "backend/model"; the colon form is canonical for routes (spec.md
// §3's FailoverRoute.Elements invariant), the slash form is accepted for
// symmetry with the `model` command's qualified-model syntax.
func splitElement(element string) (backend, model string) {
	for i := 0; i < len(element); i++ {
		if element[i] == ':' || element[i] == '/' {
			return element[:i], element[i+1:]
		}
	}
	return element, ""
}

// expandKeyFan (policy "k"): first element only, one attempt per key of
// that element's backend, in key declaration order.
func expandKeyFan(elements []string, keys KeySource) []Attempt {
	if len(elements) == 0 {
		return nil
	}
	backend, model := splitElement(elements[0])
	ks := keys.KeysForBackend(backend)
	if len(ks) == 0 {
		return []Attempt{{Backend: backend, Model: model}}
	}
	out := make([]Attempt, 0, len(ks))
	for _, k := range ks {
		out = append(out, Attempt{Backend: backend, Model: model, KeyName: k.Name, KeyValue: k.Value})
	}
	return out
}

// expandModelFan (policy "m"): iterate elements, using only the first key
// of each element's backend.
func expandModelFan(elements []string, keys KeySource) []Attempt {
	out := make([]Attempt, 0, len(elements))
	for _, el := range elements {
		backend, model := splitElement(el)
		ks := keys.KeysForBackend(backend)
		a := Attempt{Backend: backend, Model: model}
		if len(ks) > 0 {
			a.KeyName, a.KeyValue = ks[0].Name, ks[0].Value
		}
		out = append(out, a)
	}
	return out
}

// expandKeysThenModels (policy "km"): iterate elements; for each, produce
// one attempt per key of that element's backend.
func expandKeysThenModels(elements []string, keys KeySource) []Attempt {
	var out []Attempt
	for _, el := range elements {
		backend, model := splitElement(el)
		ks := keys.KeysForBackend(backend)
		if len(ks) == 0 {
			out = append(out, Attempt{Backend: backend, Model: model})
			continue
		}
		for _, k := range ks {
			out = append(out, Attempt{Backend: backend, Model: model, KeyName: k.Name, KeyValue: k.Value})
		}
	}
	return out
}

// expandModelsThenKeys (policy "mk"): for i = 0..max_keys-1, iterate
// elements and emit the i-th key if present for that element's backend.
func expandModelsThenKeys(elements []string, keys KeySource) []Attempt {
	if len(elements) == 0 {
		return nil
	}
	perElementKeys := make([][]Key, len(elements))
	maxKeys := 0
	for i, el := range elements {
		backend, _ := splitElement(el)
		ks := keys.KeysForBackend(backend)
		perElementKeys[i] = ks
		if len(ks) > maxKeys {
			maxKeys = len(ks)
		}
	}
	if maxKeys == 0 {
		maxKeys = 1
	}
	var out []Attempt
	for i := 0; i < maxKeys; i++ {
		for j, el := range elements {
			backend, model := splitElement(el)
			ks := perElementKeys[j]
			if i >= len(ks) {
				continue
			}
			out = append(out, Attempt{Backend: backend, Model: model, KeyName: ks[i].Name, KeyValue: ks[i].Value})
		}
	}
	return out
}
