// Package session holds the per-session configuration value object and its
// copy-on-write mutators. SessionState is immutable: every With* method
// returns a new instance and never touches the receiver.
package session

import "fmt"

// ReasoningEffort is one of the four effort tiers accepted by the
// reasoning-effort command and request field.
type ReasoningEffort string

const (
	EffortLow     ReasoningEffort = "low"
	EffortMedium  ReasoningEffort = "medium"
	EffortHigh    ReasoningEffort = "high"
	EffortMaximum ReasoningEffort = "maximum"
)

func (e ReasoningEffort) valid() bool {
	switch e {
	case EffortLow, EffortMedium, EffortHigh, EffortMaximum:
		return true
	}
	return false
}

// ToolLoopMode controls what the loop-detection middleware does once a
// tool-call loop is confirmed.
type ToolLoopMode string

const (
	ToolLoopBreak          ToolLoopMode = "break"
	ToolLoopWarn           ToolLoopMode = "warn"
	ToolLoopChanceThenBreak ToolLoopMode = "chance_then_break"
)

func (m ToolLoopMode) valid() bool {
	switch m {
	case ToolLoopBreak, ToolLoopWarn, ToolLoopChanceThenBreak:
		return true
	}
	return false
}

// FailoverPolicy is one of the four route composition strategies (C5).
type FailoverPolicy string

const (
	PolicyKeyFan    FailoverPolicy = "k"
	PolicyModelFan  FailoverPolicy = "m"
	PolicyKeysModels FailoverPolicy = "km"
	PolicyModelsKeys FailoverPolicy = "mk"
)

func (p FailoverPolicy) valid() bool {
	switch p {
	case PolicyKeyFan, PolicyModelFan, PolicyKeysModels, PolicyModelsKeys:
		return true
	}
	return false
}

// FailoverRoute is a named, policy-driven ordered list of "backend:model"
// elements for a given user-visible model.
type FailoverRoute struct {
	Policy   FailoverPolicy
	Elements []string
}

// OneOff is a single-shot (backend, model) override consumed after the
// next successful backend call.
type OneOff struct {
	Backend string
	Model   string
}

// BackendConfig is the backend-selection slice of SessionState.
type BackendConfig struct {
	BackendType     string
	Model           string
	InteractiveMode bool
	OpenAIURL       string
	FailoverRoutes  map[string]FailoverRoute
	OneOff          *OneOff
}

// ReasoningConfig is the model-parameter slice of SessionState.
type ReasoningConfig struct {
	ReasoningEffort        ReasoningEffort
	ThinkingBudget         int // 0 means unset
	Temperature            float64
	TemperatureSet         bool
	ReasoningConfig        map[string]any
	GeminiGenerationConfig map[string]any
}

// LoopConfig is the loop-detection slice of SessionState.
type LoopConfig struct {
	LoopDetectionEnabled     bool
	ToolLoopDetectionEnabled bool
	ToolLoopMaxRepeats       int
	ToolLoopTTLSeconds       int
	ToolLoopMode             ToolLoopMode
}

// State is the immutable per-session configuration snapshot. Every With*
// method returns a new *State; the receiver is never mutated.
type State struct {
	Backend   BackendConfig
	Reasoning ReasoningConfig
	Loop      LoopConfig
	Project   string
	ProjectDir string

	InteractiveJustEnabled bool
	HelloRequested         bool
	IsClineAgent           bool
}

// Default returns the zero-value session state with documented defaults
// (interactive mode on, loop detection on, no temperature override).
func Default() *State {
	return &State{
		Backend: BackendConfig{
			InteractiveMode: true,
			FailoverRoutes:  map[string]FailoverRoute{},
		},
		Loop: LoopConfig{
			LoopDetectionEnabled:     true,
			ToolLoopDetectionEnabled: true,
			ToolLoopMaxRepeats:       4,
			ToolLoopTTLSeconds:       120,
			ToolLoopMode:             ToolLoopBreak,
		},
	}
}

// clone performs a shallow struct copy plus a deep copy of the one nested
// reference type (FailoverRoutes) so mutators never alias the receiver's
// map.
func (s *State) clone() *State {
	cp := *s
	cp.Backend.FailoverRoutes = make(map[string]FailoverRoute, len(s.Backend.FailoverRoutes))
	for k, v := range s.Backend.FailoverRoutes {
		elems := make([]string, len(v.Elements))
		copy(elems, v.Elements)
		cp.Backend.FailoverRoutes[k] = FailoverRoute{Policy: v.Policy, Elements: elems}
	}
	if s.Backend.OneOff != nil {
		oo := *s.Backend.OneOff
		cp.Backend.OneOff = &oo
	}
	if s.Reasoning.ReasoningConfig != nil {
		m := make(map[string]any, len(s.Reasoning.ReasoningConfig))
		for k, v := range s.Reasoning.ReasoningConfig {
			m[k] = v
		}
		cp.Reasoning.ReasoningConfig = m
	}
	if s.Reasoning.GeminiGenerationConfig != nil {
		m := make(map[string]any, len(s.Reasoning.GeminiGenerationConfig))
		for k, v := range s.Reasoning.GeminiGenerationConfig {
			m[k] = v
		}
		cp.Reasoning.GeminiGenerationConfig = m
	}
	return &cp
}

// WithBackend returns a new state with backend_type/model overridden.
// Pass "" to leave a field unchanged.
func (s *State) WithBackend(backendType, model string) *State {
	cp := s.clone()
	if backendType != "" {
		cp.Backend.BackendType = backendType
	}
	if model != "" {
		cp.Backend.Model = model
	}
	return cp
}

// WithOpenAIURL validates and sets the session's OpenAI-compatible base URL.
func (s *State) WithOpenAIURL(url string) (*State, error) {
	if !hasHTTPScheme(url) {
		return nil, fmt.Errorf("openai-url must start with http:// or https://")
	}
	cp := s.clone()
	cp.Backend.OpenAIURL = url
	return cp, nil
}

func hasHTTPScheme(s string) bool {
	return len(s) >= 7 && (s[:7] == "http://" || (len(s) >= 8 && s[:8] == "https://"))
}

// WithTemperature validates (range [0.0, 2.0]) and sets temperature.
func (s *State) WithTemperature(t float64) (*State, error) {
	if t < 0.0 || t > 2.0 {
		return nil, fmt.Errorf("temperature must be in [0.0, 2.0], got %v", t)
	}
	cp := s.clone()
	cp.Reasoning.Temperature = t
	cp.Reasoning.TemperatureSet = true
	return cp, nil
}

// WithTemperatureUnset clears a prior temperature override.
func (s *State) WithTemperatureUnset() *State {
	cp := s.clone()
	cp.Reasoning.Temperature = 0
	cp.Reasoning.TemperatureSet = false
	return cp
}

// WithOpenAIURLCleared removes a prior openai-url override.
func (s *State) WithOpenAIURLCleared() *State {
	cp := s.clone()
	cp.Backend.OpenAIURL = ""
	return cp
}

// WithReasoningEffort validates and sets the reasoning effort tier.
func (s *State) WithReasoningEffort(e ReasoningEffort) (*State, error) {
	if !e.valid() {
		return nil, fmt.Errorf("invalid reasoning-effort %q", e)
	}
	cp := s.clone()
	cp.Reasoning.ReasoningEffort = e
	return cp, nil
}

// WithThinkingBudget validates (range [128, 32768]) and sets the budget.
func (s *State) WithThinkingBudget(budget int) (*State, error) {
	if budget < 128 || budget > 32768 {
		return nil, fmt.Errorf("thinking-budget must be in [128, 32768], got %d", budget)
	}
	cp := s.clone()
	cp.Reasoning.ThinkingBudget = budget
	return cp, nil
}

// WithLoopDetection toggles plain loop detection.
func (s *State) WithLoopDetection(enabled bool) *State {
	cp := s.clone()
	cp.Loop.LoopDetectionEnabled = enabled
	return cp
}

// WithToolLoopDetection toggles tool-call loop detection.
func (s *State) WithToolLoopDetection(enabled bool) *State {
	cp := s.clone()
	cp.Loop.ToolLoopDetectionEnabled = enabled
	return cp
}

// WithToolLoopMaxRepeats validates (>=2) and sets the repeat threshold.
func (s *State) WithToolLoopMaxRepeats(n int) (*State, error) {
	if n < 2 {
		return nil, fmt.Errorf("tool-loop-max-repeats must be >= 2, got %d", n)
	}
	cp := s.clone()
	cp.Loop.ToolLoopMaxRepeats = n
	return cp, nil
}

// WithToolLoopTTL validates (>=1) and sets the TTL in seconds.
func (s *State) WithToolLoopTTL(seconds int) (*State, error) {
	if seconds < 1 {
		return nil, fmt.Errorf("tool-loop-ttl must be >= 1, got %d", seconds)
	}
	cp := s.clone()
	cp.Loop.ToolLoopTTLSeconds = seconds
	return cp, nil
}

// WithToolLoopMode validates and sets the tool-loop response mode.
func (s *State) WithToolLoopMode(mode ToolLoopMode) (*State, error) {
	if !mode.valid() {
		return nil, fmt.Errorf("invalid tool-loop-mode %q", mode)
	}
	cp := s.clone()
	cp.Loop.ToolLoopMode = mode
	return cp, nil
}

// WithProject sets the project name.
func (s *State) WithProject(name string) *State {
	cp := s.clone()
	cp.Project = name
	return cp
}

// WithProjectDir sets the project directory. Caller validates existence
// and readability (filesystem access does not belong in this value type).
func (s *State) WithProjectDir(dir string) *State {
	cp := s.clone()
	cp.ProjectDir = dir
	return cp
}

// WithFailoverRoute creates or replaces a named failover route.
func (s *State) WithFailoverRoute(name string, policy FailoverPolicy) (*State, error) {
	if !policy.valid() {
		return nil, fmt.Errorf("invalid failover policy %q", policy)
	}
	cp := s.clone()
	existing := cp.Backend.FailoverRoutes[name]
	cp.Backend.FailoverRoutes[name] = FailoverRoute{Policy: policy, Elements: existing.Elements}
	return cp, nil
}

// WithoutFailoverRoute deletes a named failover route.
func (s *State) WithoutFailoverRoute(name string) *State {
	cp := s.clone()
	delete(cp.Backend.FailoverRoutes, name)
	return cp
}

// WithRouteElementAppended appends a "backend:model" element to a route.
func (s *State) WithRouteElementAppended(name, element string) (*State, error) {
	route, ok := s.Backend.FailoverRoutes[name]
	if !ok {
		return nil, fmt.Errorf("no such failover route %q", name)
	}
	cp := s.clone()
	r := cp.Backend.FailoverRoutes[name]
	r.Elements = append(append([]string{}, route.Elements...), element)
	cp.Backend.FailoverRoutes[name] = r
	return cp, nil
}

// WithRouteElementPrepended prepends a "backend:model" element to a route.
func (s *State) WithRouteElementPrepended(name, element string) (*State, error) {
	route, ok := s.Backend.FailoverRoutes[name]
	if !ok {
		return nil, fmt.Errorf("no such failover route %q", name)
	}
	cp := s.clone()
	r := cp.Backend.FailoverRoutes[name]
	r.Elements = append([]string{element}, route.Elements...)
	cp.Backend.FailoverRoutes[name] = r
	return cp, nil
}

// WithRouteCleared empties a route's element list, keeping its policy.
func (s *State) WithRouteCleared(name string) (*State, error) {
	route, ok := s.Backend.FailoverRoutes[name]
	if !ok {
		return nil, fmt.Errorf("no such failover route %q", name)
	}
	cp := s.clone()
	cp.Backend.FailoverRoutes[name] = FailoverRoute{Policy: route.Policy, Elements: nil}
	return cp, nil
}

// WithFailoverRoutesReplaced swaps the entire named-route table, e.g.
// after importing a YAML route dump (the `route-import` command).
func (s *State) WithFailoverRoutesReplaced(routes map[string]FailoverRoute) *State {
	cp := s.clone()
	replaced := make(map[string]FailoverRoute, len(routes))
	for name, r := range routes {
		elems := make([]string, len(r.Elements))
		copy(elems, r.Elements)
		replaced[name] = FailoverRoute{Policy: r.Policy, Elements: elems}
	}
	cp.Backend.FailoverRoutes = replaced
	return cp
}

// WithOneOff sets a single-shot backend/model override.
func (s *State) WithOneOff(backend, model string) *State {
	cp := s.clone()
	cp.Backend.OneOff = &OneOff{Backend: backend, Model: model}
	return cp
}

// WithOneOffConsumed clears the one-shot override after a successful call.
func (s *State) WithOneOffConsumed() *State {
	cp := s.clone()
	cp.Backend.OneOff = nil
	return cp
}

// WithHelloRequested marks the hello banner as pending on the next
// synthetic reply.
func (s *State) WithHelloRequested(requested bool) *State {
	cp := s.clone()
	cp.HelloRequested = requested
	return cp
}

// WithInteractiveJustEnabled marks that interactive mode was just turned on
// this request (consulted, then cleared, by the orchestrator).
func (s *State) WithInteractiveJustEnabled(v bool) *State {
	cp := s.clone()
	cp.InteractiveJustEnabled = v
	return cp
}

// WithInteractiveMode toggles whether unknown commands are preserved
// (non-interactive) or dropped (interactive) — spec Open Question (b).
func (s *State) WithInteractiveMode(enabled bool) *State {
	cp := s.clone()
	cp.Backend.InteractiveMode = enabled
	if enabled {
		cp.InteractiveJustEnabled = true
	}
	return cp
}
