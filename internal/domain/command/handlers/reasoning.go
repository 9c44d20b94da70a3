package handlers

import (
	"fmt"
	"strconv"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

const cliPrecedenceMsg = "thinking-budget was set via CLI override; interactive changes are disabled"

// ReasoningEffort implements `!/reasoning-effort(low|medium|high|maximum)`.
type ReasoningEffort struct{}

func (ReasoningEffort) Name() string        { return "reasoning-effort" }
func (ReasoningEffort) Aliases() []string   { return nil }
func (ReasoningEffort) Description() string { return "Set the reasoning effort tier." }
func (ReasoningEffort) Examples() []string  { return []string{"!/reasoning-effort(high)"} }

func (ReasoningEffort) Handle(args command.Args, s *session.State, ctx command.Context) (command.Result, *session.State) {
	if ctx.ThinkingBudgetCLIOverride {
		return command.Result{Success: false, Message: cliPrecedenceMsg}, s
	}
	raw, _ := firstArgKey(args)
	next, err := s.WithReasoningEffort(session.ReasoningEffort(raw))
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	return command.Result{Success: true, Message: "reasoning-effort set to " + raw}, next
}

// ThinkingBudget implements `!/thinking-budget(N)`.
type ThinkingBudget struct{}

func (ThinkingBudget) Name() string        { return "thinking-budget" }
func (ThinkingBudget) Aliases() []string   { return nil }
func (ThinkingBudget) Description() string { return "Set the thinking token budget, in [128, 32768]." }
func (ThinkingBudget) Examples() []string  { return []string{"!/thinking-budget(4096)"} }

func (ThinkingBudget) Handle(args command.Args, s *session.State, ctx command.Context) (command.Result, *session.State) {
	if ctx.ThinkingBudgetCLIOverride {
		return command.Result{Success: false, Message: cliPrecedenceMsg}, s
	}
	raw, _ := firstArgKey(args)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return command.Result{Success: false, Message: "thinking-budget requires an integer"}, s
	}
	next, err := s.WithThinkingBudget(n)
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	return command.Result{Success: true, Message: fmt.Sprintf("thinking-budget set to %d", n)}, next
}

// Temperature implements `!/temperature(T)`, also aliased as `set` when
// invoked `!/set(temperature=T)` via the generic Set handler — this
// handler covers the direct form.
type Temperature struct{}

func (Temperature) Name() string        { return "temperature" }
func (Temperature) Aliases() []string   { return nil }
func (Temperature) Description() string { return "Set sampling temperature, in [0.0, 2.0]." }
func (Temperature) Examples() []string  { return []string{"!/temperature(0.2)"} }

func (Temperature) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	raw, _ := firstArgKey(args)
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return command.Result{Success: false, Message: "temperature requires a number"}, s
	}
	next, err := s.WithTemperature(t)
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	// Successful temperature changes carry Data: the request still
	// proceeds to the backend (spec.md §4.3 "a successful command may
	// carry data... e.g. temperature").
	return command.Result{Success: true, Message: fmt.Sprintf("temperature set to %v", t), Data: map[string]any{"temperature": t}}, next
}

// Set is the generic `!/set(key=value, ...)` entry point covering the
// parameters that also have their own direct command name. Only
// temperature and reasoning-effort are handled; other keys are ignored,
// and an invalid value for either fails the whole call with the state
// unchanged.
type Set struct{}

func (Set) Name() string        { return "set" }
func (Set) Aliases() []string   { return nil }
func (Set) Description() string { return "Set one or more session parameters." }
func (Set) Examples() []string  { return []string{"!/set(temperature=0.2)"} }

func (Set) Handle(args command.Args, s *session.State, ctx command.Context) (command.Result, *session.State) {
	current := s
	data := map[string]any{}
	var messages []string
	ok := true

	if raw, present := args.String("temperature"); present {
		t, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return command.Result{Success: false, Message: "invalid temperature"}, s
		}
		next, err := current.WithTemperature(t)
		if err != nil {
			return command.Result{Success: false, Message: err.Error()}, s
		}
		current = next
		data["temperature"] = t
		messages = append(messages, fmt.Sprintf("temperature=%v", t))
	}
	if raw, present := args.String("reasoning-effort"); present {
		if ctx.ThinkingBudgetCLIOverride {
			return command.Result{Success: false, Message: cliPrecedenceMsg}, s
		}
		next, err := current.WithReasoningEffort(session.ReasoningEffort(raw))
		if err != nil {
			return command.Result{Success: false, Message: err.Error()}, s
		}
		current = next
		messages = append(messages, "reasoning-effort="+raw)
	}

	if len(messages) == 0 {
		ok = false
	}
	return command.Result{Success: ok, Message: joinComma(messages), Data: data}, current
}

func joinComma(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	if out == "" {
		return "no recognized keys"
	}
	return out
}
