package handlers

import (
	"strconv"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

func boolArg(args command.Args) bool {
	if raw, ok := args.String("enabled"); ok {
		return raw == "true" || raw == "1"
	}
	if v, ok := firstArgKey(args); ok {
		return v == "true" || v == "1" || v == ""
	}
	return true
}

// LoopDetection implements `!/loop-detection` and `!/loop-detection(false)`.
type LoopDetection struct{}

func (LoopDetection) Name() string        { return "loop-detection" }
func (LoopDetection) Aliases() []string   { return nil }
func (LoopDetection) Description() string { return "Toggle byte-pattern loop detection." }
func (LoopDetection) Examples() []string  { return []string{"!/loop-detection(false)"} }

func (LoopDetection) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	enabled := boolArg(args)
	return command.Result{Success: true, Message: "loop-detection set"}, s.WithLoopDetection(enabled)
}

// ToolLoopDetection implements `!/tool-loop-detection`.
type ToolLoopDetection struct{}

func (ToolLoopDetection) Name() string        { return "tool-loop-detection" }
func (ToolLoopDetection) Aliases() []string   { return nil }
func (ToolLoopDetection) Description() string { return "Toggle tool-call loop detection." }
func (ToolLoopDetection) Examples() []string  { return []string{"!/tool-loop-detection(false)"} }

func (ToolLoopDetection) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	enabled := boolArg(args)
	return command.Result{Success: true, Message: "tool-loop-detection set"}, s.WithToolLoopDetection(enabled)
}

// ToolLoopMaxRepeats implements `!/tool-loop-max-repeats(N)`.
type ToolLoopMaxRepeats struct{}

func (ToolLoopMaxRepeats) Name() string        { return "tool-loop-max-repeats" }
func (ToolLoopMaxRepeats) Aliases() []string   { return nil }
func (ToolLoopMaxRepeats) Description() string { return "Set the tool-call repeat threshold, >= 2." }
func (ToolLoopMaxRepeats) Examples() []string  { return []string{"!/tool-loop-max-repeats(4)"} }

func (ToolLoopMaxRepeats) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	raw, _ := firstArgKey(args)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return command.Result{Success: false, Message: "tool-loop-max-repeats requires an integer"}, s
	}
	next, err := s.WithToolLoopMaxRepeats(n)
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	return command.Result{Success: true, Message: "tool-loop-max-repeats set"}, next
}

// ToolLoopTTL implements `!/tool-loop-ttl(seconds)`.
type ToolLoopTTL struct{}

func (ToolLoopTTL) Name() string        { return "tool-loop-ttl" }
func (ToolLoopTTL) Aliases() []string   { return nil }
func (ToolLoopTTL) Description() string { return "Set the tool-call loop TTL, in seconds, >= 1." }
func (ToolLoopTTL) Examples() []string  { return []string{"!/tool-loop-ttl(60)"} }

func (ToolLoopTTL) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	raw, _ := firstArgKey(args)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return command.Result{Success: false, Message: "tool-loop-ttl requires an integer"}, s
	}
	next, err := s.WithToolLoopTTL(n)
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	return command.Result{Success: true, Message: "tool-loop-ttl set"}, next
}

// ToolLoopMode implements `!/tool-loop-mode(break|warn|chance_then_break)`.
type ToolLoopMode struct{}

func (ToolLoopMode) Name() string        { return "tool-loop-mode" }
func (ToolLoopMode) Aliases() []string   { return nil }
func (ToolLoopMode) Description() string { return "Set the tool-call loop response mode." }
func (ToolLoopMode) Examples() []string  { return []string{"!/tool-loop-mode(warn)"} }

func (ToolLoopMode) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	raw, _ := firstArgKey(args)
	next, err := s.WithToolLoopMode(session.ToolLoopMode(raw))
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	return command.Result{Success: true, Message: "tool-loop-mode set to " + raw}, next
}
