package session

import "testing"

func TestDefault(t *testing.T) {
	s := Default()
	if !s.Backend.InteractiveMode {
		t.Fatal("expected interactive mode on by default")
	}
	if !s.Loop.LoopDetectionEnabled || !s.Loop.ToolLoopDetectionEnabled {
		t.Fatal("expected loop detection on by default")
	}
}

func TestWithTemperature_Bounds(t *testing.T) {
	s := Default()

	if _, err := s.WithTemperature(-0.0001); err == nil {
		t.Fatal("expected rejection of temperature below 0")
	}
	if _, err := s.WithTemperature(2.0001); err == nil {
		t.Fatal("expected rejection of temperature above 2")
	}
	if _, err := s.WithTemperature(0.0); err != nil {
		t.Fatalf("expected 0.0 accepted: %v", err)
	}
	if _, err := s.WithTemperature(2.0); err != nil {
		t.Fatalf("expected 2.0 accepted: %v", err)
	}
}

func TestWithTemperature_DoesNotMutateReceiver(t *testing.T) {
	s := Default()
	next, err := s.WithTemperature(0.9)
	if err != nil {
		t.Fatal(err)
	}
	if s.Reasoning.TemperatureSet {
		t.Fatal("receiver was mutated")
	}
	if !next.Reasoning.TemperatureSet || next.Reasoning.Temperature != 0.9 {
		t.Fatal("new instance did not carry the mutation")
	}
}

func TestWithThinkingBudget_Bounds(t *testing.T) {
	s := Default()
	if _, err := s.WithThinkingBudget(127); err == nil {
		t.Fatal("expected rejection of 127")
	}
	if _, err := s.WithThinkingBudget(32769); err == nil {
		t.Fatal("expected rejection of 32769")
	}
	if _, err := s.WithThinkingBudget(128); err != nil {
		t.Fatalf("expected 128 accepted: %v", err)
	}
	if _, err := s.WithThinkingBudget(32768); err != nil {
		t.Fatalf("expected 32768 accepted: %v", err)
	}
}

func TestWithToolLoopMaxRepeats_RejectsOne(t *testing.T) {
	s := Default()
	if _, err := s.WithToolLoopMaxRepeats(1); err == nil {
		t.Fatal("expected rejection of 1")
	}
	if _, err := s.WithToolLoopMaxRepeats(2); err != nil {
		t.Fatalf("expected 2 accepted: %v", err)
	}
}

func TestWithFailoverRoute_IsolatesMap(t *testing.T) {
	s := Default()
	next, err := s.WithFailoverRoute("gpt-4", PolicyKeysModels)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Backend.FailoverRoutes) != 0 {
		t.Fatal("receiver's route map was mutated")
	}
	if _, ok := next.Backend.FailoverRoutes["gpt-4"]; !ok {
		t.Fatal("new instance missing route")
	}

	appended, err := next.WithRouteElementAppended("gpt-4", "openrouter:a")
	if err != nil {
		t.Fatal(err)
	}
	if len(next.Backend.FailoverRoutes["gpt-4"].Elements) != 0 {
		t.Fatal("prior snapshot's route elements were mutated")
	}
	if len(appended.Backend.FailoverRoutes["gpt-4"].Elements) != 1 {
		t.Fatal("expected one element on the new snapshot")
	}
}

func TestWithFailoverRoute_RejectsUnknownPolicy(t *testing.T) {
	s := Default()
	if _, err := s.WithFailoverRoute("x", FailoverPolicy("bogus")); err == nil {
		t.Fatal("expected rejection of unknown policy")
	}
}

func TestWithOneOff_ConsumedClearsOnly(t *testing.T) {
	s := Default().WithOneOff("openrouter", "gpt-4")
	if s.Backend.OneOff == nil {
		t.Fatal("expected one-off set")
	}
	consumed := s.WithOneOffConsumed()
	if consumed.Backend.OneOff != nil {
		t.Fatal("expected one-off cleared")
	}
	if s.Backend.OneOff == nil {
		t.Fatal("receiver's one-off should be untouched")
	}
}

func TestBuilder_NoOpRoundTrips(t *testing.T) {
	s := Default().WithProject("demo")
	got, err := NewBuilder(s).Build()
	if err != nil {
		t.Fatal(err)
	}
	if got.Project != s.Project {
		t.Fatalf("builder with no With* calls changed state: got %q want %q", got.Project, s.Project)
	}
}

func TestUnsetRestoresDefault(t *testing.T) {
	base := Default()
	withTemp, err := base.WithTemperature(0.2)
	if err != nil {
		t.Fatal(err)
	}
	// !/unset(temperature) restores the field to its prior value.
	restored := withTemp.WithTemperatureUnset()
	if base.Reasoning.TemperatureSet {
		t.Fatal("base should never have had temperature set")
	}
	if !withTemp.Reasoning.TemperatureSet {
		t.Fatal("withTemp should have temperature set")
	}
	if restored.Reasoning.TemperatureSet || restored.Reasoning.Temperature != base.Reasoning.Temperature {
		t.Fatalf("unset did not restore temperature: got set=%v value=%v", restored.Reasoning.TemperatureSet, restored.Reasoning.Temperature)
	}
}
