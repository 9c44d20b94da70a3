package handlers

import (
	"testing"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

func TestBackendHandlerRejectsNonFunctional(t *testing.T) {
	s := session.Default()
	ctx := command.Context{FunctionalBackends: []string{"openrouter"}}
	res, next := Backend{}.Handle(command.Args{"bogus": true}, s, ctx)
	if res.Success {
		t.Fatal("expected failure for non-functional backend")
	}
	if next.Backend.BackendType != "" {
		t.Fatalf("expected override cleared, got %q", next.Backend.BackendType)
	}
}

func TestModelHandlerQualified(t *testing.T) {
	s := session.Default()
	res, next := Model{}.Handle(command.Args{"openrouter:gpt-4": true}, s, command.Context{})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if next.Backend.BackendType != "openrouter" || next.Backend.Model != "gpt-4" {
		t.Fatalf("unexpected backend/model: %+v", next.Backend)
	}
}

func TestThinkingBudgetGatedByCLIOverride(t *testing.T) {
	s := session.Default()
	ctx := command.Context{ThinkingBudgetCLIOverride: true}
	res, next := ThinkingBudget{}.Handle(command.Args{"4096": true}, s, ctx)
	if res.Success {
		t.Fatal("expected failure when CLI override is set")
	}
	if next.Reasoning.ThinkingBudget != 0 {
		t.Fatal("expected state unchanged")
	}
}

func TestTemperatureCarriesDataOnSuccess(t *testing.T) {
	s := session.Default()
	res, next := Temperature{}.Handle(command.Args{"0.5": true}, s, command.Context{})
	if !res.Success || res.Data["temperature"] != 0.5 {
		t.Fatalf("expected success with Data, got %+v", res)
	}
	if next.Reasoning.Temperature != 0.5 {
		t.Fatal("expected temperature applied")
	}
}

func TestFailoverRouteLifecycle(t *testing.T) {
	s := session.Default()

	_, s = CreateFailoverRoute{}.Handle(command.ParseArgs("myroute,km"), s, command.Context{})
	if _, ok := s.Backend.FailoverRoutes["myroute"]; !ok {
		t.Fatal("expected route created")
	}

	res, s2 := RouteAppend{}.Handle(command.ParseArgs("myroute,openrouter:gpt-4"), s, command.Context{})
	if !res.Success {
		t.Fatalf("expected append success, got %q", res.Message)
	}
	if len(s2.Backend.FailoverRoutes["myroute"].Elements) != 1 {
		t.Fatal("expected one element appended")
	}

	res, s3 := RouteClear{}.Handle(command.Args{"myroute": true}, s2, command.Context{})
	if !res.Success || len(s3.Backend.FailoverRoutes["myroute"].Elements) != 0 {
		t.Fatal("expected route cleared")
	}

	res, s4 := DeleteFailoverRoute{}.Handle(command.Args{"myroute": true}, s3, command.Context{})
	if !res.Success {
		t.Fatal("expected delete success")
	}
	if _, ok := s4.Backend.FailoverRoutes["myroute"]; ok {
		t.Fatal("expected route removed")
	}
}

func TestRouteAppendUnknownRouteFails(t *testing.T) {
	s := session.Default()
	res, _ := RouteAppend{}.Handle(command.ParseArgs("nope,openrouter:gpt-4"), s, command.Context{})
	if res.Success {
		t.Fatal("expected failure for unknown route")
	}
}

func TestHelpListsAndDescribesCommands(t *testing.T) {
	reg := command.NewRegistry()
	reg.Register(Backend{})
	reg.Register(Temperature{})
	help := Help{Registry: reg}

	res, _ := help.Handle(command.Args{}, session.Default(), command.Context{CommandPrefix: "!/"})
	if !res.Success {
		t.Fatal("expected success listing all commands")
	}

	res, _ = help.Handle(command.Args{"backend": true}, session.Default(), command.Context{})
	if !res.Success {
		t.Fatalf("expected success describing backend, got %q", res.Message)
	}

	res, _ = help.Handle(command.Args{"nonexistent": true}, session.Default(), command.Context{})
	if res.Success {
		t.Fatal("expected failure for unknown command name")
	}
}

func TestUnsetRevertsRecognizedKeysOnly(t *testing.T) {
	s := session.Default()
	s, _ = s.WithTemperature(0.9)
	s = s.WithProject("demo")

	res, next := Unset{}.Handle(command.Args{"temperature": true, "bogus": true}, s, command.Context{})
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Message)
	}
	if next.Reasoning.TemperatureSet {
		t.Fatal("expected temperature unset")
	}
	if next.Project != "demo" {
		t.Fatal("expected project untouched")
	}
}

func TestProjectDirRejectsMissingPath(t *testing.T) {
	s := session.Default()
	res, _ := ProjectDir{}.Handle(command.Args{"/no/such/path/xyz": true}, s, command.Context{})
	if res.Success {
		t.Fatal("expected failure for a nonexistent directory")
	}
}

func TestRouteExportImportRoundTrip(t *testing.T) {
	s := session.Default()
	_, s = CreateFailoverRoute{}.Handle(command.ParseArgs("myroute,km"), s, command.Context{})
	_, s = RouteAppend{}.Handle(command.ParseArgs("myroute,openrouter:gpt-4"), s, command.Context{})

	path := t.TempDir() + "/routes.yaml"
	res, s := RouteExport{}.Handle(command.Args{path: true}, s, command.Context{})
	if !res.Success {
		t.Fatalf("expected export success, got %q", res.Message)
	}

	fresh := session.Default()
	res, fresh = RouteImport{}.Handle(command.Args{path: true}, fresh, command.Context{})
	if !res.Success {
		t.Fatalf("expected import success, got %q", res.Message)
	}
	route, ok := fresh.Backend.FailoverRoutes["myroute"]
	if !ok {
		t.Fatal("expected imported route present")
	}
	if route.Policy != "km" || len(route.Elements) != 1 || route.Elements[0] != "openrouter:gpt-4" {
		t.Fatalf("unexpected imported route: %+v", route)
	}
}

func TestRouteImportRejectsMissingFile(t *testing.T) {
	res, _ := RouteImport{}.Handle(command.Args{"/no/such/routes.yaml": true}, session.Default(), command.Context{})
	if res.Success {
		t.Fatal("expected failure for a nonexistent file")
	}
}
