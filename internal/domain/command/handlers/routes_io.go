package handlers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

// routeDump is the on-disk YAML shape for a session's failover-route
// table (spec.md §9's "on-disk route/session dumps" supplement).
type routeDump struct {
	Routes map[string]routeDumpEntry `yaml:"routes"`
}

type routeDumpEntry struct {
	Policy   string   `yaml:"policy"`
	Elements []string `yaml:"elements"`
}

// RouteExport implements `!/route-export(path)`: writes the session's
// failover routes to a YAML file, following the same filesystem-access-
// at-the-handler pattern as `project-dir` (session value objects stay
// free of I/O).
type RouteExport struct{}

func (RouteExport) Name() string        { return "route-export" }
func (RouteExport) Aliases() []string   { return nil }
func (RouteExport) Description() string { return "Write the session's failover routes to a YAML file." }
func (RouteExport) Examples() []string  { return []string{"!/route-export(/tmp/routes.yaml)"} }

func (RouteExport) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	path, _ := firstArgKey(args)
	if path == "" {
		return command.Result{Success: false, Message: "route-export requires a path"}, s
	}

	dump := routeDump{Routes: make(map[string]routeDumpEntry, len(s.Backend.FailoverRoutes))}
	for name, r := range s.Backend.FailoverRoutes {
		dump.Routes[name] = routeDumpEntry{Policy: string(r.Policy), Elements: r.Elements}
	}

	data, err := yaml.Marshal(dump)
	if err != nil {
		return command.Result{Success: false, Message: "route-export: " + err.Error()}, s
	}
	if err := os.WriteFile(expandHome(path), data, 0o644); err != nil {
		return command.Result{Success: false, Message: "route-export: " + err.Error()}, s
	}
	return command.Result{Success: true, Message: fmt.Sprintf("exported %d route(s) to %s", len(dump.Routes), path)}, s
}

// RouteImport implements `!/route-import(path)`: replaces the session's
// entire failover-route table from a YAML file written by route-export
// (or hand-authored in the same shape).
type RouteImport struct{}

func (RouteImport) Name() string        { return "route-import" }
func (RouteImport) Aliases() []string   { return nil }
func (RouteImport) Description() string { return "Replace the session's failover routes from a YAML file." }
func (RouteImport) Examples() []string  { return []string{"!/route-import(/tmp/routes.yaml)"} }

func (RouteImport) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	path, _ := firstArgKey(args)
	if path == "" {
		return command.Result{Success: false, Message: "route-import requires a path"}, s
	}

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return command.Result{Success: false, Message: "route-import: " + err.Error()}, s
	}

	var dump routeDump
	if err := yaml.Unmarshal(data, &dump); err != nil {
		return command.Result{Success: false, Message: "route-import: invalid YAML: " + err.Error()}, s
	}

	routes := make(map[string]session.FailoverRoute, len(dump.Routes))
	for name, entry := range dump.Routes {
		policy := session.FailoverPolicy(entry.Policy)
		routes[name] = session.FailoverRoute{Policy: policy, Elements: entry.Elements}
	}

	next := s.WithFailoverRoutesReplaced(routes)
	return command.Result{Success: true, Message: fmt.Sprintf("imported %d route(s) from %s", len(routes), path)}, next
}
