package handlers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/command"
	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

// CreateFailoverRoute implements `!/create-failover-route(name,policy)`.
type CreateFailoverRoute struct{}

func (CreateFailoverRoute) Name() string        { return "create-failover-route" }
func (CreateFailoverRoute) Aliases() []string   { return nil }
func (CreateFailoverRoute) Description() string { return "Create or replace a named failover route." }
func (CreateFailoverRoute) Examples() []string  { return []string{"!/create-failover-route(myroute,km)"} }

func (CreateFailoverRoute) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	name, policy, err := nameAndPolicy(args)
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	next, err := s.WithFailoverRoute(name, policy)
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	return command.Result{Success: true, Message: fmt.Sprintf("route %q created with policy %s", name, policy)}, next
}

func nameAndPolicy(args command.Args) (name string, policy session.FailoverPolicy, err error) {
	if n, ok := args.String("name"); ok {
		name = n
	}
	if p, ok := args.String("policy"); ok {
		policy = session.FailoverPolicy(p)
	}
	if name == "" || policy == "" {
		// Fall back to positional bare-key parsing: "name,policy" arrives
		// as two bare keys in document order.
		if positional := args.Positional(); len(positional) >= 2 {
			name, policy = positional[0], session.FailoverPolicy(positional[1])
		}
	}
	if name == "" {
		return "", "", fmt.Errorf("create-failover-route requires a name")
	}
	if policy == "" {
		return "", "", fmt.Errorf("create-failover-route requires a policy (k, m, km, or mk)")
	}
	return name, policy, nil
}

// DeleteFailoverRoute implements `!/delete-failover-route(name)`.
type DeleteFailoverRoute struct{}

func (DeleteFailoverRoute) Name() string        { return "delete-failover-route" }
func (DeleteFailoverRoute) Aliases() []string   { return nil }
func (DeleteFailoverRoute) Description() string { return "Delete a named failover route." }
func (DeleteFailoverRoute) Examples() []string  { return []string{"!/delete-failover-route(myroute)"} }

func (DeleteFailoverRoute) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	name, _ := firstArgKey(args)
	if name == "" {
		return command.Result{Success: false, Message: "delete-failover-route requires a name"}, s
	}
	return command.Result{Success: true, Message: fmt.Sprintf("route %q deleted", name)}, s.WithoutFailoverRoute(name)
}

// routeAndElement parses "!/route-append(name,backend:model)" style args,
// where the route name and element both arrive as bare keys in document
// order, or as name=/element= key=value pairs.
func routeAndElement(args command.Args) (name, element string, err error) {
	if n, ok := args.String("name"); ok {
		name = n
	}
	if e, ok := args.String("element"); ok {
		element = e
	}
	if name == "" || element == "" {
		if positional := args.Positional(); len(positional) >= 2 {
			name, element = positional[0], positional[1]
		}
	}
	if name == "" {
		return "", "", fmt.Errorf("requires a route name")
	}
	if element == "" {
		return "", "", fmt.Errorf("requires a backend:model element")
	}
	return name, element, nil
}

// RouteAppend implements `!/route-append(name,backend:model)`.
type RouteAppend struct{}

func (RouteAppend) Name() string        { return "route-append" }
func (RouteAppend) Aliases() []string   { return nil }
func (RouteAppend) Description() string { return "Append an element to a failover route." }
func (RouteAppend) Examples() []string  { return []string{"!/route-append(myroute,openrouter:gpt-4)"} }

func (RouteAppend) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	name, element, err := routeAndElement(args)
	if err != nil {
		return command.Result{Success: false, Message: "route-append " + err.Error()}, s
	}
	next, err := s.WithRouteElementAppended(name, element)
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	return command.Result{Success: true, Message: fmt.Sprintf("appended %q to route %q", element, name)}, next
}

// RoutePrepend implements `!/route-prepend(name,backend:model)`.
type RoutePrepend struct{}

func (RoutePrepend) Name() string        { return "route-prepend" }
func (RoutePrepend) Aliases() []string   { return nil }
func (RoutePrepend) Description() string { return "Prepend an element to a failover route." }
func (RoutePrepend) Examples() []string  { return []string{"!/route-prepend(myroute,openrouter:gpt-4)"} }

func (RoutePrepend) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	name, element, err := routeAndElement(args)
	if err != nil {
		return command.Result{Success: false, Message: "route-prepend " + err.Error()}, s
	}
	next, err := s.WithRouteElementPrepended(name, element)
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	return command.Result{Success: true, Message: fmt.Sprintf("prepended %q to route %q", element, name)}, next
}

// RouteClear implements `!/route-clear(name)`.
type RouteClear struct{}

func (RouteClear) Name() string        { return "route-clear" }
func (RouteClear) Aliases() []string   { return nil }
func (RouteClear) Description() string { return "Empty a failover route's element list." }
func (RouteClear) Examples() []string  { return []string{"!/route-clear(myroute)"} }

func (RouteClear) Handle(args command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	name, _ := firstArgKey(args)
	if name == "" {
		return command.Result{Success: false, Message: "route-clear requires a name"}, s
	}
	next, err := s.WithRouteCleared(name)
	if err != nil {
		return command.Result{Success: false, Message: err.Error()}, s
	}
	return command.Result{Success: true, Message: fmt.Sprintf("route %q cleared", name)}, next
}

// RouteList implements `!/route-list`, aliased `list-failover-routes`.
type RouteList struct{}

func (RouteList) Name() string        { return "route-list" }
func (RouteList) Aliases() []string   { return []string{"list-failover-routes"} }
func (RouteList) Description() string { return "List configured failover routes." }
func (RouteList) Examples() []string  { return []string{"!/route-list"} }

func (RouteList) Handle(_ command.Args, s *session.State, _ command.Context) (command.Result, *session.State) {
	if len(s.Backend.FailoverRoutes) == 0 {
		return command.Result{Success: true, Message: "no failover routes configured"}, s
	}
	names := make([]string, 0, len(s.Backend.FailoverRoutes))
	for name := range s.Backend.FailoverRoutes {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		route := s.Backend.FailoverRoutes[name]
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s[%s]=%s", name, route.Policy, strings.Join(route.Elements, ","))
	}
	return command.Result{Success: true, Message: b.String()}, s
}
