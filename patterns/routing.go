package patterns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
)

// Routing drives the Routing pattern: one router agent decision selects a
// named Chain to execute.
type Routing struct {
	Spec spec.Routing
}

// RoutingError reports a router decision that named a route the spec does
// not declare and no Default was configured to fall back to.
type RoutingError struct {
	Route string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("patterns: router selected unknown route %q and no default is configured", e.Route)
}

type routerDecision struct {
	Route     string `json:"route"`
	Rationale string `json:"rationale"`
}

// Run implements RoundTripper.
func (r Routing) Run(ctx context.Context, d *Deps, scope exprlang.Scope, state *session.PatternState, resume *session.Decision) (Outcome, error) {
	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	if state.Routing == nil {
		state.Routing = &session.RoutingState{}
	}
	rs := state.Routing

	if rs.SelectedRoute == "" {
		result, err := d.invokeAgent(ctx, r.Spec.RouterAgentID, nil, r.Spec.RouterInput, scope)
		if err != nil {
			return Outcome{}, err
		}

		var dec routerDecision
		if err := json.Unmarshal([]byte(result.Response), &dec); err != nil {
			return Outcome{}, fmt.Errorf("patterns: router agent %q returned invalid decision JSON: %w", r.Spec.RouterAgentID, err)
		}
		route := dec.Route
		if _, ok := r.Spec.Routes[route]; !ok {
			if r.Spec.Default == "" {
				return Outcome{}, &RoutingError{Route: route}
			}
			route = r.Spec.Default
		}

		rs.SelectedRoute = route
		rs.Rationale = dec.Rationale
		state.Kind = string(spec.KindRouting)
		if err := d.checkpoint(*state); err != nil {
			return Outcome{}, err
		}
	}

	chain := r.Spec.Routes[rs.SelectedRoute]
	routeScope := scope.WithValue("route", rs.SelectedRoute)

	response, usage, pause, err := runChain(ctx, d, chain, routeScope, &rs.Chain, resume, func(cs session.ChainState) error {
		rs.Chain = cs
		state.Kind = string(spec.KindRouting)
		return d.checkpoint(*state)
	}, 0)
	if err != nil {
		return Outcome{}, err
	}
	if pause != nil {
		state.Interrupt = &pause.Gate.Record
		_ = d.checkpoint(*state)
		return Outcome{Paused: pause}, nil
	}
	state.Interrupt = nil
	return Outcome{Response: response, Usage: usage}, nil
}
