package patterns

import (
	"context"
	"fmt"

	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
)

// Graph drives the Graph pattern: a possibly-cyclic node/edge orchestration
// bounded only by MaxIterations and the run's own budgets.
type Graph struct {
	Spec spec.Graph
}

// NoMatchingEdgeError reports a node whose outgoing edges, once every
// choose[].when was evaluated in order, matched nothing and carried no
// "else" fallback. This is a capability-gate-class failure: it means the
// graph was reachable into a state it cannot leave.
type NoMatchingEdgeError struct {
	NodeID string
}

func (e *NoMatchingEdgeError) Error() string {
	return fmt.Sprintf("patterns: node %q has no matching outgoing edge", e.NodeID)
}

// Run implements RoundTripper. Graph never pauses on a ManualGate.
func (g Graph) Run(ctx context.Context, d *Deps, scope exprlang.Scope, state *session.PatternState, _ *session.Decision) (Outcome, error) {
	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	if state.Graph == nil {
		state.Graph = &session.GraphState{CurrentNode: g.Spec.StartNode, NodeResponses: map[string]string{}}
	}
	gs := state.Graph
	if gs.NodeResponses == nil {
		gs.NodeResponses = map[string]string{}
	}

	maxIterations := g.Spec.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	edgesFrom := make(map[string][]spec.Edge, len(g.Spec.Edges))
	for _, e := range g.Spec.Edges {
		edgesFrom[e.From] = append(edgesFrom[e.From], e)
	}

	var lastResponse string
	for gs.Iterations < maxIterations {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		node, ok := g.Spec.Nodes[gs.CurrentNode]
		if !ok {
			return Outcome{}, fmt.Errorf("patterns: graph reached undeclared node %q", gs.CurrentNode)
		}

		nodeScope := scope.WithValue("node_id", node.ID).
			WithValue("last_response", lastResponse).
			WithValue("nodes", nodesToScope(gs)).
			WithValue("terminal_node", gs.TerminalNode)
		result, err := d.invokeAgent(ctx, node.AgentID, nil, node.Input, nodeScope)
		if err != nil {
			return Outcome{}, err
		}
		lastResponse = result.Response
		gs.Visited = append(gs.Visited, node.ID)
		gs.NodeResponses[node.ID] = lastResponse
		gs.Iterations++

		state.Kind = string(spec.KindGraph)
		if err := d.checkpoint(*state); err != nil {
			return Outcome{}, err
		}

		evalScope := scope.WithValue("last_response", lastResponse).
			WithValue("nodes", nodesToScope(gs)).
			WithValue("terminal_node", gs.TerminalNode)
		next, terminal, err := g.nextNode(d, node.ID, evalScope, edgesFrom)
		if err != nil {
			return Outcome{}, err
		}
		if terminal {
			gs.TerminalNode = node.ID
			state.Kind = string(spec.KindGraph)
			if err := d.checkpoint(*state); err != nil {
				return Outcome{}, err
			}
			break
		}
		gs.CurrentNode = next

		state.Kind = string(spec.KindGraph)
		if err := d.checkpoint(*state); err != nil {
			return Outcome{}, err
		}
	}

	return Outcome{Response: lastResponse}, nil
}

// nodesToScope exposes every executed node's response as nodes.<id>.response,
// so a later node's input template or edge condition can reference an
// earlier node's output by id.
func nodesToScope(gs *session.GraphState) map[string]any {
	out := make(map[string]any, len(gs.NodeResponses))
	for id, resp := range gs.NodeResponses {
		out[id] = map[string]any{"response": resp}
	}
	return out
}

// nextNode evaluates the outgoing edges of nodeID in declaration order,
// returning the first unconditional edge's target, or the first choice
// whose condition evaluates true (an "else" choice always matches).
// terminal is true when no outgoing edge exists at all: that is a normal
// graph exit, not an error.
func (g Graph) nextNode(d *Deps, nodeID string, scope exprlang.Scope, edgesFrom map[string][]spec.Edge) (next string, terminal bool, err error) {
	edges, ok := edgesFrom[nodeID]
	if !ok || len(edges) == 0 {
		return "", true, nil
	}

	for _, edge := range edges {
		if edge.To != "" {
			return edge.To, false, nil
		}
		for _, choice := range edge.Choose {
			if choice.When == "else" {
				return choice.To, false, nil
			}
			matched, err := d.Expr.Eval(choice.When, scope)
			if err != nil {
				return "", false, fmt.Errorf("patterns: evaluating edge condition from %q: %w", nodeID, err)
			}
			if matched {
				return choice.To, false, nil
			}
		}
	}
	return "", false, &NoMatchingEdgeError{NodeID: nodeID}
}
