package patterns

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/agentbuilder"
	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
	"github.com/agentflowhq/engine/toolregistry"
)

// keyedAgentBuilder resolves distinct clients per agent id, for patterns
// that invoke more than one named agent (Routing, Parallel, Workflow,
// Evaluator, Orchestrator, Graph).
type keyedAgentBuilder struct {
	clients map[string]modelclient.Client
}

func (b keyedAgentBuilder) Build(agentID string) (*agentbuilder.Agent, error) {
	return &agentbuilder.Agent{ID: agentID, Client: b.clients[agentID]}, nil
}

func multiDeps(clients map[string]modelclient.Client) *Deps {
	expr, _ := exprlang.NewExpr()
	return &Deps{
		Builder:   keyedAgentBuilder{clients: clients},
		Registry:  toolregistry.New(toolregistry.Guard{}),
		Expr:      expr,
		SessionID: "sess-1",
	}
}

func TestRoutingSelectsDeclaredRouteAndRunsIt(t *testing.T) {
	router := &scriptedAgentClient{responses: []modelclient.Response{{Text: `{"route":"billing","rationale":"mentions invoice"}`}}}
	billing := &scriptedAgentClient{responses: []modelclient.Response{{Text: "handled"}}}
	d := multiDeps(map[string]modelclient.Client{"router": router, "billing_agent": billing})

	r := Routing{Spec: spec.Routing{
		RouterAgentID: "router",
		RouterInput:   "classify",
		Routes: map[string]spec.Chain{
			"billing": {Steps: []spec.Step{spec.AgentStep{AgentID: "billing_agent", InputTemplate: "go"}}},
		},
	}}
	state := &session.PatternState{}

	out, err := r.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "handled", out.Response)
	assert.Equal(t, "billing", state.Routing.SelectedRoute)
}

func TestRoutingFallsBackToDefaultOnUnknownRoute(t *testing.T) {
	router := &scriptedAgentClient{responses: []modelclient.Response{{Text: `{"route":"unknown_thing"}`}}}
	fallback := &scriptedAgentClient{responses: []modelclient.Response{{Text: "fallback handled"}}}
	d := multiDeps(map[string]modelclient.Client{"router": router, "fallback_agent": fallback})

	r := Routing{Spec: spec.Routing{
		RouterAgentID: "router",
		Routes: map[string]spec.Chain{
			"fallback": {Steps: []spec.Step{spec.AgentStep{AgentID: "fallback_agent", InputTemplate: "go"}}},
		},
		Default: "fallback",
	}}
	state := &session.PatternState{}

	out, err := r.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback handled", out.Response)
}

func TestRoutingFailsWhenRouteUnknownAndNoDefault(t *testing.T) {
	router := &scriptedAgentClient{responses: []modelclient.Response{{Text: `{"route":"nope"}`}}}
	d := multiDeps(map[string]modelclient.Client{"router": router})

	r := Routing{Spec: spec.Routing{RouterAgentID: "router", Routes: map[string]spec.Chain{}}}
	state := &session.PatternState{}

	_, err := r.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.Error(t, err)
	var routingErr *RoutingError
	assert.ErrorAs(t, err, &routingErr)
}
