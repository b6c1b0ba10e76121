package patterns

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
)

func TestGraphFollowsUnconditionalEdgeToTerminalNode(t *testing.T) {
	start := &scriptedAgentClient{responses: []modelclient.Response{{Text: "start-out"}}}
	end := &scriptedAgentClient{responses: []modelclient.Response{{Text: "end-out"}}}
	d := multiDeps(map[string]modelclient.Client{"start_agent": start, "end_agent": end})

	g := Graph{Spec: spec.Graph{
		StartNode: "start",
		Nodes: map[string]spec.Node{
			"start": {ID: "start", AgentID: "start_agent", Input: "go"},
			"end":   {ID: "end", AgentID: "end_agent", Input: "go"},
		},
		Edges:         []spec.Edge{{From: "start", To: "end"}},
		MaxIterations: 10,
	}}
	state := &session.PatternState{}

	out, err := g.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "end-out", out.Response)
	assert.Equal(t, []string{"start", "end"}, state.Graph.Visited)
}

func TestGraphEvaluatesChooseConditionsInOrder(t *testing.T) {
	check := &scriptedAgentClient{responses: []modelclient.Response{{Text: "checked"}}}
	retry := &scriptedAgentClient{responses: []modelclient.Response{{Text: "retried"}}}
	finish := &scriptedAgentClient{responses: []modelclient.Response{{Text: "finished"}}}
	d := multiDeps(map[string]modelclient.Client{"check_agent": check, "retry_agent": retry, "finish_agent": finish})

	g := Graph{Spec: spec.Graph{
		StartNode: "check",
		Nodes: map[string]spec.Node{
			"check":  {ID: "check", AgentID: "check_agent", Input: "go"},
			"retry":  {ID: "retry", AgentID: "retry_agent", Input: "go"},
			"finish": {ID: "finish", AgentID: "finish_agent", Input: "go"},
		},
		Edges: []spec.Edge{{From: "check", Choose: []spec.Choice{
			{When: `scope.last_response == "nope"`, To: "retry"},
			{When: "else", To: "finish"},
		}}},
		MaxIterations: 10,
	}}
	state := &session.PatternState{}

	out, err := g.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "finished", out.Response) // first choice false, else fallback taken
	assert.Equal(t, []string{"check", "finish"}, state.Graph.Visited)
}

func TestGraphStopsAtMaxIterationsOnCycle(t *testing.T) {
	loop := &scriptedAgentClient{responses: []modelclient.Response{{Text: "x"}, {Text: "x"}, {Text: "x"}}}
	d := multiDeps(map[string]modelclient.Client{"loop_agent": loop})

	g := Graph{Spec: spec.Graph{
		StartNode: "loop",
		Nodes:     map[string]spec.Node{"loop": {ID: "loop", AgentID: "loop_agent", Input: "go"}},
		Edges:     []spec.Edge{{From: "loop", To: "loop"}},
		MaxIterations: 3,
	}}
	state := &session.PatternState{}

	_, err := g.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Graph.Iterations)
}

func TestGraphFailsWhenNoEdgeMatches(t *testing.T) {
	node := &scriptedAgentClient{responses: []modelclient.Response{{Text: "x"}}}
	d := multiDeps(map[string]modelclient.Client{"node_agent": node})

	g := Graph{Spec: spec.Graph{
		StartNode: "n",
		Nodes:     map[string]spec.Node{"n": {ID: "n", AgentID: "node_agent", Input: "go"}},
		Edges: []spec.Edge{{From: "n", Choose: []spec.Choice{
			{When: `scope.last_response == "never"`, To: "n"},
		}}},
		MaxIterations: 5,
	}}
	state := &session.PatternState{}

	_, err := g.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.Error(t, err)
	var noMatch *NoMatchingEdgeError
	assert.ErrorAs(t, err, &noMatch)
}
