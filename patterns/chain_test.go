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

// scriptedAgentClient returns one canned Response per Complete call, in
// order, and records every prompt it was asked to complete.
type scriptedAgentClient struct {
	responses []modelclient.Response
	calls     int
	prompts   []string
}

func (c *scriptedAgentClient) Complete(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	resp := c.responses[c.calls]
	c.calls++
	if len(req.Messages) > 0 {
		c.prompts = append(c.prompts, req.Messages[len(req.Messages)-1].Text)
	}
	return resp, nil
}
func (c *scriptedAgentClient) Stream(ctx context.Context, req modelclient.Request) (modelclient.Streamer, error) {
	return nil, nil
}
func (c *scriptedAgentClient) CountTokens(ctx context.Context, text string) (int, error) {
	return 0, nil
}

// fixedAgentBuilder returns the same Agent handle regardless of the id
// asked for, which is all a single-agent pattern test needs.
type fixedAgentBuilder struct {
	agent *agentbuilder.Agent
}

func (b fixedAgentBuilder) Build(agentID string) (*agentbuilder.Agent, error) {
	cp := *b.agent
	cp.ID = agentID
	return &cp, nil
}

func testDeps(client modelclient.Client) *Deps {
	expr, _ := exprlang.NewExpr()
	return &Deps{
		Builder:   fixedAgentBuilder{agent: &agentbuilder.Agent{Client: client, Runtime: spec.Runtime{}}},
		Registry:  toolregistry.New(toolregistry.Guard{}),
		Expr:      expr,
		SessionID: "sess-1",
	}
}

func TestRunChainExecutesStepsInOrderAndCheckpoints(t *testing.T) {
	client := &scriptedAgentClient{responses: []modelclient.Response{
		{Text: "first"},
		{Text: "second"},
	}}
	d := testDeps(client)

	chain := spec.Chain{Steps: []spec.Step{
		spec.AgentStep{AgentID: "a", InputTemplate: "go"},
		spec.AgentStep{AgentID: "a", InputTemplate: "{{ last_response }}"},
	}}
	state := &session.ChainState{}

	var checkpoints int
	response, usage, pause, err := runChain(context.Background(), d, chain, exprlang.Scope{}, state, nil, func(session.ChainState) error {
		checkpoints++
		return nil
	}, 0)

	require.NoError(t, err)
	assert.Nil(t, pause)
	assert.Equal(t, "second", response)
	assert.Equal(t, 2, checkpoints)
	assert.Equal(t, modelclient.TokenUsage{}, usage)
	require.Len(t, state.StepHistory, 2)
	assert.Equal(t, "first", state.StepHistory[0].Response)
	assert.Equal(t, "first", client.prompts[1]) // second step's rendered last_response
}

func TestRunChainResumesFromCheckpointedIndex(t *testing.T) {
	client := &scriptedAgentClient{responses: []modelclient.Response{{Text: "second"}}}
	d := testDeps(client)

	chain := spec.Chain{Steps: []spec.Step{
		spec.AgentStep{AgentID: "a", InputTemplate: "go"},
		spec.AgentStep{AgentID: "a", InputTemplate: "go again"},
	}}
	state := &session.ChainState{
		CurrentStepIndex: 1,
		StepHistory:      []session.StepRecord{{Index: 0, Response: "first"}},
	}

	response, _, pause, err := runChain(context.Background(), d, chain, exprlang.Scope{}, state, nil, func(session.ChainState) error { return nil }, 0)
	require.NoError(t, err)
	assert.Nil(t, pause)
	assert.Equal(t, "second", response)
	assert.Equal(t, 1, client.calls)
}

func TestRunChainPausesAtManualGate(t *testing.T) {
	client := &scriptedAgentClient{responses: []modelclient.Response{{Text: "first"}}}
	d := testDeps(client)

	chain := spec.Chain{Steps: []spec.Step{
		spec.AgentStep{AgentID: "a", InputTemplate: "go"},
		spec.ManualGate{ID: "approve", Prompt: "ok?"},
	}}
	state := &session.ChainState{}

	_, _, pause, err := runChain(context.Background(), d, chain, exprlang.Scope{}, state, nil, func(session.ChainState) error { return nil }, 0)
	require.NoError(t, err)
	require.NotNil(t, pause)
	assert.Equal(t, "ok?", pause.Gate.Record.Prompt)
	assert.Equal(t, 1, state.CurrentStepIndex) // the gate step itself was not consumed
}

func TestRunChainResumesManualGateWithApprove(t *testing.T) {
	client := &scriptedAgentClient{responses: []modelclient.Response{{Text: "after gate"}}}
	d := testDeps(client)

	chain := spec.Chain{Steps: []spec.Step{
		spec.ManualGate{ID: "approve", Prompt: "ok?"},
		spec.AgentStep{AgentID: "a", InputTemplate: "go"},
	}}
	state := &session.ChainState{}
	decision := &session.Decision{Kind: session.DecisionApprove}

	response, _, pause, err := runChain(context.Background(), d, chain, exprlang.Scope{}, state, decision, func(session.ChainState) error { return nil }, 0)
	require.NoError(t, err)
	assert.Nil(t, pause)
	assert.Equal(t, "after gate", response)
}
