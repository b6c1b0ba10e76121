package patterns

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
)

// erroringAgentClient always fails, used to exercise a failed branch.
type erroringAgentClient struct{ err error }

func (c *erroringAgentClient) Complete(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	return modelclient.Response{}, c.err
}
func (c *erroringAgentClient) Stream(ctx context.Context, req modelclient.Request) (modelclient.Streamer, error) {
	return nil, nil
}
func (c *erroringAgentClient) CountTokens(ctx context.Context, text string) (int, error) { return 0, nil }

func TestParallelRunsAllBranchesAndReduces(t *testing.T) {
	a := &scriptedAgentClient{responses: []modelclient.Response{{Text: "a-out"}}}
	b := &scriptedAgentClient{responses: []modelclient.Response{{Text: "b-out"}}}
	reduce := &scriptedAgentClient{responses: []modelclient.Response{{Text: "combined"}}}
	d := multiDeps(map[string]modelclient.Client{"agent_a": a, "agent_b": b, "reducer": reduce})

	p := Parallel{Spec: spec.Parallel{
		Branches: []spec.Branch{
			{ID: "branch_a", Steps: []spec.Step{spec.AgentStep{AgentID: "agent_a", InputTemplate: "go"}}},
			{ID: "branch_b", Steps: []spec.Step{spec.AgentStep{AgentID: "agent_b", InputTemplate: "go"}}},
		},
		ReduceAgentID: "reducer",
		ReduceInput:   "combine",
	}}
	state := &session.PatternState{}

	out, err := p.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "combined", out.Response)
	assert.Equal(t, session.RunCompleted, state.Parallel.Branches[0].Status)
	assert.Equal(t, session.RunCompleted, state.Parallel.Branches[1].Status)
}

func TestParallelExcludesFailedBranchFromSuccessButSucceedsOverall(t *testing.T) {
	ok := &scriptedAgentClient{responses: []modelclient.Response{{Text: "ok-out"}}}
	bad := &erroringAgentClient{err: errors.New("boom")}
	d := multiDeps(map[string]modelclient.Client{"agent_ok": ok, "agent_bad": bad})

	p := Parallel{Spec: spec.Parallel{
		Branches: []spec.Branch{
			{ID: "good", Steps: []spec.Step{spec.AgentStep{AgentID: "agent_ok", InputTemplate: "go"}}},
			{ID: "bad", Steps: []spec.Step{spec.AgentStep{AgentID: "agent_bad", InputTemplate: "go"}}},
		},
	}}
	state := &session.PatternState{}

	_, err := p.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)

	var goodStatus, badStatus session.RunState
	for _, b := range state.Parallel.Branches {
		if b.ID == "good" {
			goodStatus = b.Status
		}
		if b.ID == "bad" {
			badStatus = b.Status
		}
	}
	assert.Equal(t, session.RunCompleted, goodStatus)
	assert.Equal(t, session.RunFailed, badStatus)
}

func TestParallelFailsWhenEveryBranchFails(t *testing.T) {
	bad1 := &erroringAgentClient{err: errors.New("boom1")}
	bad2 := &erroringAgentClient{err: errors.New("boom2")}
	d := multiDeps(map[string]modelclient.Client{"agent_1": bad1, "agent_2": bad2})

	p := Parallel{Spec: spec.Parallel{
		Branches: []spec.Branch{
			{ID: "b1", Steps: []spec.Step{spec.AgentStep{AgentID: "agent_1", InputTemplate: "go"}}},
			{ID: "b2", Steps: []spec.Step{spec.AgentStep{AgentID: "agent_2", InputTemplate: "go"}}},
		},
	}}
	state := &session.PatternState{}

	_, err := p.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.Error(t, err)
}
