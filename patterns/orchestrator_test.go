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

func TestOrchestratorDispatchesWorkersAndTerminatesOnEmptyTaskList(t *testing.T) {
	coordinator := &scriptedAgentClient{responses: []modelclient.Response{
		{Text: `{"tasks":[{"id":"t1","description":"do thing one"},{"id":"t2","description":"do thing two"}]}`},
		{Text: `{"tasks":[]}`},
	}}
	worker := &scriptedAgentClient{responses: []modelclient.Response{{Text: "w1-out"}, {Text: "w2-out"}}}
	d := multiDeps(map[string]modelclient.Client{"coordinator": coordinator, "worker": worker})

	o := Orchestrator{Spec: spec.Orchestrator{
		OrchestratorAgentID: "coordinator",
		WorkerAgentID:       "worker",
		MaxWorkers:          4,
		MaxRounds:           5,
	}}
	state := &session.PatternState{}

	_, err := o.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Orchestrator.Round)
	assert.Len(t, state.Orchestrator.WorkerOutputs, 2)
}

func TestOrchestratorAppliesReduceAndWriteup(t *testing.T) {
	coordinator := &scriptedAgentClient{responses: []modelclient.Response{{Text: `{"tasks":[]}`}}}
	reducer := &scriptedAgentClient{responses: []modelclient.Response{{Text: "reduced"}}}
	writer := &scriptedAgentClient{responses: []modelclient.Response{{Text: "final writeup"}}}
	d := multiDeps(map[string]modelclient.Client{"coordinator": coordinator, "reducer": reducer, "writer": writer})

	o := Orchestrator{Spec: spec.Orchestrator{
		OrchestratorAgentID: "coordinator",
		WorkerAgentID:       "worker",
		MaxRounds:           3,
		ReduceAgentID:       "reducer",
		WriteupAgentID:      "writer",
	}}
	state := &session.PatternState{}

	out, err := o.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "final writeup", out.Response)
	assert.Equal(t, "reduced", state.Orchestrator.Reduced)
}

func TestOrchestratorStopsAtMaxRoundsEvenIfCoordinatorKeepsProposing(t *testing.T) {
	coordinator := &scriptedAgentClient{responses: []modelclient.Response{
		{Text: `{"tasks":[{"id":"t1","description":"x"}]}`},
		{Text: `{"tasks":[{"id":"t2","description":"x"}]}`},
	}}
	worker := &scriptedAgentClient{responses: []modelclient.Response{{Text: "out1"}, {Text: "out2"}}}
	d := multiDeps(map[string]modelclient.Client{"coordinator": coordinator, "worker": worker})

	o := Orchestrator{Spec: spec.Orchestrator{
		OrchestratorAgentID: "coordinator",
		WorkerAgentID:       "worker",
		MaxRounds:           2,
	}}
	state := &session.PatternState{}

	_, err := o.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Orchestrator.Round)
}
