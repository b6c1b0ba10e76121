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

func TestWorkflowRunsTasksInDependencyOrder(t *testing.T) {
	fetch := &scriptedAgentClient{responses: []modelclient.Response{{Text: "fetched"}}}
	summarize := &scriptedAgentClient{responses: []modelclient.Response{{Text: "summarized"}}}
	d := multiDeps(map[string]modelclient.Client{"fetcher": fetch, "summarizer": summarize})

	w := Workflow{Spec: spec.Workflow{Tasks: []spec.Task{
		{ID: "fetch", AgentID: "fetcher", Input: "go"},
		{ID: "summarize", AgentID: "summarizer", Input: "go", Deps: []string{"fetch"}},
	}}}
	state := &session.PatternState{}

	out, err := w.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "summarized", out.Response)
	for _, ts := range state.Workflow.Tasks {
		assert.Equal(t, session.RunCompleted, ts.Status)
	}
}

func TestWorkflowPropagatesSkipToDescendantsOnFailure(t *testing.T) {
	fail := &erroringAgentClient{err: errors.New("boom")}
	never := &scriptedAgentClient{responses: []modelclient.Response{{Text: "should not run"}}}
	independent := &scriptedAgentClient{responses: []modelclient.Response{{Text: "independent-out"}}}
	d := multiDeps(map[string]modelclient.Client{"failing": fail, "downstream": never, "side": independent})

	w := Workflow{Spec: spec.Workflow{Tasks: []spec.Task{
		{ID: "root", AgentID: "failing", Input: "go"},
		{ID: "child", AgentID: "downstream", Input: "go", Deps: []string{"root"}},
		{ID: "side", AgentID: "side", Input: "go"},
	}}}
	state := &session.PatternState{}

	_, err := w.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)

	statuses := map[string]session.RunState{}
	for _, ts := range state.Workflow.Tasks {
		statuses[ts.ID] = ts.Status
	}
	assert.Equal(t, session.RunFailed, statuses["root"])
	assert.Equal(t, session.RunSkipped, statuses["child"])
	assert.Equal(t, session.RunCompleted, statuses["side"])
	assert.Equal(t, 0, never.calls)
}
