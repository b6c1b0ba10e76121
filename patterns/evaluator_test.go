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

func TestEvaluatorAcceptsDraftOnceScoreClearsThreshold(t *testing.T) {
	producer := &scriptedAgentClient{responses: []modelclient.Response{{Text: "draft one"}}}
	evaluator := &scriptedAgentClient{responses: []modelclient.Response{{Text: `{"score":0.9,"feedback":"great"}`}}}
	d := multiDeps(map[string]modelclient.Client{"producer": producer, "evaluator": evaluator})

	e := Evaluator{Spec: spec.Evaluator{
		ProducerAgentID: "producer", ProducerInput: "draft it",
		EvaluatorAgentID: "evaluator", EvaluatorInput: "score it",
		MinScore: 0.8, MaxIters: 3,
	}}
	state := &session.PatternState{}

	out, err := e.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "draft one", out.Response)
	assert.Equal(t, 1, state.Evaluator.Iteration)
}

func TestEvaluatorLoopsUntilMaxItersWhenScoreNeverClears(t *testing.T) {
	producer := &scriptedAgentClient{responses: []modelclient.Response{
		{Text: "draft one"}, {Text: "draft two"},
	}}
	evaluator := &scriptedAgentClient{responses: []modelclient.Response{
		{Text: `{"score":0.1,"feedback":"needs work"}`},
		{Text: `{"score":0.2,"feedback":"still needs work"}`},
	}}
	d := multiDeps(map[string]modelclient.Client{"producer": producer, "evaluator": evaluator})

	e := Evaluator{Spec: spec.Evaluator{
		ProducerAgentID: "producer", ProducerInput: "draft it",
		EvaluatorAgentID: "evaluator", EvaluatorInput: "score it",
		MinScore: 0.9, MaxIters: 2,
	}}
	state := &session.PatternState{}

	out, err := e.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.NoError(t, err)
	assert.Equal(t, "draft two", out.Response)
	assert.Equal(t, 2, state.Evaluator.Iteration)
}

func TestEvaluatorRejectsInvalidEvaluationJSON(t *testing.T) {
	producer := &scriptedAgentClient{responses: []modelclient.Response{{Text: "draft one"}}}
	evaluator := &scriptedAgentClient{responses: []modelclient.Response{{Text: "not json"}}}
	d := multiDeps(map[string]modelclient.Client{"producer": producer, "evaluator": evaluator})

	e := Evaluator{Spec: spec.Evaluator{
		ProducerAgentID: "producer", EvaluatorAgentID: "evaluator", MinScore: 0.5, MaxIters: 1,
	}}
	state := &session.PatternState{}

	_, err := e.Run(context.Background(), d, exprlang.Scope{}, state, nil)
	require.Error(t, err)
	var evalErr *EvaluatorOutputError
	assert.ErrorAs(t, err, &evalErr)
}
