package patterns

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
)

// Evaluator drives the Evaluator-Optimizer pattern: a producer drafts,
// an evaluator scores the draft, and the producer revises until the score
// clears MinScore or MaxIters is reached.
type Evaluator struct {
	Spec spec.Evaluator
}

// EvaluatorOutputError reports an evaluator response that was not valid
// JSON or did not carry a numeric score. It is never retried: a model that
// cannot follow the evaluation contract will not self-correct by retrying
// the same prompt.
type EvaluatorOutputError struct {
	Raw string
	Err error
}

func (e *EvaluatorOutputError) Error() string {
	return fmt.Sprintf("patterns: evaluator agent returned a response that was not a scored JSON object: %v", e.Err)
}
func (e *EvaluatorOutputError) Unwrap() error { return e.Err }

type evaluationResult struct {
	// Score is a pointer so a response that omits it entirely (valid JSON,
	// invalid evaluation contract) is distinguishable from an explicit 0.0.
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
	Issues   string   `json:"issues"`
}

const defaultRevisePrompt = "The previous draft scored {{ evaluation.score }}/1.0. Feedback: {{ evaluation.feedback }}. Revise the draft to address this feedback.\n\nPrevious draft:\n{{ last_response }}"

// Run implements RoundTripper. Evaluator never pauses on a ManualGate.
func (e Evaluator) Run(ctx context.Context, d *Deps, scope exprlang.Scope, state *session.PatternState, _ *session.Decision) (Outcome, error) {
	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	if state.Evaluator == nil {
		state.Evaluator = &session.EvaluatorState{}
	}
	es := state.Evaluator
	maxIters := e.Spec.MaxIters
	if maxIters <= 0 {
		maxIters = 1
	}

	revisePrompt := e.Spec.RevisePrompt
	if revisePrompt == "" {
		revisePrompt = defaultRevisePrompt
	}

	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		draftScope := scope.WithValue("last_response", es.LastOutput).
			WithValue("iteration", es.Iteration).
			WithValue("evaluation", map[string]any{"score": es.LastScore, "feedback": es.LastFeedback})

		producerInput := e.Spec.ProducerInput
		if es.Iteration > 0 {
			producerInput = revisePrompt
		}
		draft, err := d.invokeAgent(ctx, e.Spec.ProducerAgentID, nil, producerInput, draftScope)
		if err != nil {
			return Outcome{}, err
		}
		es.LastOutput = draft.Response

		evalScope := scope.WithValue("last_response", es.LastOutput).WithValue("iteration", es.Iteration)
		evalResult, err := d.invokeAgent(ctx, e.Spec.EvaluatorAgentID, nil, e.Spec.EvaluatorInput, evalScope)
		if err != nil {
			return Outcome{}, err
		}

		var parsed evaluationResult
		if jerr := json.Unmarshal([]byte(evalResult.Response), &parsed); jerr != nil {
			return Outcome{}, &EvaluatorOutputError{Raw: evalResult.Response, Err: jerr}
		}
		if parsed.Score == nil {
			return Outcome{}, &EvaluatorOutputError{Raw: evalResult.Response, Err: fmt.Errorf("response has no \"score\" field")}
		}
		es.LastScore = *parsed.Score
		es.LastFeedback = parsed.Feedback
		if es.LastFeedback == "" {
			es.LastFeedback = parsed.Issues
		}
		es.Iteration++

		state.Kind = string(spec.KindEvaluator)
		if err := d.checkpoint(*state); err != nil {
			return Outcome{}, err
		}

		if es.LastScore >= e.Spec.MinScore || es.Iteration >= maxIters {
			return Outcome{Response: es.LastOutput}, nil
		}
	}
}
