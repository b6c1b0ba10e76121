package patterns

import (
	"context"

	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/hooks"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
)

// Chain drives the top-level Chain pattern.
type Chain struct {
	Spec spec.Chain
}

// Run implements RoundTripper.
func (c Chain) Run(ctx context.Context, d *Deps, scope exprlang.Scope, state *session.PatternState, resume *session.Decision) (Outcome, error) {
	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	if state.Chain == nil {
		state.Chain = &session.ChainState{}
	}

	response, usage, pause, err := runChain(ctx, d, c.Spec, scope, state.Chain, resume, func(cs session.ChainState) error {
		state.Chain = &cs
		state.Kind = string(spec.KindChain)
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

// runChain drives chain.Steps from state.CurrentStepIndex onward, persisting
// via persist after every completed step. It underlies the top-level Chain
// pattern, every Routing route, and every Parallel branch, so a Routing
// selection or a branch's own steps get identical resume and checkpoint
// semantics to a bare Chain. gateOffset is added to the step index used to
// derive a ManualGate's identity, so concurrently running Parallel branches
// at the same step index never collide on the same gate id.
func runChain(ctx context.Context, d *Deps, chain spec.Chain, scope exprlang.Scope, state *session.ChainState, resumeDecision *session.Decision, persist func(session.ChainState) error, gateOffset int) (string, modelclient.TokenUsage, *PauseRequest, error) {
	var total modelclient.TokenUsage
	first := true

	for state.CurrentStepIndex < len(chain.Steps) {
		if err := ctx.Err(); err != nil {
			return "", total, nil, err
		}
		step := chain.Steps[state.CurrentStepIndex]
		stepScope := withStepHistory(scope, state.StepHistory)

		var dec *session.Decision
		if first {
			dec = resumeDecision
		}
		first = false

		response, usage, pause, err := runStep(ctx, d, step, gateOffset+state.CurrentStepIndex, stepScope, dec)
		if err != nil {
			return "", total, nil, err
		}
		if pause != nil {
			return "", total, pause, nil
		}
		total = sumTokenUsage(total, usage)

		agentID := ""
		if as, ok := step.(spec.AgentStep); ok {
			agentID = as.AgentID
		}
		state.StepHistory = append(state.StepHistory, session.StepRecord{Index: state.CurrentStepIndex, AgentID: agentID, Response: response})
		state.CurrentStepIndex++

		if err := persist(*state); err != nil {
			return "", total, nil, err
		}
		d.emit(ctx, hooks.StepComplete, map[string]any{"step_index": state.CurrentStepIndex - 1, "agent_id": agentID})
	}

	if len(state.StepHistory) == 0 {
		return "", total, nil, nil
	}
	return state.StepHistory[len(state.StepHistory)-1].Response, total, nil, nil
}

// withStepHistory returns scope extended with "steps" (the completed step
// records, as a list of maps) and "last_response" (the most recent one, or
// "" before any step has run).
func withStepHistory(scope exprlang.Scope, history []session.StepRecord) exprlang.Scope {
	steps := make([]any, len(history))
	last := ""
	for i, rec := range history {
		steps[i] = map[string]any{"index": rec.Index, "agent_id": rec.AgentID, "response": rec.Response}
		last = rec.Response
	}
	return scope.WithValue("steps", steps).WithValue("last_response", last)
}

func sumTokenUsage(a, b modelclient.TokenUsage) modelclient.TokenUsage {
	return modelclient.TokenUsage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		TotalTokens:  a.TotalTokens + b.TotalTokens,
	}
}
