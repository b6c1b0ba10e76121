package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
)

// Orchestrator drives the Orchestrator-Workers pattern: a coordinating
// agent proposes a round of worker tasks, workers run concurrently, their
// results feed back into the next round, and the coordinator terminates by
// proposing an empty task list.
type Orchestrator struct {
	Spec spec.Orchestrator
}

type workerTask struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	ToolOverride []string `json:"tool_override,omitempty"`
}

type orchestratorProposal struct {
	Tasks []workerTask `json:"tasks"`
}

// Run implements RoundTripper. Orchestrator never pauses on a ManualGate.
func (o Orchestrator) Run(ctx context.Context, d *Deps, scope exprlang.Scope, state *session.PatternState, _ *session.Decision) (Outcome, error) {
	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	if state.Orchestrator == nil {
		state.Orchestrator = &session.OrchestratorState{}
	}
	os := state.Orchestrator

	maxRounds := o.Spec.MaxRounds
	if maxRounds <= 0 {
		maxRounds = 1
	}
	maxWorkers := o.Spec.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 8
	}
	maxParallel := d.MaxParallel
	if maxParallel <= 0 {
		maxParallel = maxWorkers
	}

	for os.Round < maxRounds {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		coordScope := scope.WithValue("round", os.Round).WithValue("worker_outputs", os.WorkerOutputs)
		proposalResult, err := d.invokeAgent(ctx, o.Spec.OrchestratorAgentID, nil, o.Spec.OrchestratorInput, coordScope)
		if err != nil {
			return Outcome{}, err
		}

		var proposal orchestratorProposal
		if jerr := json.Unmarshal([]byte(proposalResult.Response), &proposal); jerr != nil {
			return Outcome{}, fmt.Errorf("patterns: orchestrator agent %q returned invalid task-list JSON: %w", o.Spec.OrchestratorAgentID, jerr)
		}
		if len(proposal.Tasks) == 0 {
			break // coordinator signaled completion
		}
		if len(proposal.Tasks) > maxWorkers {
			proposal.Tasks = proposal.Tasks[:maxWorkers]
		}

		outputs := make([]string, len(proposal.Tasks))
		sem := make(chan struct{}, maxParallel)
		var wg sync.WaitGroup
		var mu sync.Mutex
		var firstErr error

		for i, task := range proposal.Tasks {
			i, task := i, task
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				workerScope := scope.WithValue("task_id", task.ID).WithValue("task_description", task.Description)
				override := task.ToolOverride
				if len(override) == 0 {
					override = o.Spec.WorkerToolOverride
				}
				result, werr := d.invokeAgent(ctx, o.Spec.WorkerAgentID, override, task.Description, workerScope)

				mu.Lock()
				defer mu.Unlock()
				if werr != nil {
					if firstErr == nil {
						firstErr = werr
					}
					return
				}
				outputs[i] = result.Response
			}()
		}
		wg.Wait()
		if firstErr != nil {
			return Outcome{}, firstErr
		}

		os.WorkerOutputs = append(os.WorkerOutputs, outputs...)
		os.Round++
		state.Kind = string(spec.KindOrchestrator)
		if err := d.checkpoint(*state); err != nil {
			return Outcome{}, err
		}
	}

	finalScope := scope.WithValue("worker_outputs", os.WorkerOutputs)
	if o.Spec.ReduceAgentID != "" && !os.ReduceDone {
		result, err := d.invokeAgent(ctx, o.Spec.ReduceAgentID, nil, o.Spec.ReduceInput, finalScope)
		if err != nil {
			return Outcome{}, err
		}
		os.Reduced = result.Response
		os.ReduceDone = true
	}

	response := os.Reduced
	if o.Spec.WriteupAgentID != "" {
		writeupScope := finalScope.WithValue("reduced", os.Reduced)
		result, err := d.invokeAgent(ctx, o.Spec.WriteupAgentID, nil, o.Spec.WriteupInput, writeupScope)
		if err != nil {
			return Outcome{}, err
		}
		os.Writeup = result.Response
		response = os.Writeup
	}
	if response == "" && len(os.WorkerOutputs) > 0 {
		response = os.WorkerOutputs[len(os.WorkerOutputs)-1]
	}

	state.Kind = string(spec.KindOrchestrator)
	if err := d.checkpoint(*state); err != nil {
		return Outcome{}, err
	}
	return Outcome{Response: response}, nil
}
