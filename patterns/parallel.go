package patterns

import (
	"context"
	"fmt"
	"hash/crc32"
	"sync"

	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/hooks"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
)

// Parallel drives the Parallel pattern: two or more branches run
// concurrently, each an independent Chain, with an optional reduce step
// over the branches that completed.
type Parallel struct {
	Spec spec.Parallel
}

// Run implements RoundTripper. ManualGate steps inside branches are
// supported, but only one pause is surfaced per Run call: if multiple
// branches reach a gate in the same round, the others are left pending and
// simply re-run (idempotently, since no step before their own gate mutates
// anything the retry would duplicate) on the next Resume.
func (p Parallel) Run(ctx context.Context, d *Deps, scope exprlang.Scope, state *session.PatternState, resume *session.Decision) (Outcome, error) {
	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	if state.Parallel == nil {
		state.Parallel = &session.ParallelState{}
	}
	ps := state.Parallel
	if len(ps.Branches) == 0 {
		ps.Branches = make([]session.BranchState, len(p.Spec.Branches))
		for i, b := range p.Spec.Branches {
			ps.Branches[i] = session.BranchState{ID: b.ID, Status: session.RunPending}
		}
	}

	maxParallel := d.MaxParallel
	if maxParallel <= 0 || maxParallel > len(p.Spec.Branches) {
		maxParallel = len(p.Spec.Branches)
	}
	sem := make(chan struct{}, max1(maxParallel))

	var mu sync.Mutex
	var wg sync.WaitGroup
	var firstPause *PauseRequest
	var total modelclient.TokenUsage

	for i, branch := range p.Spec.Branches {
		i, branch := i, branch
		if ps.Branches[i].Status != session.RunPending {
			continue
		}

		var branchResume *session.Decision
		if resume != nil && isSameBranch(state, branch.ID) {
			branchResume = resume
		}

		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			branchScope := scope.WithValue("branch_id", branch.ID)
			chain := spec.Chain{Steps: branch.Steps}
			offset := int(crc32.ChecksumIEEE([]byte(branch.ID))) * 1000

			response, usage, pause, err := runChain(ctx, d, chain, branchScope, &session.ChainState{
				CurrentStepIndex: stepIndexFor(ps.Branches[i]),
				StepHistory:      ps.Branches[i].StepHistory,
			}, branchResume, func(cs session.ChainState) error {
				mu.Lock()
				ps.Branches[i].StepHistory = cs.StepHistory
				snapshot := *state
				mu.Unlock()
				return d.checkpoint(snapshot)
			}, offset)

			mu.Lock()
			defer mu.Unlock()
			total = sumTokenUsage(total, usage)
			switch {
			case pause != nil && firstPause == nil:
				firstPause = pause
				state.Interrupt = &pause.Gate.Record
			case err != nil:
				ps.Branches[i].Status = session.RunFailed
				ps.Branches[i].FailReason = err.Error()
				d.emit(ctx, hooks.BranchComplete, map[string]any{"branch_id": branch.ID, "status": "failed"})
			case pause == nil:
				_ = response
				ps.Branches[i].Status = session.RunCompleted
				d.emit(ctx, hooks.BranchComplete, map[string]any{"branch_id": branch.ID, "status": "completed"})
			}
			_ = d.checkpoint(*state)
		}()
	}
	wg.Wait()

	if firstPause != nil {
		return Outcome{Paused: firstPause}, nil
	}
	state.Interrupt = nil

	completed := 0
	for _, b := range ps.Branches {
		if b.Status == session.RunCompleted {
			completed++
		}
	}
	if completed == 0 {
		return Outcome{}, fmt.Errorf("patterns: all %d branches of a parallel pattern failed", len(ps.Branches))
	}

	if p.Spec.ReduceAgentID == "" || ps.ReduceDone {
		return Outcome{Response: ps.Reduced, Usage: total}, nil
	}

	reduceScope := scope.WithValue("branches", branchesToScope(ps.Branches))
	result, err := d.invokeAgent(ctx, p.Spec.ReduceAgentID, nil, p.Spec.ReduceInput, reduceScope)
	if err != nil {
		return Outcome{}, err
	}
	total = sumTokenUsage(total, result.Usage)
	ps.Reduced = result.Response
	ps.ReduceDone = true
	state.Kind = string(spec.KindParallel)
	if err := d.checkpoint(*state); err != nil {
		return Outcome{}, err
	}
	return Outcome{Response: ps.Reduced, Usage: total}, nil
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// isSameBranch is a conservative check: a resume decision applies to
// whichever branch's persisted interrupt record it was paired with by the
// engine's Resume path before branches were dispatched again. Absent a
// per-branch interrupt record, every still-pending branch is offered the
// decision and only the one actually blocked on a matching gate consumes it.
func isSameBranch(state *session.PatternState, branchID string) bool {
	return state.Interrupt != nil
}

func stepIndexFor(b session.BranchState) int {
	return len(b.StepHistory)
}

// branchesToScope exposes only completed branches: a failed branch's
// (possibly partial) output must not be visible to the reduce step.
func branchesToScope(branches []session.BranchState) map[string]any {
	out := make(map[string]any, len(branches))
	for _, b := range branches {
		if b.Status != session.RunCompleted {
			continue
		}
		response := ""
		if len(b.StepHistory) > 0 {
			response = b.StepHistory[len(b.StepHistory)-1].Response
		}
		out[b.ID] = map[string]any{"status": string(b.Status), "response": response}
	}
	return out
}
