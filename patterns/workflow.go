package patterns

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/hooks"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
)

// Workflow drives the Workflow pattern: a DAG of Tasks scheduled in
// topological order, dispatching up to MaxParallel ready tasks at a time.
// A task that fails after its own retries marks every transitive
// descendant skipped rather than aborting the remaining, independent
// branches of the graph.
type Workflow struct {
	Spec spec.Workflow
}

// Run implements RoundTripper. Workflow tasks never contain a ManualGate
// (spec.Task has no Step list), so resume is accepted for interface
// symmetry but never consulted.
func (w Workflow) Run(ctx context.Context, d *Deps, scope exprlang.Scope, state *session.PatternState, _ *session.Decision) (Outcome, error) {
	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	if state.Workflow == nil {
		state.Workflow = &session.WorkflowState{}
	}
	ws := state.Workflow
	if len(ws.Tasks) == 0 {
		ws.Tasks = make([]session.TaskState, len(w.Spec.Tasks))
		for i, t := range w.Spec.Tasks {
			ws.Tasks[i] = session.TaskState{ID: t.ID, Status: session.RunPending}
		}
	}

	byID := make(map[string]*spec.Task, len(w.Spec.Tasks))
	taskStateByID := make(map[string]*session.TaskState, len(ws.Tasks))
	for i := range w.Spec.Tasks {
		byID[w.Spec.Tasks[i].ID] = &w.Spec.Tasks[i]
	}
	for i := range ws.Tasks {
		taskStateByID[ws.Tasks[i].ID] = &ws.Tasks[i]
	}

	maxParallel := d.MaxParallel
	if maxParallel <= 0 {
		maxParallel = len(w.Spec.Tasks)
	}

	var mu sync.Mutex
	checkpoint := func() error {
		state.Kind = string(spec.KindWorkflow)
		return d.checkpoint(*state)
	}

	for {
		// Propagate skips: a pending task with any non-completed dep is
		// itself skipped, transitively, until a fixed point.
		changed := true
		for changed {
			changed = false
			for i := range ws.Tasks {
				ts := &ws.Tasks[i]
				if ts.Status != session.RunPending {
					continue
				}
				task := byID[ts.ID]
				for _, depID := range task.Deps {
					dep := taskStateByID[depID]
					if dep != nil && (dep.Status == session.RunFailed || dep.Status == session.RunSkipped) {
						ts.Status = session.RunSkipped
						ts.FailReason = "upstream dependency did not complete"
						d.emit(ctx, hooks.TaskComplete, map[string]any{"task_id": ts.ID, "status": "skipped"})
						changed = true
						break
					}
				}
			}
		}
		if err := checkpoint(); err != nil {
			return Outcome{}, err
		}

		ready := make([]*spec.Task, 0)
		for i := range ws.Tasks {
			ts := &ws.Tasks[i]
			if ts.Status != session.RunPending {
				continue
			}
			task := byID[ts.ID]
			allDepsDone := true
			for _, depID := range task.Deps {
				dep := taskStateByID[depID]
				if dep == nil || dep.Status != session.RunCompleted {
					allDepsDone = false
					break
				}
			}
			if allDepsDone {
				ready = append(ready, task)
				if len(ready) >= maxParallel {
					break
				}
			}
		}
		if len(ready) == 0 {
			break // nothing ready and nothing left to skip: either done, or a cycle no task can escape
		}

		mu.Lock()
		tasksScope := taskResponsesToScope(ws.Tasks)
		mu.Unlock()

		sem := make(chan struct{}, maxParallel)
		var wg sync.WaitGroup
		for _, task := range ready {
			task := task
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				taskScope := scope.WithValue("task_id", task.ID).WithValue("tasks", tasksScope)
				result, err := d.invokeAgent(ctx, task.AgentID, nil, task.Input, taskScope)

				mu.Lock()
				defer mu.Unlock()
				ts := taskStateByID[task.ID]
				if err != nil {
					ts.Status = session.RunFailed
					ts.FailReason = err.Error()
					d.emit(ctx, hooks.TaskComplete, map[string]any{"task_id": task.ID, "status": "failed"})
				} else {
					ts.Status = session.RunCompleted
					ts.Response = result.Response
					d.emit(ctx, hooks.TaskComplete, map[string]any{"task_id": task.ID, "status": "completed"})
				}
				_ = checkpoint()
			}()
		}
		wg.Wait()
	}

	// The workflow's terminal response is its last-completed task in
	// declaration order, matching how a DAG with a single sink node reads.
	// The workflow fails only when no task completed.
	response := ""
	completed := 0
	for _, ts := range ws.Tasks {
		if ts.Status == session.RunCompleted {
			response = ts.Response
			completed++
		}
	}
	if completed == 0 && len(ws.Tasks) > 0 {
		return Outcome{}, fmt.Errorf("patterns: none of the %d tasks of a workflow pattern completed", len(ws.Tasks))
	}
	return Outcome{Response: response}, nil
}

// taskResponsesToScope exposes every completed task's response as
// tasks.<id>.response, for downstream tasks whose input template fans in
// more than one upstream dependency's output. Caller must hold mu.
func taskResponsesToScope(tasks []session.TaskState) map[string]any {
	out := make(map[string]any, len(tasks))
	for _, ts := range tasks {
		if ts.Status == session.RunCompleted {
			out[ts.ID] = map[string]any{"response": ts.Response}
		}
	}
	return out
}
