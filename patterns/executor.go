package patterns

import (
	"context"
	"fmt"
	"time"

	"github.com/agentflowhq/engine/agentbuilder"
	"github.com/agentflowhq/engine/ctxpolicy"
	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/hooks"
	"github.com/agentflowhq/engine/interrupt"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
	"github.com/agentflowhq/engine/toolregistry"
)

// AgentBuilder resolves an agent id to a ready-to-invoke Agent handle.
// agentbuilder.Builder satisfies this; tests substitute a fixed lookup.
type AgentBuilder interface {
	Build(agentID string) (*agentbuilder.Agent, error)
}

// Deps is the common set of collaborators every pattern executor needs:
// the agent builder, the context-policy hooks shared by the whole run, the
// tool registry, the session store for checkpointing, and the event bus.
// One Deps is built per run and threaded unchanged through every pattern
// (including a Routing or Orchestrator's nested Chains).
type Deps struct {
	Builder   AgentBuilder
	Hooks     *ctxpolicy.Hooks
	Registry  *toolregistry.Registry
	Store     session.Store
	Bus       *hooks.Bus
	Expr      *exprlang.Expr
	SessionID   string
	Budgets     spec.Budgets
	MaxParallel int // workflow-level concurrency cap for Parallel branches and Workflow/Orchestrator dispatch
}

// Outcome is what a pattern executor returns: either a terminal response, or
// a pause awaiting a human decision at a ManualGate.
type Outcome struct {
	Response string
	Usage    modelclient.TokenUsage
	Paused   *PauseRequest
}

// PauseRequest is returned by a Chain (directly, or on behalf of whichever
// pattern embeds one) when it reaches a ManualGate it has not yet resolved.
type PauseRequest struct {
	Gate *interrupt.Gate
}

// RoundTripper implements the engine-facing control surface a pattern
// exposes: Run drives it to completion or to its next pause point, starting
// fresh or resuming from previously checkpointed PatternState. resume is
// non-nil only on the call that resumes a previously paused ManualGate; it
// is nil for a fresh run and for every subsequent call within the same Run.
type RoundTripper interface {
	Run(ctx context.Context, deps *Deps, scope exprlang.Scope, state *session.PatternState, resume *session.Decision) (Outcome, error)
}

// withDeadline derives a context bound to the workflow's configured
// wall-clock budget. A zero MaxDurationS means unbounded.
func (d *Deps) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.Budgets.MaxDurationS <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(d.Budgets.MaxDurationS)*time.Second)
}

// emit publishes an event if a bus is configured; patterns call this at
// every step/task/branch/node boundary rather than guarding Bus == nil
// themselves at every call site.
func (d *Deps) emit(ctx context.Context, typ hooks.EventType, data map[string]any) {
	if d.Bus == nil {
		return
	}
	d.Bus.Publish(ctx, hooks.New(typ, d.SessionID, data))
}

// checkpoint persists state as a single, total write. Pattern executors
// call this after every top-level step/task/branch/node completes, never
// mid-step, so a resume always picks up from a fully settled boundary.
func (d *Deps) checkpoint(state session.PatternState) error {
	if d.Store == nil {
		return nil
	}
	return d.Store.SavePatternState(d.SessionID, state)
}

// buildAgent resolves an agent handle, applying a tool-set override when
// override is non-empty (used by the Orchestrator's worker_template).
func (d *Deps) buildAgent(agentID string, override []string) (*agentbuilder.Agent, error) {
	a, err := d.Builder.Build(agentID)
	if err != nil {
		return nil, err
	}
	if len(override) == 0 {
		return a, nil
	}
	cp := *a
	cp.Tools = override
	return &cp, nil
}

// invokeAgent renders prompt against scope and runs one retry-wrapped agent
// turn. history is always nil: every pattern step is a fresh turn: long-
// running context lives in scope, not in a carried message history.
func (d *Deps) invokeAgent(ctx context.Context, agentID string, override []string, inputTemplate string, scope exprlang.Scope) (agentbuilder.Result, error) {
	agent, err := d.buildAgent(agentID, override)
	if err != nil {
		return agentbuilder.Result{}, err
	}
	prompt, err := exprlang.Render(inputTemplate, scope)
	if err != nil {
		return agentbuilder.Result{}, fmt.Errorf("patterns: rendering input for agent %q: %w", agentID, err)
	}
	return invokeWithRetry(ctx, agent, prompt, nil, d.Hooks, d.Registry)
}

// runStep executes one Step (AgentStep or ManualGate) against scope,
// returning the agent's response text, or a non-nil *PauseRequest when the
// step is a ManualGate not yet resolved in resumeDecision.
func runStep(ctx context.Context, d *Deps, step spec.Step, stepIndex int, scope exprlang.Scope, resumeDecision *session.Decision) (response string, usage modelclient.TokenUsage, pause *PauseRequest, err error) {
	switch s := step.(type) {
	case spec.AgentStep:
		result, ierr := d.invokeAgent(ctx, s.AgentID, nil, s.InputTemplate, scope)
		if ierr != nil {
			return "", modelclient.TokenUsage{}, nil, ierr
		}
		return result.Response, result.Usage, nil, nil

	case spec.ManualGate:
		if resumeDecision != nil {
			switch resumeDecision.Kind {
			case session.DecisionReject:
				return "", modelclient.TokenUsage{}, nil, fmt.Errorf("patterns: manual gate %q rejected", s.ID)
			case session.DecisionModify:
				return resumeDecision.Feedback, modelclient.TokenUsage{}, nil, nil
			default: // approve
				return "", modelclient.TokenUsage{}, nil, nil
			}
		}
		gate := interrupt.New(d.SessionID, stepIndex, s.Prompt, s.TimeoutS, time.Now().UTC().Format(time.RFC3339))
		return "", modelclient.TokenUsage{}, &PauseRequest{Gate: gate}, nil

	default:
		return "", modelclient.TokenUsage{}, nil, fmt.Errorf("patterns: unsupported step type %T", step)
	}
}
