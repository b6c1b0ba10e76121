// Package engine wires every collaborator package — the agent builder,
// session store, context-policy hooks, tool registry, event bus, artifact
// writer, and the seven pattern executors — into the two operations a
// caller actually needs: running a spec to completion or to its next pause
// point, and resuming a paused session with a human decision.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentflowhq/engine/agentbuilder"
	"github.com/agentflowhq/engine/artifact"
	"github.com/agentflowhq/engine/ctxpolicy"
	"github.com/agentflowhq/engine/errs"
	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/hooks"
	"github.com/agentflowhq/engine/interrupt"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/patterns"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/spec"
	"github.com/agentflowhq/engine/telemetry"
	"github.com/agentflowhq/engine/toolregistry"
	"github.com/google/uuid"
)

// Config is the complete, explicit set of collaborators one Engine needs.
// There is no package-level state: every field here is supplied by the
// caller at construction, and nothing is read from the environment by
// engine internals afterward.
type Config struct {
	Spec         spec.Spec
	RawSpec      map[string]any // the decoded document Spec was built from, for spec_hash (spec.Hash); nil is recorded as the empty-document hash
	Store        session.Store
	Registry     *toolregistry.Registry
	Pool         *modelclient.Pool
	Expr         *exprlang.Expr
	ArtifactsDir string
	Telemetry    telemetry.Bundle
	Summarizer   modelclient.Client // optional: context-policy compaction summarizer; falls back to the agent's own client when nil
}

// Engine runs one loaded, gated Spec against a session store, resolving
// agents, invoking the matching pattern executor, and persisting progress
// at every checkpoint boundary.
type Engine struct {
	cfg     Config
	builder *agentbuilder.Builder
	writer  *artifact.Writer
	bus     *hooks.Bus
}

// New constructs an Engine from cfg. cfg.Spec must already have passed
// spec.Gate; New does not re-validate it.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errs.New(errs.KindUsage, "engine: a session store is required", nil)
	}
	if cfg.Pool == nil {
		return nil, errs.New(errs.KindUsage, "engine: a model client pool is required", nil)
	}
	if cfg.Expr == nil {
		return nil, errs.New(errs.KindUsage, "engine: an expression evaluator is required", nil)
	}
	if cfg.Telemetry.Logger == nil {
		cfg.Telemetry = telemetry.NewNoop()
	}

	writer, err := artifact.New(cfg.ArtifactsDir)
	if err != nil {
		return nil, errs.New(errs.KindIO, "engine: constructing artifact writer", err)
	}

	bus := hooks.NewBus()
	if _, err := bus.Register(&telemetrySink{tel: cfg.Telemetry}); err != nil {
		return nil, errs.New(errs.KindUnexpected, "engine: registering telemetry sink", err)
	}

	builder := agentbuilder.New(cfg.Spec, cfg.Pool, cfg.Registry)

	return &Engine{cfg: cfg, builder: builder, writer: writer, bus: bus}, nil
}

// Run starts a fresh session for the Engine's Spec with the given inputs,
// driving its pattern to completion or to its first pause point.
func (e *Engine) Run(ctx context.Context, sessionID string, inputs map[string]any) (session.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now().UTC().Format(time.RFC3339)

	sess := session.Session{
		ID:        sessionID,
		SpecName:  e.cfg.Spec.Name,
		SpecHash:  spec.Hash(e.cfg.RawSpec),
		Status:    session.StatusRunning,
		Variables: inputs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.cfg.Store.Create(sess); err != nil {
		return session.Session{}, errs.New(errs.KindSession, "engine: creating session", err)
	}

	state := session.PatternState{Kind: string(e.cfg.Spec.Pattern.Kind())}
	scope := exprlang.Scope{"inputs": inputs}

	return e.drive(ctx, sess, state, scope, nil)
}

// Resume continues a previously paused session, applying decision to the
// pending ManualGate and re-entering the pattern executor from its
// checkpointed state.
func (e *Engine) Resume(ctx context.Context, sessionID string, decision session.Decision) (session.Session, error) {
	sess, err := e.cfg.Store.Get(sessionID)
	if err != nil {
		return session.Session{}, errs.New(errs.KindSession, fmt.Sprintf("engine: loading session %q", sessionID), err)
	}
	if sess.Status != session.StatusPaused {
		return session.Session{}, errs.New(errs.KindUsage, fmt.Sprintf("engine: session %q is not paused (status=%s)", sessionID, sess.Status), nil)
	}

	state, err := e.cfg.Store.LoadPatternState(sessionID)
	if err != nil {
		return session.Session{}, errs.New(errs.KindSession, "engine: loading pattern state", err)
	}

	next, _ := interrupt.Apply(decision)
	if next == session.StatusFailed {
		sess.Status = session.StatusFailed
		sess.FailReason = "manual gate rejected"
		sess.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		if uerr := e.cfg.Store.Update(sess); uerr != nil {
			return session.Session{}, errs.New(errs.KindSession, "engine: persisting rejected session", uerr)
		}
		return sess, nil
	}

	// Approve and modify both resume StatusRunning: the paused pattern's
	// checkpointed state still points at the step that raised the gate (a
	// pause always returns before advancing CurrentStepIndex), so the
	// pattern's own resumeDecision handling in runStep re-settles that same
	// step instead of needing the engine to rewind anything here.
	sess.Status = session.StatusRunning
	scope := exprlang.Scope{"inputs": sess.Variables}
	return e.drive(ctx, sess, state, scope, &decision)
}

// drive invokes the pattern executor matching sess's spec and settles the
// session into paused/completed/failed based on the outcome, writing
// declared artifacts only once the run completes.
func (e *Engine) drive(ctx context.Context, sess session.Session, state session.PatternState, scope exprlang.Scope, resume *session.Decision) (session.Session, error) {
	e.bus.Publish(ctx, hooks.New(hooks.WorkflowStart, sess.ID, map[string]any{"spec_name": e.cfg.Spec.Name}))

	primary, err := e.cfg.Pool.Get(e.cfg.Spec.Runtime)
	if err != nil {
		return e.fail(ctx, sess, errs.New(errs.KindRuntime, "engine: resolving default runtime client", err))
	}
	hooksChain := ctxpolicy.New(e.cfg.Spec.ContextPolicy, primary, e.cfg.Summarizer, e.bus, sess.ID)
	hooksChain.Budget.Bind(e.cfg.Spec.Runtime.Budgets.MaxTokens)

	deps := &patterns.Deps{
		Builder:     e.builder,
		Hooks:       hooksChain,
		Registry:    e.cfg.Registry,
		Store:       e.cfg.Store,
		Bus:         e.bus,
		Expr:        e.cfg.Expr,
		SessionID:   sess.ID,
		Budgets:     e.cfg.Spec.Runtime.Budgets,
		MaxParallel: e.cfg.Spec.Runtime.MaxParallel,
	}

	runnable, err := selectPattern(e.cfg.Spec.Pattern)
	if err != nil {
		return e.fail(ctx, sess, errs.New(errs.KindUnsupported, "engine: selecting pattern executor", err))
	}

	outcome, err := runnable.Run(ctx, deps, scope, &state, resume)
	if err != nil {
		return e.fail(ctx, sess, classify(err))
	}

	if outcome.Paused != nil {
		sess.Status = session.StatusPaused
		sess.TokenUsage = sumUsage(sess.TokenUsage, outcome.Usage)
		sess.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		if uerr := e.cfg.Store.Update(sess); uerr != nil {
			return session.Session{}, errs.New(errs.KindSession, "engine: persisting paused session", uerr)
		}
		e.bus.Publish(ctx, hooks.New(hooks.InterruptPending, sess.ID, map[string]any{"gate_id": outcome.Paused.Gate.Record.GateID, "prompt": outcome.Paused.Gate.Record.Prompt}))
		return sess, nil
	}

	finalScope := scope.WithValue("last_response", outcome.Response)
	if err := e.writer.WriteAll(e.cfg.Spec.Outputs, finalScope); err != nil {
		return e.fail(ctx, sess, errs.New(errs.KindIO, "engine: writing output artifacts", err))
	}

	sess.Status = session.StatusCompleted
	sess.TokenUsage = sumUsage(sess.TokenUsage, outcome.Usage)
	sess.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := e.cfg.Store.Update(sess); err != nil {
		return session.Session{}, errs.New(errs.KindSession, "engine: persisting completed session", err)
	}
	e.bus.Publish(ctx, hooks.New(hooks.WorkflowComplete, sess.ID, map[string]any{"response": outcome.Response}))
	return sess, nil
}

func (e *Engine) fail(ctx context.Context, sess session.Session, cause error) (session.Session, error) {
	sess.Status = session.StatusFailed
	sess.FailReason = cause.Error()
	sess.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if uerr := e.cfg.Store.Update(sess); uerr != nil {
		return session.Session{}, errs.New(errs.KindSession, "engine: persisting failed session", uerr)
	}
	e.bus.Publish(ctx, hooks.New(hooks.WorkflowError, sess.ID, map[string]any{"error": cause.Error()}))
	return sess, cause
}

// selectPattern resolves s to the RoundTripper that drives it, by its
// closed Kind discriminator.
func selectPattern(s spec.Pattern) (patterns.RoundTripper, error) {
	switch p := s.(type) {
	case spec.Chain:
		return patterns.Chain{Spec: p}, nil
	case spec.Routing:
		return patterns.Routing{Spec: p}, nil
	case spec.Parallel:
		return patterns.Parallel{Spec: p}, nil
	case spec.Workflow:
		return patterns.Workflow{Spec: p}, nil
	case spec.Evaluator:
		return patterns.Evaluator{Spec: p}, nil
	case spec.Orchestrator:
		return patterns.Orchestrator{Spec: p}, nil
	case spec.Graph:
		return patterns.Graph{Spec: p}, nil
	default:
		return nil, fmt.Errorf("no pattern executor for %T", s)
	}
}

// classify maps a pattern-executor failure to the error kind the CLI
// reports as its exit code.
func classify(err error) error {
	var budgetErr *ctxpolicy.BudgetExceededError
	if errors.As(err, &budgetErr) {
		return errs.New(errs.KindBudget, "engine: token budget exceeded", err)
	}
	var secErr *exprlang.SecurityError
	if errors.As(err, &secErr) {
		// A sandbox violation caught mid-run is a runtime failure (exit 10),
		// not an unsupported-feature finding (exit 18) — that class is
		// reserved for the pre-run capability gate.
		return errs.New(errs.KindRuntime, "engine: expression or template security violation", err)
	}
	var pe *modelclient.ProviderError
	if errors.As(err, &pe) {
		return errs.New(errs.KindRuntime, "engine: model provider error", err)
	}
	return errs.New(errs.KindRuntime, "engine: pattern execution failed", err)
}

func sumUsage(a, b modelclient.TokenUsage) modelclient.TokenUsage {
	return modelclient.TokenUsage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		TotalTokens:  a.TotalTokens + b.TotalTokens,
	}
}
