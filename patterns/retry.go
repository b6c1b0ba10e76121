// Package patterns implements the seven composition pattern executors
// (chain, routing, parallel, workflow, evaluator, orchestrator, graph)
// that drive AgentSpec-based agents according to a pattern's spec.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/agentflowhq/engine/agentbuilder"
	"github.com/agentflowhq/engine/ctxpolicy"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
	"github.com/agentflowhq/engine/toolregistry"
)

// retryConfig is the resolved backoff schedule for one runtime's
// FailurePolicy.
type retryConfig struct {
	maxAttempts int
	initial     time.Duration
	max         time.Duration
	multiplier  float64
	jitter      float64
}

// newRetryConfig translates a spec.FailurePolicy into a concrete schedule.
// Retries of 0 means the invocation is attempted exactly once.
func newRetryConfig(p spec.FailurePolicy) retryConfig {
	attempts := p.Retries + 1
	if attempts < 1 {
		attempts = 1
	}
	cfg := retryConfig{maxAttempts: attempts, initial: 200 * time.Millisecond, max: 15 * time.Second}
	switch p.Backoff {
	case spec.BackoffConstant:
		cfg.multiplier = 1
	case spec.BackoffJittered:
		cfg.multiplier = 2
		cfg.jitter = 0.2
	default: // spec.BackoffExponential and unset default to exponential
		cfg.multiplier = 2
	}
	return cfg
}

// isRetryable classifies an agent-invocation error as retryable: HTTP 5xx,
// timeouts, and provider-side rate limits recover under backoff; everything
// else propagates immediately.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var provErr *modelclient.ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}
	return false
}

// invokeWithRetry runs one Agent.Invoke under the runtime's failure policy,
// retrying retryable errors with backoff and propagating everything else
// immediately. Every pattern executor routes its agent invocations through
// this one entry point so the failure policy applies uniformly.
func invokeWithRetry(ctx context.Context, agent *agentbuilder.Agent, prompt string, history []modelclient.Message, hooks *ctxpolicy.Hooks, registry *toolregistry.Registry) (agentbuilder.Result, error) {
	cfg := newRetryConfig(agent.Runtime.Failure)

	var lastErr error
	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return agentbuilder.Result{}, err
		}
		result, err := agent.Invoke(ctx, prompt, history, hooks, registry)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == cfg.maxAttempts {
			return agentbuilder.Result{}, err
		}

		wait := backoffDuration(cfg, attempt)
		select {
		case <-ctx.Done():
			return agentbuilder.Result{}, ctx.Err()
		case <-time.After(wait):
		}
	}
	return agentbuilder.Result{}, fmt.Errorf("patterns: retry loop exited without resolving: %w", lastErr)
}

func backoffDuration(cfg retryConfig, attempt int) time.Duration {
	d := float64(cfg.initial) * math.Pow(cfg.multiplier, float64(attempt-1))
	if d > float64(cfg.max) {
		d = float64(cfg.max)
	}
	if cfg.jitter > 0 {
		d += d * cfg.jitter * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
