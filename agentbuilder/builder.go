// Package agentbuilder constructs and caches Agent handles: the effective,
// fully-resolved runtime, tool set, and model client backing one named agent
// for the duration of a run.
package agentbuilder

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
	"github.com/agentflowhq/engine/toolregistry"
)

// Agent is a fully resolved, ready-to-invoke agent handle.
type Agent struct {
	ID      string
	Prompt  string
	Runtime spec.Runtime
	Tools   []string
	Client  modelclient.Client
}

// Builder resolves AgentSpecs from a loaded Spec into Agent handles,
// layering runtime configuration spec -> per-agent override, and caches the
// result so that a given (agent id, effective overrides, tool set) is only
// ever assembled once per run.
type Builder struct {
	spec     spec.Spec
	pool     *modelclient.Pool
	registry *toolregistry.Registry

	mu    sync.Mutex
	cache map[string]*Agent
}

// New constructs a Builder bound to one loaded Spec.
func New(s spec.Spec, pool *modelclient.Pool, registry *toolregistry.Registry) *Builder {
	return &Builder{spec: s, pool: pool, registry: registry, cache: make(map[string]*Agent)}
}

// Build resolves and returns the Agent handle for agentID, reusing a cached
// handle when the effective runtime and tool set are unchanged from a prior
// call within this Builder's lifetime.
func (b *Builder) Build(agentID string) (*Agent, error) {
	as, ok := b.spec.Agents[agentID]
	if !ok {
		return nil, fmt.Errorf("agentbuilder: agent %q is not declared", agentID)
	}

	effective := b.spec.Runtime
	if as.RuntimeOverride != nil {
		effective = mergeRuntime(effective, *as.RuntimeOverride)
	}

	key := cacheKey(agentID, effective, as.Tools)

	b.mu.Lock()
	if a, ok := b.cache[key]; ok {
		b.mu.Unlock()
		return a, nil
	}
	b.mu.Unlock()

	client, err := b.pool.Get(effective)
	if err != nil {
		return nil, fmt.Errorf("agentbuilder: building agent %q: %w", agentID, err)
	}

	agent := &Agent{
		ID:      agentID,
		Prompt:  as.Prompt,
		Runtime: effective,
		Tools:   as.Tools,
		Client:  client,
	}

	b.mu.Lock()
	b.cache[key] = agent
	b.mu.Unlock()
	return agent, nil
}

// mergeRuntime layers override on top of base: any field left at its zero
// value in override inherits base's value.
func mergeRuntime(base, override spec.Runtime) spec.Runtime {
	merged := base
	if override.Provider != "" {
		merged.Provider = override.Provider
	}
	if override.ModelID != "" {
		merged.ModelID = override.ModelID
	}
	if override.Region != "" {
		merged.Region = override.Region
	}
	if override.Host != "" {
		merged.Host = override.Host
	}
	if override.Temperature != 0 {
		merged.Temperature = override.Temperature
	}
	if override.MaxTokens != 0 {
		merged.MaxTokens = override.MaxTokens
	}
	if override.TopP != 0 {
		merged.TopP = override.TopP
	}
	if override.MaxParallel != 0 {
		merged.MaxParallel = override.MaxParallel
	}
	if override.Budgets != (spec.Budgets{}) {
		merged.Budgets = override.Budgets
	}
	if override.Failure != (spec.FailurePolicy{}) {
		merged.Failure = override.Failure
	}
	return merged
}

// cacheKey builds the agent cache key: (agent_id, canonical(effective
// runtime), frozenset(tool_names)). The tool set is sorted so that
// declaration order never produces a spurious cache miss.
func cacheKey(agentID string, rt spec.Runtime, tools []string) string {
	sorted := append([]string(nil), tools...)
	sort.Strings(sorted)
	return fmt.Sprintf("%s|%s|%s", agentID, canonicalRuntime(rt), strings.Join(sorted, ","))
}

func canonicalRuntime(rt spec.Runtime) string {
	return fmt.Sprintf("%s:%s:%s:%s:%g:%d:%g:%d:%d:%d:%d:%d:%s",
		rt.Provider, rt.ModelID, rt.Region, rt.Host,
		rt.Temperature, rt.MaxTokens, rt.TopP, rt.MaxParallel,
		rt.Budgets.MaxSteps, rt.Budgets.MaxTokens, rt.Budgets.MaxDurationS,
		rt.Failure.Retries, rt.Failure.Backoff)
}
