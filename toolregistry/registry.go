// Package toolregistry provides the name-indexed Tool registry and the
// call-time safety guards: SSRF re-screening for network tools and path
// sandboxing for filesystem tools.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentflowhq/engine/spec"
)

type (
	// Tool is a named, schema-described capability exposed to agents.
	Tool interface {
		// Name returns the tool's stable identifier.
		Name() string
		// InputSchema returns a JSON Schema describing the tool's input.
		InputSchema() []byte
		// SideEffectClass classifies the tool's side effects.
		SideEffectClass() spec.SideEffectClass
		// Invoke executes the tool. input is canonical JSON; the result is
		// also canonical JSON (or an error).
		Invoke(ctx context.Context, input json.RawMessage) (json.RawMessage, error)
	}

	// Registry is a name-indexed, thread-safe collection of Tools with the
	// SSRF and path-sandbox guards layered on top of every invocation.
	Registry struct {
		mu      sync.RWMutex
		tools   map[string]Tool
		guard   Guard
		timeout map[string]bool // names explicitly marked idempotent=false
	}

	// Guard enforces the call-time safety checks ahead of every Invoke.
	Guard struct {
		AllowedHosts []string
		ArtifactsDir string
	}
)

// New constructs an empty Registry.
func New(guard Guard) *Registry {
	return &Registry{tools: make(map[string]Tool), guard: guard, timeout: make(map[string]bool)}
}

// Register adds a tool, replacing any existing registration with the same
// name. Registration itself does not validate SSRF/path policy; every
// Invoke call re-screens a URL or path argument against current policy.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// MarkNonIdempotent records that name is not safe to retry; IsIdempotent
// reports the mark. Registry.Invoke and the pattern retry loop do not
// consult it.
func (r *Registry) MarkNonIdempotent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout[name] = true
}

// IsIdempotent reports whether name is safe to retry.
func (r *Registry) IsIdempotent(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.timeout[name]
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the set of registered tool names, primarily for the
// capability gate's GateOptions.RegisteredTools.
func (r *Registry) Names() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.tools))
	for n := range r.tools {
		out[n] = true
	}
	return out
}

// Invoke looks up name and invokes it after re-running the relevant
// guard for its side-effect class. HTTP tools are re-screened for SSRF on
// every call (URLs can be templated from model-controlled input); file
// tools are re-checked for path-sandbox violations.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage, targetURL, targetPath string) (json.RawMessage, error) {
	t, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("toolregistry: tool %q is not registered", name)
	}
	switch t.SideEffectClass() {
	case spec.SideEffectNetwork:
		if targetURL != "" {
			if err := spec.ScreenURL(targetURL, r.guard.AllowedHosts); err != nil {
				return nil, fmt.Errorf("toolregistry: %q blocked: %w", name, err)
			}
		}
	case spec.SideEffectFilesystemWrite, spec.SideEffectFilesystemRead:
		if targetPath != "" {
			if err := guardPath(r.guard.ArtifactsDir, targetPath, t.SideEffectClass() == spec.SideEffectFilesystemWrite); err != nil {
				return nil, fmt.Errorf("toolregistry: %q blocked: %w", name, err)
			}
		}
	}
	return t.Invoke(ctx, input)
}
