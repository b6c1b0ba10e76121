package modelclient

import (
	"fmt"
	"sync"

	"github.com/agentflowhq/engine/spec"
)

// Factory constructs a Client for one (provider, model, region/host) triple.
// Provider adapters register a Factory under their spec.Provider value.
type Factory func(rt spec.Runtime) (Client, error)

// Pool caches Clients keyed by (provider, model, region or host) so that
// repeated agent invocations against the same endpoint reuse one
// provider-side connection instead of constructing a fresh client per call.
type Pool struct {
	mu        sync.Mutex
	factories map[spec.Provider]Factory
	clients   map[string]Client
}

// NewPool constructs an empty Pool.
func NewPool() *Pool {
	return &Pool{
		factories: make(map[spec.Provider]Factory),
		clients:   make(map[string]Client),
	}
}

// Register installs the Factory used to build clients for provider.
func (p *Pool) Register(provider spec.Provider, f Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[provider] = f
}

// Get returns the cached Client for rt, constructing and caching one via
// the registered Factory on first use.
func (p *Pool) Get(rt spec.Runtime) (Client, error) {
	key := poolKey(rt)

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	f, ok := p.factories[rt.Provider]
	if !ok {
		return nil, fmt.Errorf("modelclient: no factory registered for provider %q", rt.Provider)
	}
	c, err := f(rt)
	if err != nil {
		return nil, fmt.Errorf("modelclient: constructing client for %s: %w", key, err)
	}
	c = NewRateLimiter(c, defaultInitialTPM, defaultMaxTPM)
	p.clients[key] = c
	return c, nil
}

// defaultInitialTPM and defaultMaxTPM bound the adaptive rate limiter every
// pooled client is wrapped with, absent a per-runtime override.
const (
	defaultInitialTPM = 60000
	defaultMaxTPM     = 240000
)

func poolKey(rt spec.Runtime) string {
	locator := rt.Region
	if locator == "" {
		locator = rt.Host
	}
	return fmt.Sprintf("%s/%s/%s", rt.Provider, rt.ModelID, locator)
}
