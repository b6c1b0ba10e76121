package ctxpolicy

import (
	"fmt"
	"sync"

	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
)

// BudgetExceededError is fatal: cumulative token usage reached the
// configured budget. It is never retried and maps to its own exit code.
type BudgetExceededError struct {
	CumulativeTokens int
	MaxTokens        int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("ctxpolicy: token budget exceeded: %d/%d", e.CumulativeTokens, e.MaxTokens)
}

// Budget implements the budget enforcer: it tracks cumulative token usage
// across cycles, emits a one-time warning at WarnThreshold, and fails fatally
// once usage reaches the configured maximum.
type Budget struct {
	Enabled       bool
	MaxTokens     int
	WarnThreshold float64

	mu         sync.Mutex
	cumulative int
	warned     bool
}

// NewBudget builds a Budget enforcer from its policy configuration. The
// configured maximum is taken from the runtime's own budget, not the
// policy block, since the policy only carries the warn threshold.
func NewBudget(p spec.BudgetPolicy) *Budget {
	return &Budget{Enabled: p.Enabled, WarnThreshold: p.WarnThreshold}
}

// Bind attaches the runtime token ceiling this Budget enforces against.
func (b *Budget) Bind(maxTokens int) *Budget {
	b.MaxTokens = maxTokens
	return b
}

// Check records usage's token consumption and returns a
// *BudgetExceededError once cumulative usage reaches MaxTokens. The caller
// is responsible for emitting the warning event returned by ShouldWarn
// before MaxTokens is reached.
func (b *Budget) Check(usage modelclient.TokenUsage) error {
	if b.MaxTokens <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cumulative += usage.TotalTokens
	if b.cumulative >= b.MaxTokens {
		return &BudgetExceededError{CumulativeTokens: b.cumulative, MaxTokens: b.MaxTokens}
	}
	return nil
}

// CumulativeTokens reports the running token total Check has recorded so far.
func (b *Budget) CumulativeTokens() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cumulative
}

// ShouldWarn reports whether cumulative usage has just crossed
// WarnThreshold for the first time, returning true at most once per Budget
// instance.
func (b *Budget) ShouldWarn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.warned || b.MaxTokens <= 0 {
		return false
	}
	threshold := b.WarnThreshold
	if threshold <= 0 {
		threshold = 0.8
	}
	if float64(b.cumulative) >= threshold*float64(b.MaxTokens) {
		b.warned = true
		return true
	}
	return false
}
