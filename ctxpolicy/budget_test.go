package ctxpolicy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentflowhq/engine/ctxpolicy"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
)

func TestBudgetWarnsOnceThenExceeds(t *testing.T) {
	b := ctxpolicy.NewBudget(spec.BudgetPolicy{Enabled: true, WarnThreshold: 0.8}).Bind(100)

	assert.NoError(t, b.Check(modelclient.TokenUsage{TotalTokens: 70}))
	assert.False(t, b.ShouldWarn())

	assert.NoError(t, b.Check(modelclient.TokenUsage{TotalTokens: 15}))
	assert.True(t, b.ShouldWarn())
	assert.False(t, b.ShouldWarn(), "warning must fire at most once")

	err := b.Check(modelclient.TokenUsage{TotalTokens: 20})
	assert.Error(t, err)
	var exceeded *ctxpolicy.BudgetExceededError
	assert.ErrorAs(t, err, &exceeded)
}

func TestBudgetDisabledNeverBlocks(t *testing.T) {
	b := ctxpolicy.NewBudget(spec.BudgetPolicy{Enabled: false})
	assert.NoError(t, b.Check(modelclient.TokenUsage{TotalTokens: 1_000_000}))
}
