package ctxpolicy_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/ctxpolicy"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
)

type summarizerStub struct{ summary string }

func (s summarizerStub) Complete(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	return modelclient.Response{Text: s.summary}, nil
}
func (summarizerStub) Stream(ctx context.Context, req modelclient.Request) (modelclient.Streamer, error) {
	return nil, nil
}
func (summarizerStub) CountTokens(ctx context.Context, text string) (int, error) { return 0, nil }

func TestMaybeCompactPreservesRecentAndToolPairs(t *testing.T) {
	c := ctxpolicy.NewCompactor(spec.CompactionPolicy{
		Enabled:                true,
		WhenTokensOver:         1,
		SummaryRatio:           0.3,
		PreserveRecentMessages: 2,
	}, summarizerStub{summary: "SUMMARY"})

	messages := []modelclient.Message{
		{Role: modelclient.RoleUser, Text: strings.Repeat("x", 100)},
		{Role: modelclient.RoleAssistant, Text: strings.Repeat("y", 100)},
		{Role: modelclient.RoleTool, Text: "tool result"},
		{Role: modelclient.RoleUser, Text: "latest question"},
		{Role: modelclient.RoleAssistant, Text: "latest answer"},
	}

	out, err := c.MaybeCompact(context.Background(), messages, false)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	assert.Equal(t, modelclient.RoleSystem, out[0].Role)
	assert.Equal(t, "SUMMARY", out[0].Text)
	assert.Equal(t, "latest question", out[len(out)-2].Text)
	assert.Equal(t, "latest answer", out[len(out)-1].Text)
}

func TestMaybeCompactSkipsWhenUnderThreshold(t *testing.T) {
	c := ctxpolicy.NewCompactor(spec.CompactionPolicy{Enabled: true, WhenTokensOver: 1_000_000}, summarizerStub{})
	messages := []modelclient.Message{{Role: modelclient.RoleUser, Text: "hi"}}

	out, err := c.MaybeCompact(context.Background(), messages, false)
	require.NoError(t, err)
	assert.Equal(t, messages, out)
}
