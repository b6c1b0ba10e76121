package agentbuilder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/agentbuilder"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
	"github.com/agentflowhq/engine/toolregistry"
)

type stubClient struct{}

func (stubClient) Complete(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	return modelclient.Response{}, nil
}
func (stubClient) Stream(ctx context.Context, req modelclient.Request) (modelclient.Streamer, error) {
	return nil, nil
}
func (stubClient) CountTokens(ctx context.Context, text string) (int, error) { return 0, nil }

func testSpec() spec.Spec {
	return spec.Spec{
		Runtime: spec.Runtime{Provider: spec.ProviderBedrock, ModelID: "claude", Region: "us-east-1"},
		Agents: map[string]spec.AgentSpec{
			"writer": {Prompt: "write something", Tools: []string{"b_tool", "a_tool"}},
		},
	}
}

func newPool() *modelclient.Pool {
	pool := modelclient.NewPool()
	pool.Register(spec.ProviderBedrock, func(rt spec.Runtime) (modelclient.Client, error) {
		return stubClient{}, nil
	})
	return pool
}

func TestBuildResolvesAgent(t *testing.T) {
	b := agentbuilder.New(testSpec(), newPool(), toolregistry.New(toolregistry.Guard{}))
	a, err := b.Build("writer")
	require.NoError(t, err)
	assert.Equal(t, "write something", a.Prompt)
	assert.Equal(t, spec.ProviderBedrock, a.Runtime.Provider)
}

func TestBuildReusesCachedHandle(t *testing.T) {
	s := testSpec()
	b := agentbuilder.New(s, newPool(), toolregistry.New(toolregistry.Guard{}))

	a1, err := b.Build("writer")
	require.NoError(t, err)
	a2, err := b.Build("writer")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
}

func TestBuildUnknownAgent(t *testing.T) {
	b := agentbuilder.New(testSpec(), newPool(), toolregistry.New(toolregistry.Guard{}))
	_, err := b.Build("missing")
	assert.Error(t, err)
}
