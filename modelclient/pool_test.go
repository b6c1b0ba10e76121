package modelclient_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
)

type fakeClient struct{ id int }

func (f *fakeClient) Complete(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	return modelclient.Response{}, nil
}
func (f *fakeClient) Stream(ctx context.Context, req modelclient.Request) (modelclient.Streamer, error) {
	return nil, nil
}
func (f *fakeClient) CountTokens(ctx context.Context, text string) (int, error) { return len(text), nil }

func TestPoolReusesClientForSameKey(t *testing.T) {
	pool := modelclient.NewPool()
	calls := 0
	pool.Register(spec.ProviderBedrock, func(rt spec.Runtime) (modelclient.Client, error) {
		calls++
		return &fakeClient{id: calls}, nil
	})

	rt := spec.Runtime{Provider: spec.ProviderBedrock, ModelID: "claude", Region: "us-east-1"}
	c1, err := pool.Get(rt)
	require.NoError(t, err)
	c2, err := pool.Get(rt)
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, calls)
}

func TestPoolDistinguishesRegion(t *testing.T) {
	pool := modelclient.NewPool()
	pool.Register(spec.ProviderBedrock, func(rt spec.Runtime) (modelclient.Client, error) {
		return &fakeClient{}, nil
	})

	a, err := pool.Get(spec.Runtime{Provider: spec.ProviderBedrock, ModelID: "claude", Region: "us-east-1"})
	require.NoError(t, err)
	b, err := pool.Get(spec.Runtime{Provider: spec.ProviderBedrock, ModelID: "claude", Region: "eu-west-1"})
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}

func TestPoolMissingFactory(t *testing.T) {
	pool := modelclient.NewPool()
	_, err := pool.Get(spec.Runtime{Provider: spec.ProviderOpenAI, ModelID: "gpt"})
	assert.Error(t, err)
}
