package patterns

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/agentbuilder"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
)

type flakyAgentClient struct {
	failures int
	err      error
}

func (c *flakyAgentClient) Complete(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	if c.failures > 0 {
		c.failures--
		return modelclient.Response{}, c.err
	}
	return modelclient.Response{Text: "ok"}, nil
}
func (c *flakyAgentClient) Stream(ctx context.Context, req modelclient.Request) (modelclient.Streamer, error) {
	return nil, nil
}
func (c *flakyAgentClient) CountTokens(ctx context.Context, text string) (int, error) { return 0, nil }

func TestInvokeWithRetryRecoversFromRetryableError(t *testing.T) {
	client := &flakyAgentClient{failures: 2, err: &modelclient.ProviderError{Kind: modelclient.ProviderErrorRateLimited}}
	agent := &agentbuilder.Agent{ID: "a", Client: client, Runtime: spec.Runtime{Failure: spec.FailurePolicy{Retries: 3, Backoff: spec.BackoffConstant}}}

	result, err := invokeWithRetry(context.Background(), agent, "hi", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Response)
}

func TestInvokeWithRetryPropagatesNonRetryableImmediately(t *testing.T) {
	client := &flakyAgentClient{failures: 1, err: &modelclient.ProviderError{Kind: modelclient.ProviderErrorInvalidRequest}}
	agent := &agentbuilder.Agent{ID: "a", Client: client, Runtime: spec.Runtime{Failure: spec.FailurePolicy{Retries: 3}}}

	_, err := invokeWithRetry(context.Background(), agent, "hi", nil, nil, nil)
	require.Error(t, err)
	var provErr *modelclient.ProviderError
	assert.True(t, errors.As(err, &provErr))
}

func TestInvokeWithRetryExhaustsAttempts(t *testing.T) {
	client := &flakyAgentClient{failures: 99, err: &modelclient.ProviderError{Kind: modelclient.ProviderErrorUnavailable}}
	agent := &agentbuilder.Agent{ID: "a", Client: client, Runtime: spec.Runtime{Failure: spec.FailurePolicy{Retries: 1, Backoff: spec.BackoffConstant}}}

	_, err := invokeWithRetry(context.Background(), agent, "hi", nil, nil, nil)
	require.Error(t, err)
}
