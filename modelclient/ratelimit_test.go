package modelclient_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/modelclient"
)

type flakyClient struct{ failNext bool }

func (f *flakyClient) Complete(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	if f.failNext {
		f.failNext = false
		return modelclient.Response{}, &modelclient.ProviderError{Kind: modelclient.ProviderErrorRateLimited}
	}
	return modelclient.Response{Text: "ok"}, nil
}
func (f *flakyClient) Stream(ctx context.Context, req modelclient.Request) (modelclient.Streamer, error) {
	return nil, nil
}
func (f *flakyClient) CountTokens(ctx context.Context, text string) (int, error) { return 0, nil }

func TestRateLimiterPassesThroughSuccess(t *testing.T) {
	l := modelclient.NewRateLimiter(&flakyClient{}, 60000, 60000)
	resp, err := l.Complete(context.Background(), modelclient.Request{Messages: []modelclient.Message{{Text: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
}

func TestRateLimiterSurfacesProviderError(t *testing.T) {
	l := modelclient.NewRateLimiter(&flakyClient{failNext: true}, 60000, 60000)
	_, err := l.Complete(context.Background(), modelclient.Request{Messages: []modelclient.Message{{Text: "hi"}}})
	require.Error(t, err)
	var provErr *modelclient.ProviderError
	assert.True(t, errors.As(err, &provErr))
	assert.Equal(t, modelclient.ProviderErrorRateLimited, provErr.Kind)
}

func TestRateLimiterRejectsOversizedWaitOnCanceledContext(t *testing.T) {
	l := modelclient.NewRateLimiter(&flakyClient{}, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.Complete(ctx, modelclient.Request{Messages: []modelclient.Message{{Text: "a very long message to push past the tiny burst"}}})
	assert.Error(t, err)
}
