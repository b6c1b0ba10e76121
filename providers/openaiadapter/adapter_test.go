package openaiadapter_test

import (
	"context"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/providers/openaiadapter"
)

type fakeChat struct {
	resp   *openai.ChatCompletion
	err    error
	gotReq openai.ChatCompletionNewParams
}

func (f *fakeChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.gotReq = params
	return f.resp, f.err
}

func TestNewRequiresClientAndModel(t *testing.T) {
	_, err := openaiadapter.New(openaiadapter.Options{})
	assert.Error(t, err)

	_, err = openaiadapter.New(openaiadapter.Options{Client: &fakeChat{}})
	assert.Error(t, err)
}

func TestCompleteRequiresMessages(t *testing.T) {
	c, err := openaiadapter.New(openaiadapter.Options{Client: &fakeChat{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), modelclient.Request{})
	assert.Error(t, err)
}

func TestCompleteDecodesResponse(t *testing.T) {
	fake := &fakeChat{
		resp: &openai.ChatCompletion{
			Choices: []openai.ChatCompletionChoice{
				{
					FinishReason: "stop",
					Message: openai.ChatCompletionMessage{
						Content: "hello there",
					},
				},
			},
			Usage: openai.CompletionUsage{
				PromptTokens:     10,
				CompletionTokens: 4,
				TotalTokens:      14,
			},
		},
	}
	c, err := openaiadapter.New(openaiadapter.Options{Client: fake, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), modelclient.Request{
		Messages: []modelclient.Message{
			{Role: modelclient.RoleSystem, Text: "be terse"},
			{Role: modelclient.RoleUser, Text: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Text)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 14, resp.Usage.TotalTokens)
	assert.Equal(t, "gpt-4o", fake.gotReq.Model)
	assert.Len(t, fake.gotReq.Messages, 2)
}

func TestStreamIsUnsupported(t *testing.T) {
	c, err := openaiadapter.New(openaiadapter.Options{Client: &fakeChat{}, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = c.Stream(context.Background(), modelclient.Request{Messages: []modelclient.Message{{Role: modelclient.RoleUser, Text: "hi"}}})
	assert.Error(t, err)
}
