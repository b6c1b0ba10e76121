// Package openaiadapter implements modelclient.Client over the OpenAI Chat
// Completions API.
package openaiadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agentflowhq/engine/modelclient"
)

// ChatClient captures the subset of the openai-go client the adapter needs,
// so tests can substitute a fake.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	Client       ChatClient
	DefaultModel string
}

// Client implements modelclient.Client via the OpenAI Chat Completions API.
type Client struct {
	chat  ChatClient
	model string
}

// New builds an OpenAI-backed model client from the provided options.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("openaiadapter: client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openaiadapter: default model is required")
	}
	return &Client{chat: opts.Client, model: opts.DefaultModel}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openaiadapter: api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return New(Options{Client: client.Chat.Completions, DefaultModel: defaultModel})
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	if len(req.Messages) == 0 {
		return modelclient.Response{}, errors.New("openaiadapter: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: encodeMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(float64(req.TopP))
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return modelclient.Response{}, err
	}
	params.Tools = tools

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return modelclient.Response{}, translateError(err)
	}
	return translateResponse(resp), nil
}

// Stream reports that this adapter does not yet support incremental
// delivery; callers fall back to Complete.
func (c *Client) Stream(context.Context, modelclient.Request) (modelclient.Streamer, error) {
	return nil, errors.New("openaiadapter: streaming is not supported, use Complete")
}

// CountTokens estimates token count with the chars/4 heuristic used
// elsewhere in the absence of a standalone tokenizer dependency.
func (c *Client) CountTokens(ctx context.Context, text string) (int, error) {
	return (len(text) + 3) / 4, nil
}

func encodeMessages(msgs []modelclient.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case modelclient.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case modelclient.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text))
		case modelclient.RoleTool:
			out = append(out, openai.ToolMessage(m.Text, ""))
		default:
			out = append(out, openai.UserMessage(m.Text))
		}
	}
	return out
}

func encodeTools(defs []modelclient.ToolDefinition) ([]openai.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var params map[string]any
		if len(def.InputSchema) > 0 {
			if err := json.Unmarshal(def.InputSchema, &params); err != nil {
				return nil, fmt.Errorf("openaiadapter: decode tool %s schema: %w", def.Name, err)
			}
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  openai.FunctionParameters(params),
			},
		})
	}
	return tools, nil
}

func translateResponse(resp *openai.ChatCompletion) modelclient.Response {
	out := modelclient.Response{
		Usage: modelclient.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Text = choice.Message.Content
	out.StopReason = string(choice.FinishReason)
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, modelclient.ToolCall{
			Name:    call.Function.Name,
			ID:      call.ID,
			Payload: json.RawMessage(call.Function.Arguments),
		})
	}
	return out
}

func translateError(err error) *modelclient.ProviderError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return &modelclient.ProviderError{Kind: modelclient.ProviderErrorRateLimited, Message: apiErr.Message, Cause: err}
		case 401, 403:
			return &modelclient.ProviderError{Kind: modelclient.ProviderErrorAuth, Message: apiErr.Message, Cause: err}
		case 400, 422:
			return &modelclient.ProviderError{Kind: modelclient.ProviderErrorInvalidRequest, Message: apiErr.Message, Cause: err}
		case 500, 502, 503, 504:
			return &modelclient.ProviderError{Kind: modelclient.ProviderErrorUnavailable, Message: apiErr.Message, Cause: err}
		}
	}
	return &modelclient.ProviderError{Kind: modelclient.ProviderErrorOther, Message: fmt.Sprintf("openai chat completion failed: %v", err), Cause: err}
}
