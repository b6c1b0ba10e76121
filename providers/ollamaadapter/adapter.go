// Package ollamaadapter implements modelclient.Client over a local Ollama
// server's /api/chat endpoint.
package ollamaadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/agentflowhq/engine/modelclient"
)

// HTTPDoer is the subset of *http.Client the adapter needs, so tests can
// substitute a fake transport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements modelclient.Client against a local or self-hosted
// Ollama instance. Ollama has no native tool-call protocol as uniform as
// Bedrock Converse or OpenAI Chat Completions, so tool definitions are
// passed through the "tools" field on a best-effort basis and a model that
// ignores them simply never emits ToolCalls.
type Client struct {
	endpoint string
	http     HTTPDoer
}

// New constructs a Client against endpoint (e.g. "http://localhost:11434").
func New(endpoint string, doer HTTPDoer) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("ollamaadapter: endpoint is required")
	}
	if doer == nil {
		doer = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{endpoint: endpoint, http: doer}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []chatMessage    `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  map[string]any   `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete performs one non-streaming chat completion.
func (c *Client) Complete(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	payload := chatRequest{
		Model:    req.Model,
		Messages: encodeMessages(req.Messages),
		Stream:   false,
		Tools:    encodeTools(req.Tools),
	}
	if req.Temperature != 0 || req.TopP != 0 {
		payload.Options = map[string]any{}
		if req.Temperature != 0 {
			payload.Options["temperature"] = req.Temperature
		}
		if req.TopP != 0 {
			payload.Options["top_p"] = req.TopP
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return modelclient.Response{}, fmt.Errorf("ollamaadapter: encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return modelclient.Response{}, fmt.Errorf("ollamaadapter: building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return modelclient.Response{}, &modelclient.ProviderError{Kind: modelclient.ProviderErrorUnavailable, Message: "ollama request failed", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return modelclient.Response{}, fmt.Errorf("ollamaadapter: reading response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return modelclient.Response{}, &modelclient.ProviderError{Kind: modelclient.ProviderErrorUnavailable, Message: fmt.Sprintf("ollama returned %s", resp.Status)}
	}
	if resp.StatusCode >= 400 {
		return modelclient.Response{}, &modelclient.ProviderError{Kind: modelclient.ProviderErrorInvalidRequest, Message: fmt.Sprintf("ollama returned %s: %s", resp.Status, string(raw))}
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return modelclient.Response{}, fmt.Errorf("ollamaadapter: decoding response: %w", err)
	}

	var calls []modelclient.ToolCall
	for _, tc := range out.Message.ToolCalls {
		calls = append(calls, modelclient.ToolCall{Name: tc.Function.Name, Payload: tc.Function.Arguments})
	}

	return modelclient.Response{
		Text:       out.Message.Content,
		ToolCalls:  calls,
		StopReason: out.DoneReason,
		Usage: modelclient.TokenUsage{
			InputTokens:  out.PromptEvalCount,
			OutputTokens: out.EvalCount,
			TotalTokens:  out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

// Stream is unsupported: Ollama's streaming wire format is a series of
// partial JSON objects rather than the provider's own typed event stream,
// and no pattern executor currently drives a streaming invocation.
func (c *Client) Stream(ctx context.Context, req modelclient.Request) (modelclient.Streamer, error) {
	return nil, errors.New("ollamaadapter: streaming is not supported")
}

// CountTokens has no equivalent Ollama endpoint; the prompt_eval_count
// returned by Complete is the only token accounting Ollama exposes, so this
// falls back to a coarse chars/4 estimate.
func (c *Client) CountTokens(ctx context.Context, text string) (int, error) {
	return len(text) / 4, nil
}

func encodeMessages(messages []modelclient.Message) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{Role: string(m.Role), Content: m.Text}
	}
	return out
}

func encodeTools(defs []modelclient.ToolDefinition) []map[string]any {
	if len(defs) == 0 {
		return nil
	}
	out := make([]map[string]any, len(defs))
	for i, d := range defs {
		var params any
		_ = json.Unmarshal(d.InputSchema, &params)
		out[i] = map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  params,
			},
		}
	}
	return out
}
