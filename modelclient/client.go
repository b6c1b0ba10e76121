// Package modelclient defines the provider-agnostic model invocation
// contract consumed by the agent builder and pattern executors, and the
// client-pool that keys concrete clients by (provider, model, region/host).
package modelclient

import (
	"context"
	"encoding/json"
)

type (
	// Role identifies the speaker for one message in a conversation.
	Role string

	// Message is one turn of a conversation: a role and its ordered text
	// content. Tool results are represented as a RoleTool message
	// whose Text carries the canonical JSON result.
	Message struct {
		Role Role
		Text string
	}

	// ToolDefinition describes one tool exposed to the model for this call.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema json.RawMessage
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		Name    string
		Payload json.RawMessage
		ID      string
	}

	// TokenUsage tracks token consumption for one invocation.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Request captures the inputs to one model invocation.
	Request struct {
		Model       string
		Messages    []Message
		Tools       []ToolDefinition
		Temperature float32
		TopP        float32
		MaxTokens   int
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		Text       string
		ToolCalls  []ToolCall
		Usage      TokenUsage
		StopReason string
	}

	// Chunk is one streaming event from the model.
	Chunk struct {
		TextDelta  string
		ToolCall   *ToolCall
		StopReason string
		Usage      *TokenUsage
	}

	// Client is the provider-agnostic model client consumed by the agent
	// builder. Implementations translate Requests into provider-specific
	// calls and adapt the result back into the generic types above.
	Client interface {
		// Complete performs a non-streaming model invocation.
		Complete(ctx context.Context, req Request) (Response, error)
		// Stream performs a streaming model invocation.
		Stream(ctx context.Context, req Request) (Streamer, error)
		// CountTokens estimates the token count of text for this client's
		// model.
		CountTokens(ctx context.Context, text string) (int, error)
	}

	// Streamer delivers incremental model output. Callers drain Recv until
	// it returns a non-nil error (io.EOF on normal completion), then Close.
	Streamer interface {
		Recv() (Chunk, error)
		Close() error
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ProviderErrorKind classifies a model-provider failure for the error
// taxonomy's classification of retryable vs. fatal provider errors.
type ProviderErrorKind string

const (
	ProviderErrorRateLimited    ProviderErrorKind = "rate_limited"
	ProviderErrorInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderErrorUnavailable    ProviderErrorKind = "unavailable"
	ProviderErrorAuth           ProviderErrorKind = "auth"
	ProviderErrorOther          ProviderErrorKind = "other"
)

// ProviderError wraps a provider-specific failure with its classification
// and, for rate limiting, an optional provider-supplied retry hint.
type ProviderError struct {
	Kind       ProviderErrorKind
	Message    string
	RetryAfter int // seconds; 0 means no provider hint
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return "modelclient: " + e.Message + ": " + e.Cause.Error()
	}
	return "modelclient: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure is transient and safe to retry
// under the caller's backoff policy.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case ProviderErrorRateLimited, ProviderErrorUnavailable:
		return true
	default:
		return false
	}
}
