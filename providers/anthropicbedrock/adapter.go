// Package anthropicbedrock implements modelclient.Client over the AWS
// Bedrock Converse API for Anthropic models.
package anthropicbedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/agentflowhq/engine/modelclient"
)

// defaultModelID is used when New is called with an empty model id. It
// names a Bedrock-hosted Claude model using the same identifier Anthropic's
// own SDK exposes as a typed constant, so callers get a working default
// without having to look up the current Bedrock model-id string by hand.
const defaultModelID = string(anthropic.ModelClaudeSonnet4_5_20250929)

// RuntimeClient is the subset of *bedrockruntime.Client the adapter needs,
// so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements modelclient.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	modelID string
}

// New constructs a Client for the given Bedrock model id (e.g. an
// Anthropic Claude model ARN or inference profile id). An empty modelID
// falls back to defaultModelID.
func New(runtime RuntimeClient, modelID string) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("anthropicbedrock: runtime client is required")
	}
	if modelID == "" {
		modelID = defaultModelID
	}
	return &Client{runtime: runtime, modelID: modelID}, nil
}

// Complete performs a non-streaming Converse call.
func (c *Client) Complete(ctx context.Context, req modelclient.Request) (modelclient.Response, error) {
	messages, system := encodeMessages(req.Messages)
	input := &bedrockruntime.ConverseInput{
		ModelId:  &c.modelID,
		Messages: messages,
		System:   system,
	}
	if cfg := inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	if toolCfg := toolConfig(req.Tools); toolCfg != nil {
		input.ToolConfig = toolCfg
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return modelclient.Response{}, translateError(err)
	}
	return decodeOutput(out), nil
}

// Stream performs a streaming Converse call.
func (c *Client) Stream(ctx context.Context, req modelclient.Request) (modelclient.Streamer, error) {
	messages, system := encodeMessages(req.Messages)
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:  &c.modelID,
		Messages: messages,
		System:   system,
	}
	if cfg := inferenceConfig(req); cfg != nil {
		input.InferenceConfig = cfg
	}
	if toolCfg := toolConfig(req.Tools); toolCfg != nil {
		input.ToolConfig = toolCfg
	}

	out, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, translateError(err)
	}
	return newStreamer(out.GetStream()), nil
}

// CountTokens estimates token count with a chars/4 heuristic (rounded up),
// since Bedrock Converse does not expose a standalone tokenization endpoint.
func (c *Client) CountTokens(ctx context.Context, text string) (int, error) {
	return (len(text) + 3) / 4, nil
}

func inferenceConfig(req modelclient.Request) *brtypes.InferenceConfiguration {
	if req.MaxTokens == 0 && req.Temperature == 0 && req.TopP == 0 {
		return nil
	}
	cfg := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		mt := int32(req.MaxTokens)
		cfg.MaxTokens = &mt
	}
	if req.Temperature > 0 {
		t := req.Temperature
		cfg.Temperature = &t
	}
	if req.TopP > 0 {
		p := req.TopP
		cfg.TopP = &p
	}
	return cfg
}

func toolConfig(tools []modelclient.ToolDefinition) *brtypes.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		name, desc := t.Name, t.Description
		specs = append(specs, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        &name,
				Description: &desc,
				InputSchema: &brtypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(&t.InputSchema),
				},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: specs}
}

func encodeMessages(msgs []modelclient.Message) ([]brtypes.Message, []brtypes.SystemContentBlock) {
	var system []brtypes.SystemContentBlock
	var out []brtypes.Message
	for _, m := range msgs {
		if m.Role == modelclient.RoleSystem {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Text})
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == modelclient.RoleAssistant {
			role = brtypes.ConversationRoleAssistant
		}
		out = append(out, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Text}},
		})
	}
	return out, system
}

func decodeOutput(out *bedrockruntime.ConverseOutput) modelclient.Response {
	resp := modelclient.Response{StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = modelclient.TokenUsage{
			InputTokens:  int(derefInt32(out.Usage.InputTokens)),
			OutputTokens: int(derefInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(derefInt32(out.Usage.TotalTokens)),
		}
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return resp
	}
	for _, block := range msg.Value.Content {
		switch b := block.(type) {
		case *brtypes.ContentBlockMemberText:
			resp.Text += b.Value
		case *brtypes.ContentBlockMemberToolUse:
			resp.ToolCalls = append(resp.ToolCalls, modelclient.ToolCall{
				Name:    derefStr(b.Value.Name),
				ID:      derefStr(b.Value.ToolUseId),
				Payload: decodeDocument(b.Value.Input),
			})
		}
	}
	return resp
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return json.RawMessage(data)
}

func derefInt32(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// translateError classifies AWS SDK errors into modelclient.ProviderError,
// treating Bedrock throttling responses and HTTP 429s as rate-limited.
func translateError(err error) *modelclient.ProviderError {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return &modelclient.ProviderError{Kind: modelclient.ProviderErrorRateLimited, Message: apiErr.ErrorMessage(), Cause: err}
		case "ValidationException":
			return &modelclient.ProviderError{Kind: modelclient.ProviderErrorInvalidRequest, Message: apiErr.ErrorMessage(), Cause: err}
		case "AccessDeniedException":
			return &modelclient.ProviderError{Kind: modelclient.ProviderErrorAuth, Message: apiErr.ErrorMessage(), Cause: err}
		case "ServiceUnavailableException", "ModelTimeoutException":
			return &modelclient.ProviderError{Kind: modelclient.ProviderErrorUnavailable, Message: apiErr.ErrorMessage(), Cause: err}
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return &modelclient.ProviderError{Kind: modelclient.ProviderErrorRateLimited, Message: "rate limited", Cause: err}
	}
	return &modelclient.ProviderError{Kind: modelclient.ProviderErrorOther, Message: fmt.Sprintf("bedrock converse failed: %v", err), Cause: err}
}
