package agentbuilder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentflowhq/engine/ctxpolicy"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/toolregistry"
)

// maxToolRounds bounds how many tool-call/tool-result exchanges one Invoke
// performs before treating the agent as stuck in a loop.
const maxToolRounds = 8

// Result is the outcome of one Agent.Invoke call: the final textual
// response, every tool invocation it performed along the way, and the
// cumulative token usage across all rounds of that call.
type Result struct {
	Response  string
	ToolCalls []ToolInvocationRecord
	Usage     modelclient.TokenUsage
}

// ToolInvocationRecord captures one tool call an agent made while producing
// a Result, including its outcome.
type ToolInvocationRecord struct {
	Name   string
	Input  json.RawMessage
	Output json.RawMessage
	Err    string
}

// Invoke renders one agent turn: prompt plus prior conversation history,
// looping through any tool calls the model requests until it returns a
// final textual response. hooks, if non-nil, wraps the whole turn (every
// tool round included) as a single context-policy cycle. The engine treats
// Invoke as the unit of retry.
func (a *Agent) Invoke(ctx context.Context, prompt string, history []modelclient.Message, hooks *ctxpolicy.Hooks, registry *toolregistry.Registry) (Result, error) {
	messages := append(append([]modelclient.Message(nil), history...), modelclient.Message{Role: modelclient.RoleUser, Text: prompt})

	var calls []ToolInvocationRecord
	cycle := ctxpolicy.Cycle(func(ctx context.Context, messages []modelclient.Message) (modelclient.Response, error) {
		return a.runTurn(ctx, messages, registry, &calls)
	})
	if hooks != nil {
		cycle = hooks.Wrap(a.ID, cycle)
	}

	resp, err := cycle(ctx, messages)
	if err != nil {
		return Result{}, err
	}
	return Result{Response: resp.Text, ToolCalls: calls, Usage: resp.Usage}, nil
}

// runTurn drives the model-call / tool-call loop for one cycle, accumulating
// token usage across rounds into the final Response.
func (a *Agent) runTurn(ctx context.Context, messages []modelclient.Message, registry *toolregistry.Registry, record *[]ToolInvocationRecord) (modelclient.Response, error) {
	tools := a.toolDefinitions(registry)
	var total modelclient.TokenUsage

	for round := 0; round < maxToolRounds; round++ {
		if err := ctx.Err(); err != nil {
			return modelclient.Response{}, err
		}

		resp, err := a.Client.Complete(ctx, modelclient.Request{
			Model:       a.Runtime.ModelID,
			Messages:    messages,
			Tools:       tools,
			Temperature: a.Runtime.Temperature,
			TopP:        a.Runtime.TopP,
			MaxTokens:   a.Runtime.MaxTokens,
		})
		if err != nil {
			return modelclient.Response{}, err
		}
		total = sumUsage(total, resp.Usage)

		if len(resp.ToolCalls) == 0 {
			resp.Usage = total
			return resp, nil
		}

		messages = append(messages, modelclient.Message{Role: modelclient.RoleAssistant, Text: resp.Text})
		for _, call := range resp.ToolCalls {
			output, toolErr := a.invokeTool(ctx, registry, call)
			rec := ToolInvocationRecord{Name: call.Name, Input: call.Payload, Output: output}
			if toolErr != nil {
				rec.Err = toolErr.Error()
			}
			*record = append(*record, rec)
			messages = append(messages, modelclient.Message{Role: modelclient.RoleTool, Text: formatToolResult(call.Name, output, toolErr)})
		}
	}
	return modelclient.Response{}, fmt.Errorf("agentbuilder: agent %q exceeded %d tool-call rounds in a single invocation", a.ID, maxToolRounds)
}

func (a *Agent) toolDefinitions(registry *toolregistry.Registry) []modelclient.ToolDefinition {
	if registry == nil || len(a.Tools) == 0 {
		return nil
	}
	defs := make([]modelclient.ToolDefinition, 0, len(a.Tools))
	for _, name := range a.Tools {
		t, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		defs = append(defs, modelclient.ToolDefinition{
			Name:        name,
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// invokeTool re-screens and executes one model-requested tool call, deriving
// the target URL or path the registry's call-time guard needs from the
// generic "url"/"path" fields every built-in tool's input schema uses.
func (a *Agent) invokeTool(ctx context.Context, registry *toolregistry.Registry, call modelclient.ToolCall) (json.RawMessage, error) {
	if registry == nil {
		return nil, fmt.Errorf("agentbuilder: tool %q requested but no registry is configured", call.Name)
	}
	var target struct {
		URL  string `json:"url"`
		Path string `json:"path"`
	}
	_ = json.Unmarshal(call.Payload, &target)
	return registry.Invoke(ctx, call.Name, call.Payload, target.URL, target.Path)
}

func formatToolResult(name string, output json.RawMessage, toolErr error) string {
	if toolErr != nil {
		return fmt.Sprintf(`{"tool":%q,"error":%q}`, name, toolErr.Error())
	}
	return fmt.Sprintf(`{"tool":%q,"result":%s}`, name, string(output))
}

func sumUsage(a, b modelclient.TokenUsage) modelclient.TokenUsage {
	return modelclient.TokenUsage{
		InputTokens:  a.InputTokens + b.InputTokens,
		OutputTokens: a.OutputTokens + b.OutputTokens,
		TotalTokens:  a.TotalTokens + b.TotalTokens,
	}
}
