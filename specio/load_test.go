package specio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/spec"
)

const sampleDoc = `
version: "0"
name: research-chain
runtime:
  provider: openai
  model_id: gpt-4o-mini
  max_parallel: 2
  budgets:
    max_tokens: 10000
  failure_policy:
    retries: 2
    backoff: jittered
agents:
  researcher:
    prompt: "You research topics thoroughly."
    tools: ["search"]
  writer:
    prompt: "You write up findings."
pattern:
  type: chain
  steps:
    - type: agent_step
      agent_id: researcher
      input_template: "research {{ inputs.topic }}"
    - type: manual_gate
      id: gate1
      prompt: "approve the research before writing?"
    - type: agent_step
      agent_id: writer
      input_template: "write up {{ last_response }}"
outputs:
  - from: "{{ last_response }}"
    path: "report.md"
unknown_extension_key:
  foo: bar
`

func TestLoadParsesChainPatternAndSteps(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "research-chain", doc.Spec.Name)
	assert.Equal(t, spec.ProviderOpenAI, doc.Spec.Runtime.Provider)
	assert.Contains(t, doc.Spec.UnknownTopLevelKeys, "unknown_extension_key")

	chain, ok := doc.Spec.Pattern.(spec.Chain)
	require.True(t, ok)
	require.Len(t, chain.Steps, 3)

	agentStep, ok := chain.Steps[0].(spec.AgentStep)
	require.True(t, ok)
	assert.Equal(t, "researcher", agentStep.AgentID)

	gate, ok := chain.Steps[1].(spec.ManualGate)
	require.True(t, ok)
	assert.Equal(t, "gate1", gate.ID)
}

func TestLoadProducesSchemaValidatableDocument(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)
	assert.NoError(t, spec.ValidateSchema(Schema, doc.Fields))
}

func TestLoadRejectsMissingPatternType(t *testing.T) {
	_, err := Parse([]byte("version: \"0\"\nname: x\nagents: {}\npattern: {}\n"))
	require.Error(t, err)
}

func TestCoerceInputsAppliesDefaultsAndCoercesTypes(t *testing.T) {
	declared := map[string]spec.InputSpec{
		"topic":   {Type: spec.InputTypeString, Required: true},
		"depth":   {Type: spec.InputTypeInteger, Default: 3},
		"enabled": {Type: spec.InputTypeBoolean, Default: true},
	}
	values, err := CoerceInputs([]string{"topic=llm safety", "depth=5"}, declared)
	require.NoError(t, err)
	assert.Equal(t, "llm safety", values["topic"])
	assert.Equal(t, 5, values["depth"])
	assert.Equal(t, true, values["enabled"])
}

func TestCoerceInputsFailsOnMissingRequired(t *testing.T) {
	declared := map[string]spec.InputSpec{"topic": {Type: spec.InputTypeString, Required: true}}
	_, err := CoerceInputs(nil, declared)
	require.Error(t, err)
}

func TestCoerceInputsRejectsValueOutsideEnum(t *testing.T) {
	declared := map[string]spec.InputSpec{
		"mode": {Type: spec.InputTypeString, Enum: []any{"fast", "thorough"}},
	}
	_, err := CoerceInputs([]string{"mode=reckless"}, declared)
	require.Error(t, err)
}
