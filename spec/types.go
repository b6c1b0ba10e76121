// Package spec defines the typed in-memory representation of a workflow
// specification: runtimes, agents, tools, patterns, and the capability gate
// that decides whether a parsed specification is runnable.
package spec

import "time"

type (
	// Provider identifies a supported model provider.
	Provider string

	// Backoff identifies a retry backoff strategy.
	Backoff string

	// Spec is the immutable, fully loaded workflow specification.
	Spec struct {
		// Version is the spec schema version. "0" is the only supported value.
		Version string
		// Name is the workflow's human-readable identifier.
		Name string
		// Runtime holds the workflow-level runtime defaults.
		Runtime Runtime
		// Inputs declares the workflow's accepted input variables.
		Inputs map[string]InputSpec
		// Agents maps agent id to its specification.
		Agents map[string]AgentSpec
		// Tools declares additional tool bindings beyond the runtime registry.
		Tools map[string]ToolBinding
		// Pattern is the single orchestration shape for this workflow.
		Pattern Pattern
		// Outputs declares artifacts written at the end of a run.
		Outputs []ArtifactSpec
		// ContextPolicy configures compaction/notes/budget hooks.
		ContextPolicy ContextPolicy
		// Security configures SSRF and path-sandbox allow/deny lists.
		Security SecuritySpec
		// Telemetry configures ambient logging/metrics/tracing; out of the
		// engine's functional scope but carried so unknown keys do not trip
		// the capability gate's unknown-key warning.
		Telemetry map[string]any

		// UnknownTopLevelKeys records top-level keys present in the raw
		// document that are not recognized by this version. Unknown keys are a
		// capability *warning*, never a failure.
		UnknownTopLevelKeys []string
	}

	// InputSpec declares the type and constraints of one workflow input.
	InputSpec struct {
		Type     InputType
		Required bool
		Default  any
		Enum     []any
	}

	// InputType is the declared coercion target for a workflow input.
	InputType string

	// Runtime captures provider, model, and cross-cutting execution policy.
	Runtime struct {
		Provider    Provider
		ModelID     string
		Region      string // required when Provider == ProviderBedrock
		Host        string // required when Provider == ProviderOllama
		Temperature float32
		MaxTokens   int
		TopP        float32
		MaxParallel int
		Budgets     Budgets
		Failure     FailurePolicy
	}

	// Budgets caps tokens, steps, and wall-clock duration for a run.
	Budgets struct {
		MaxSteps     int
		MaxTokens    int
		MaxDurationS int
	}

	// FailurePolicy configures retry/backoff for agent invocations.
	FailurePolicy struct {
		Retries int
		Backoff Backoff
	}

	// AgentSpec describes one named agent.
	AgentSpec struct {
		Prompt         string
		Tools          []string
		RuntimeOverride *Runtime
	}

	// ToolBinding declares a tool available to the runtime registry, keyed by
	// name in Spec.Tools.
	ToolBinding struct {
		Name            string
		SideEffectClass SideEffectClass
		BaseURL         string // for HTTP tools; screened by the capability gate and at call time
		RootDir         string // for filesystem tools; sandbox root
		PythonCallable  bool
	}

	// SideEffectClass classifies a tool's side effects.
	SideEffectClass string

	// ArtifactSpec describes one declared output artifact.
	ArtifactSpec struct {
		From  string // rendered with the final scope to produce the artifact content
		Path  string // rendered with the final scope to produce the relative path
		Force bool
	}

	// ContextPolicy configures the three context-management hooks.
	ContextPolicy struct {
		Compaction CompactionPolicy
		Notes      NotesPolicy
		Budget     BudgetPolicy
	}

	// CompactionPolicy configures proactive compaction.
	CompactionPolicy struct {
		Enabled               bool
		WhenTokensOver        int
		SummaryRatio          float64
		PreserveRecentMessages int
		SummarizerModelID     string
	}

	// NotesPolicy configures the notes ledger.
	NotesPolicy struct {
		Enabled     bool
		Path        string
		InjectLastN int
	}

	// BudgetPolicy configures the budget enforcer.
	BudgetPolicy struct {
		Enabled       bool
		WarnThreshold float64
	}

	// SecuritySpec configures SSRF and filesystem sandboxing.
	SecuritySpec struct {
		AllowedHosts       []string // RFC1918/explicit allow-list exceptions
		BypassToolConsent  bool
		ArtifactsDir       string
	}
)

const (
	ProviderBedrock Provider = "bedrock"
	ProviderOpenAI  Provider = "openai"
	ProviderOllama  Provider = "ollama"

	BackoffConstant    Backoff = "constant"
	BackoffExponential Backoff = "exponential"
	BackoffJittered    Backoff = "jittered"

	InputTypeString  InputType = "string"
	InputTypeInteger InputType = "integer"
	InputTypeNumber  InputType = "number"
	InputTypeBoolean InputType = "boolean"

	SideEffectPure             SideEffectClass = "pure"
	SideEffectNetwork          SideEffectClass = "network"
	SideEffectFilesystemRead   SideEffectClass = "filesystem_read"
	SideEffectFilesystemWrite  SideEffectClass = "filesystem_write"
)

// DefaultPerToolTimeout is the default timeout applied to a tool invocation
// when the tool does not declare its own.
const DefaultPerToolTimeout = 30 * time.Second
