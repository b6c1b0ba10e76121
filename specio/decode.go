package specio

import (
	"fmt"

	"github.com/agentflowhq/engine/spec"
)

// knownTopLevelKeys mirrors spec.Spec's fields; anything else in the
// document is recorded as UnknownTopLevelKeys, a capability warning rather
// than a load failure (spec §6: "Unknown top-level keys cause a capability
// warning, not failure").
var knownTopLevelKeys = map[string]bool{
	"version": true, "name": true, "runtime": true, "inputs": true,
	"agents": true, "tools": true, "pattern": true, "outputs": true,
	"context_policy": true, "security": true, "telemetry": true,
}

func decodeSpec(doc map[string]any) (spec.Spec, error) {
	s := spec.Spec{
		Version:       getString(doc, "version"),
		Name:          getString(doc, "name"),
		Runtime:       decodeRuntime(getMap(doc, "runtime")),
		Inputs:        decodeInputs(getMap(doc, "inputs")),
		Agents:        map[string]spec.AgentSpec{},
		Tools:         map[string]spec.ToolBinding{},
		ContextPolicy: decodeContextPolicy(getMap(doc, "context_policy")),
		Security:      decodeSecurity(getMap(doc, "security")),
		Telemetry:     getMap(doc, "telemetry"),
	}

	for id, raw := range getMap(doc, "agents") {
		s.Agents[id] = decodeAgent(asMap(raw))
	}
	for name, raw := range getMap(doc, "tools") {
		s.Tools[name] = decodeToolBinding(name, asMap(raw))
	}
	for _, raw := range getSlice(doc, "outputs") {
		s.Outputs = append(s.Outputs, decodeArtifact(asMap(raw)))
	}

	if p, ok := doc["pattern"]; ok {
		pattern, err := decodePattern(asMap(p))
		if err != nil {
			return spec.Spec{}, err
		}
		s.Pattern = pattern
	}

	for k := range doc {
		if !knownTopLevelKeys[k] {
			s.UnknownTopLevelKeys = append(s.UnknownTopLevelKeys, k)
		}
	}
	return s, nil
}

func decodeRuntime(m map[string]any) spec.Runtime {
	rt := spec.Runtime{
		Provider:    spec.Provider(getString(m, "provider")),
		ModelID:     getString(m, "model_id"),
		Region:      getString(m, "region"),
		Host:        getString(m, "host"),
		Temperature: float32(getFloat(m, "temperature")),
		MaxTokens:   getInt(m, "max_tokens"),
		TopP:        float32(getFloat(m, "top_p")),
		MaxParallel: getInt(m, "max_parallel"),
	}
	budgets := getMap(m, "budgets")
	rt.Budgets = spec.Budgets{
		MaxSteps:     getInt(budgets, "max_steps"),
		MaxTokens:    getInt(budgets, "max_tokens"),
		MaxDurationS: getInt(budgets, "max_duration_s"),
	}
	failure := getMap(m, "failure_policy")
	rt.Failure = spec.FailurePolicy{
		Retries: getInt(failure, "retries"),
		Backoff: spec.Backoff(getString(failure, "backoff")),
	}
	return rt
}

func decodeInputs(m map[string]any) map[string]spec.InputSpec {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]spec.InputSpec, len(m))
	for name, raw := range m {
		im := asMap(raw)
		out[name] = spec.InputSpec{
			Type:     spec.InputType(getString(im, "type")),
			Required: getBool(im, "required"),
			Default:  im["default"],
			Enum:     asSlice(im["enum"]),
		}
	}
	return out
}

func decodeAgent(m map[string]any) spec.AgentSpec {
	as := spec.AgentSpec{
		Prompt: getString(m, "prompt"),
		Tools:  getStringSlice(m, "tools"),
	}
	if rt, ok := m["runtime"]; ok {
		override := decodeRuntime(asMap(rt))
		as.RuntimeOverride = &override
	}
	return as
}

func decodeToolBinding(name string, m map[string]any) spec.ToolBinding {
	return spec.ToolBinding{
		Name:            name,
		SideEffectClass: spec.SideEffectClass(getString(m, "side_effect_class")),
		BaseURL:         getString(m, "base_url"),
		RootDir:         getString(m, "root_dir"),
		PythonCallable:  getBool(m, "python_callable"),
	}
}

func decodeArtifact(m map[string]any) spec.ArtifactSpec {
	return spec.ArtifactSpec{
		From:  getString(m, "from"),
		Path:  getString(m, "path"),
		Force: getBool(m, "force"),
	}
}

func decodeContextPolicy(m map[string]any) spec.ContextPolicy {
	compaction := getMap(m, "compaction")
	notes := getMap(m, "notes")
	budget := getMap(m, "budget")
	return spec.ContextPolicy{
		Compaction: spec.CompactionPolicy{
			Enabled:                getBool(compaction, "enabled"),
			WhenTokensOver:         getInt(compaction, "when_tokens_over"),
			SummaryRatio:           getFloat(compaction, "summary_ratio"),
			PreserveRecentMessages: getInt(compaction, "preserve_recent_messages"),
			SummarizerModelID:      getString(compaction, "summarizer_model_id"),
		},
		Notes: spec.NotesPolicy{
			Enabled:     getBool(notes, "enabled"),
			Path:        getString(notes, "path"),
			InjectLastN: getInt(notes, "inject_last_n"),
		},
		Budget: spec.BudgetPolicy{
			Enabled:       getBool(budget, "enabled"),
			WarnThreshold: getFloat(budget, "warn_threshold"),
		},
	}
}

func decodeSecurity(m map[string]any) spec.SecuritySpec {
	return spec.SecuritySpec{
		AllowedHosts:      getStringSlice(m, "allowed_hosts"),
		BypassToolConsent: getBool(m, "bypass_tool_consent"),
		ArtifactsDir:      getString(m, "artifacts_dir"),
	}
}

// decodePattern dispatches on the document's pattern.type discriminator to
// the closed set of spec.Pattern variants. An unrecognized type is reported
// here rather than silently dropped, since a nil Pattern would otherwise
// surface only as a vague "a spec must declare exactly one pattern"
// capability violation with no hint about the typo.
func decodePattern(m map[string]any) (spec.Pattern, error) {
	kind := spec.PatternKind(getString(m, "type"))
	switch kind {
	case spec.KindChain:
		return spec.Chain{Steps: decodeSteps(getSlice(m, "steps"))}, nil
	case spec.KindRouting:
		routes := map[string]spec.Chain{}
		for name, raw := range getMap(m, "routes") {
			rm := asMap(raw)
			routes[name] = spec.Chain{Steps: decodeSteps(getSlice(rm, "steps"))}
		}
		return spec.Routing{
			RouterAgentID: getString(m, "router_agent_id"),
			RouterInput:   getString(m, "router_input"),
			Routes:        routes,
			Default:       getString(m, "default"),
		}, nil
	case spec.KindParallel:
		var branches []spec.Branch
		for _, raw := range getSlice(m, "branches") {
			bm := asMap(raw)
			branches = append(branches, spec.Branch{ID: getString(bm, "id"), Steps: decodeSteps(getSlice(bm, "steps"))})
		}
		return spec.Parallel{
			Branches:      branches,
			ReduceAgentID: getString(m, "reduce_agent_id"),
			ReduceInput:   getString(m, "reduce_input"),
		}, nil
	case spec.KindWorkflow:
		var tasks []spec.Task
		for _, raw := range getSlice(m, "tasks") {
			tm := asMap(raw)
			tasks = append(tasks, spec.Task{
				ID:      getString(tm, "id"),
				AgentID: getString(tm, "agent_id"),
				Input:   getString(tm, "input"),
				Deps:    getStringSlice(tm, "deps"),
			})
		}
		return spec.Workflow{Tasks: tasks}, nil
	case spec.KindEvaluator:
		return spec.Evaluator{
			ProducerAgentID:  getString(m, "producer_agent_id"),
			ProducerInput:    getString(m, "producer_input"),
			EvaluatorAgentID: getString(m, "evaluator_agent_id"),
			EvaluatorInput:   getString(m, "evaluator_input"),
			MinScore:         getFloat(m, "min_score"),
			MaxIters:         getInt(m, "max_iters"),
			RevisePrompt:     getString(m, "revise_prompt"),
		}, nil
	case spec.KindOrchestrator:
		return spec.Orchestrator{
			OrchestratorAgentID: getString(m, "orchestrator_agent_id"),
			OrchestratorInput:   getString(m, "orchestrator_input"),
			MaxWorkers:          getInt(m, "max_workers"),
			MaxRounds:           getInt(m, "max_rounds"),
			WorkerAgentID:       getString(m, "worker_agent_id"),
			WorkerToolOverride:  getStringSlice(m, "worker_tool_override"),
			ReduceAgentID:       getString(m, "reduce_agent_id"),
			ReduceInput:         getString(m, "reduce_input"),
			WriteupAgentID:      getString(m, "writeup_agent_id"),
			WriteupInput:        getString(m, "writeup_input"),
		}, nil
	case spec.KindGraph:
		nodes := map[string]spec.Node{}
		for id, raw := range getMap(m, "nodes") {
			nm := asMap(raw)
			nodes[id] = spec.Node{ID: id, AgentID: getString(nm, "agent_id"), Input: getString(nm, "input")}
		}
		var edges []spec.Edge
		for _, raw := range getSlice(m, "edges") {
			em := asMap(raw)
			var choices []spec.Choice
			for _, craw := range getSlice(em, "choose") {
				cm := asMap(craw)
				choices = append(choices, spec.Choice{When: getString(cm, "when"), To: getString(cm, "to")})
			}
			edges = append(edges, spec.Edge{From: getString(em, "from"), To: getString(em, "to"), Choose: choices})
		}
		return spec.Graph{
			Nodes:         nodes,
			Edges:         edges,
			StartNode:     getString(m, "start_node"),
			MaxIterations: getInt(m, "max_iterations"),
		}, nil
	case "":
		return nil, fmt.Errorf("pattern.type is required")
	default:
		return nil, fmt.Errorf("unrecognized pattern.type %q", kind)
	}
}

func decodeSteps(raw []any) []spec.Step {
	steps := make([]spec.Step, 0, len(raw))
	for _, s := range raw {
		sm := asMap(s)
		switch getString(sm, "type") {
		case "manual_gate":
			steps = append(steps, spec.ManualGate{
				ID:       getString(sm, "id"),
				Prompt:   getString(sm, "prompt"),
				TimeoutS: getInt(sm, "timeout_s"),
			})
		default: // "agent_step" and the unmarked default both mean AgentStep
			steps = append(steps, spec.AgentStep{
				AgentID:       getString(sm, "agent_id"),
				InputTemplate: getString(sm, "input_template"),
			})
		}
	}
	return steps
}
