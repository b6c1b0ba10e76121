package spec

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// ViolationKind classifies a capability-gate violation.
	ViolationKind string

	// Violation is one capability-gate finding: a JSON-Pointer path, a kind
	// tag, and a one-line remediation.
	Violation struct {
		Path        string
		Kind        ViolationKind
		Remediation string
	}

	// Report enumerates every violation found while gating a spec. A Report
	// with no violations means the spec may run.
	Report struct {
		Violations []Violation
	}

	// GateOptions supplies the information the gate cannot derive from the
	// spec alone: the set of tool names registered in the runtime tool
	// registry, and the python-callable allow-list.
	GateOptions struct {
		RegisteredTools map[string]bool
		PythonAllowlist map[string]bool
	}
)

const (
	KindUnsupportedFeature ViolationKind = "unsupported_feature"
	KindInvalidReference   ViolationKind = "invalid_reference"
	KindStructuralError    ViolationKind = "structural_error"
)

// Error implements the error interface so a Report can be returned directly
// where callers expect an error; Gate itself returns (*Spec, *Report) so
// callers can also inspect violations without type-asserting an error.
func (r *Report) Error() string {
	if r == nil || len(r.Violations) == 0 {
		return "capability gate: no violations"
	}
	return fmt.Sprintf("capability gate: %d violation(s), first: %s: %s (%s)",
		len(r.Violations), r.Violations[0].Path, r.Violations[0].Remediation, r.Violations[0].Kind)
}

// ValidateSchema runs the raw spec document through the compiled JSON Schema
// before any structural capability checks. A schema violation is a distinct
// error class from a capability violation (schema errors exit 3, capability
// violations exit 18) and must halt before the gate runs.
func ValidateSchema(schemaJSON []byte, raw map[string]any) error {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("spec.json", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("spec: compiling schema: %w", err)
	}
	sch, err := c.Compile("spec.json")
	if err != nil {
		return fmt.Errorf("spec: compiling schema: %w", err)
	}
	if err := sch.Validate(raw); err != nil {
		return fmt.Errorf("spec: schema validation failed: %w", err)
	}
	return nil
}

var supportedProviders = map[Provider]bool{
	ProviderBedrock: true,
	ProviderOpenAI:  true,
	ProviderOllama:  true,
}

// Gate normalizes s (applying defaults) and validates it against every
// structural rule known to the engine. It never mutates the caller's Spec in place;
// normalized is a copy with defaults applied.
func Gate(s Spec, opts GateOptions) (normalized Spec, report *Report) {
	report = &Report{}
	normalized = s
	applyDefaults(&normalized)

	if len(normalized.Agents) == 0 {
		report.add("/agents", KindStructuralError, "a spec must declare at least one agent")
	}
	if normalized.Pattern == nil {
		report.add("/pattern", KindStructuralError, "a spec must declare exactly one pattern")
	}
	checkRuntime(normalized.Runtime, "/runtime", report)
	for id, a := range normalized.Agents {
		path := fmt.Sprintf("/agents/%s", id)
		if a.RuntimeOverride != nil {
			checkRuntime(*a.RuntimeOverride, path+"/runtime", report)
		}
		for _, t := range a.Tools {
			checkToolReference(normalized, opts, t, path, report)
		}
	}
	if normalized.Pattern != nil {
		checkPattern(normalized, opts, report)
	}
	for i, a := range normalized.Outputs {
		if a.Path == "" {
			report.add(fmt.Sprintf("/outputs/%d/path", i), KindStructuralError, "artifact path must not be empty")
		}
	}
	return normalized, report
}

func applyDefaults(s *Spec) {
	if s.Version == "" {
		s.Version = "0"
	}
	if s.Runtime.MaxParallel <= 0 {
		s.Runtime.MaxParallel = 1
	}
	if s.Runtime.Failure.Backoff == "" {
		s.Runtime.Failure.Backoff = BackoffConstant
	}
	if s.ContextPolicy.Budget.WarnThreshold <= 0 {
		s.ContextPolicy.Budget.WarnThreshold = 0.8
	}
	if s.ContextPolicy.Compaction.SummaryRatio <= 0 {
		s.ContextPolicy.Compaction.SummaryRatio = 0.3
	}
	if s.Security.ArtifactsDir == "" {
		s.Security.ArtifactsDir = "./artifacts"
	}
}

func checkRuntime(rt Runtime, path string, report *Report) {
	if !supportedProviders[rt.Provider] {
		report.add(path+"/provider", KindUnsupportedFeature,
			fmt.Sprintf("provider %q is not supported; use bedrock, openai, or ollama", rt.Provider))
		return
	}
	switch rt.Provider {
	case ProviderBedrock:
		if rt.Region == "" {
			report.add(path+"/region", KindStructuralError, "bedrock runtime requires a region")
		}
	case ProviderOllama:
		if rt.Host == "" {
			report.add(path+"/host", KindStructuralError, "ollama runtime requires a host")
		}
	}
	if rt.Budgets.MaxSteps < 0 || rt.Budgets.MaxTokens < 0 || rt.Budgets.MaxDurationS < 0 {
		report.add(path+"/budgets", KindStructuralError, "budgets must be non-negative")
	}
	if rt.Failure.Retries < 0 {
		report.add(path+"/failure_policy/retries", KindStructuralError, "retry count must be >= 0")
	}
	if rt.MaxParallel < 1 {
		report.add(path+"/max_parallel", KindStructuralError, "max_parallel must be >= 1")
	}
}

func checkToolReference(s Spec, opts GateOptions, toolName string, path string, report *Report) {
	if _, ok := s.Tools[toolName]; ok {
		binding := s.Tools[toolName]
		if binding.PythonCallable && opts.PythonAllowlist != nil && !opts.PythonAllowlist[toolName] {
			report.add(path+"/tools", KindUnsupportedFeature,
				fmt.Sprintf("python-callable tool %q is not on the allow-list", toolName))
		}
		if binding.SideEffectClass == SideEffectNetwork && binding.BaseURL != "" {
			if err := ScreenURL(binding.BaseURL, s.Security.AllowedHosts); err != nil {
				report.add(path+"/tools", KindUnsupportedFeature, err.Error())
			}
		}
		return
	}
	if opts.RegisteredTools != nil && opts.RegisteredTools[toolName] {
		return
	}
	report.add(path+"/tools", KindInvalidReference,
		fmt.Sprintf("tool %q is not declared in spec.tools and is not registered in the runtime tool registry", toolName))
}

func checkPattern(s Spec, opts GateOptions, report *Report) {
	switch p := s.Pattern.(type) {
	case Chain:
		checkSteps(s, p.Steps, "/pattern/steps", report)
	case Routing:
		if _, ok := s.Agents[p.RouterAgentID]; !ok {
			report.add("/pattern/router", KindInvalidReference, fmt.Sprintf("router agent %q does not exist", p.RouterAgentID))
		}
		if len(p.Routes) == 0 {
			report.add("/pattern/routes", KindStructuralError, "routing requires at least one route")
		}
		for name, chain := range p.Routes {
			checkSteps(s, chain.Steps, fmt.Sprintf("/pattern/routes/%s", name), report)
		}
	case Parallel:
		if len(p.Branches) < 2 {
			report.add("/pattern/branches", KindStructuralError, "parallel requires at least 2 branches")
		}
		seen := map[string]bool{}
		for _, b := range p.Branches {
			if seen[b.ID] {
				report.add("/pattern/branches", KindStructuralError, fmt.Sprintf("duplicate branch id %q", b.ID))
			}
			seen[b.ID] = true
			checkSteps(s, b.Steps, fmt.Sprintf("/pattern/branches/%s", b.ID), report)
		}
		if p.ReduceAgentID != "" {
			if _, ok := s.Agents[p.ReduceAgentID]; !ok {
				report.add("/pattern/reduce", KindInvalidReference, fmt.Sprintf("reduce agent %q does not exist", p.ReduceAgentID))
			}
		}
	case Workflow:
		checkWorkflowDAG(s, p, report)
	case Evaluator:
		if _, ok := s.Agents[p.ProducerAgentID]; !ok {
			report.add("/pattern/producer", KindInvalidReference, fmt.Sprintf("producer agent %q does not exist", p.ProducerAgentID))
		}
		if _, ok := s.Agents[p.EvaluatorAgentID]; !ok {
			report.add("/pattern/evaluator", KindInvalidReference, fmt.Sprintf("evaluator agent %q does not exist", p.EvaluatorAgentID))
		}
		if p.MaxIters < 1 {
			report.add("/pattern/accept/max_iters", KindStructuralError, "max_iters must be >= 1")
		}
	case Orchestrator:
		if _, ok := s.Agents[p.OrchestratorAgentID]; !ok {
			report.add("/pattern/orchestrator", KindInvalidReference, fmt.Sprintf("orchestrator agent %q does not exist", p.OrchestratorAgentID))
		}
		if _, ok := s.Agents[p.WorkerAgentID]; !ok {
			report.add("/pattern/worker_template", KindInvalidReference, fmt.Sprintf("worker agent %q does not exist", p.WorkerAgentID))
		}
		if p.MaxWorkers < 1 {
			report.add("/pattern/orchestrator/max_workers", KindStructuralError, "max_workers must be >= 1")
		}
		if p.MaxRounds < 1 {
			report.add("/pattern/orchestrator/max_rounds", KindStructuralError, "max_rounds must be >= 1")
		}
	case Graph:
		checkGraph(s, p, report)
	default:
		report.add("/pattern", KindUnsupportedFeature, fmt.Sprintf("unsupported pattern type %T", p))
	}
}

func checkSteps(s Spec, steps []Step, path string, report *Report) {
	for i, st := range steps {
		switch v := st.(type) {
		case AgentStep:
			if _, ok := s.Agents[v.AgentID]; !ok {
				report.add(fmt.Sprintf("%s/%d", path, i), KindInvalidReference, fmt.Sprintf("agent %q does not exist", v.AgentID))
			}
		case ManualGate:
			if v.ID == "" {
				report.add(fmt.Sprintf("%s/%d", path, i), KindStructuralError, "manual_gate requires an id")
			}
		}
	}
}

func checkWorkflowDAG(s Spec, w Workflow, report *Report) {
	byID := map[string]Task{}
	for _, t := range w.Tasks {
		byID[t.ID] = t
	}
	for _, t := range w.Tasks {
		if _, ok := s.Agents[t.AgentID]; !ok {
			report.add(fmt.Sprintf("/pattern/tasks/%s", t.ID), KindInvalidReference, fmt.Sprintf("agent %q does not exist", t.AgentID))
		}
		for _, d := range t.Deps {
			if _, ok := byID[d]; !ok {
				report.add(fmt.Sprintf("/pattern/tasks/%s/deps", t.ID), KindInvalidReference, fmt.Sprintf("dependency %q does not exist", d))
			}
		}
	}
	if cycle := findCycle(w.Tasks); cycle != "" {
		report.add("/pattern/tasks", KindStructuralError, fmt.Sprintf("dependency cycle detected involving task %q", cycle))
	}
}

// findCycle returns the id of a task participating in a cycle, or "" if the
// dependency graph is acyclic: Workflow tasks form a DAG.
func findCycle(tasks []Task) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	byID := map[string]Task{}
	for _, t := range tasks {
		byID[t.ID] = t
	}
	color := map[string]int{}
	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, d := range byID[id].Deps {
			switch color[d] {
			case gray:
				return id
			case white:
				if c := visit(d); c != "" {
					return c
				}
			}
		}
		color[id] = black
		return ""
	}
	for _, t := range tasks {
		if color[t.ID] == white {
			if c := visit(t.ID); c != "" {
				return c
			}
		}
	}
	return ""
}

func checkGraph(s Spec, g Graph, report *Report) {
	if _, ok := g.Nodes[g.StartNode]; !ok {
		report.add("/pattern/start_node", KindInvalidReference, fmt.Sprintf("start node %q does not exist", g.StartNode))
	}
	for id, n := range g.Nodes {
		if _, ok := s.Agents[n.AgentID]; !ok {
			report.add(fmt.Sprintf("/pattern/nodes/%s", id), KindInvalidReference, fmt.Sprintf("agent %q does not exist", n.AgentID))
		}
	}
	if g.MaxIterations < 1 {
		report.add("/pattern/max_iterations", KindStructuralError, "max_iterations must be >= 1")
	}
	byFrom := map[string][]Edge{}
	for _, e := range g.Edges {
		byFrom[e.From] = append(byFrom[e.From], e)
		if _, ok := g.Nodes[e.From]; !ok {
			report.add("/pattern/edges", KindInvalidReference, fmt.Sprintf("edge references unknown node %q", e.From))
		}
		if e.To != "" {
			if _, ok := g.Nodes[e.To]; !ok {
				report.add("/pattern/edges", KindInvalidReference, fmt.Sprintf("edge references unknown node %q", e.To))
			}
		}
		hasElse := false
		for _, c := range e.Choose {
			if c.When == "else" {
				hasElse = true
			}
			if _, ok := g.Nodes[c.To]; !ok {
				report.add("/pattern/edges", KindInvalidReference, fmt.Sprintf("choose clause references unknown node %q", c.To))
			}
		}
		if len(e.Choose) > 0 && !hasElse {
			report.add(fmt.Sprintf("/pattern/edges/%s", e.From), KindStructuralError,
				"choose[] clauses must be covered by a trailing else")
		}
	}
}

func (r *Report) add(path string, kind ViolationKind, remediation string) {
	r.Violations = append(r.Violations, Violation{Path: path, Kind: kind, Remediation: remediation})
}

// OK reports whether the report contains no violations, i.e. execution may
// begin: any violation in the report means execution must not start.
func (r *Report) OK() bool {
	return r == nil || len(r.Violations) == 0
}
