// Command orchestra runs one declarative agentic workflow spec to
// completion or to its first human-in-the-loop pause.
//
// # Usage
//
//	orchestra run [-input key=value ...] [-session id] <spec.yaml>
//	orchestra resume -decision approve|reject|modify [-feedback text] <session-id>
//
// # Configuration
//
// Environment variables:
//
//	ORCHESTRA_SESSION_DIR   - session store root (default: "./sessions")
//	ORCHESTRA_ARTIFACTS_DIR - declared-output directory (default: "./artifacts")
//	AWS_REGION              - Bedrock region, when runtime.provider is bedrock
//	OPENAI_API_KEY          - OpenAI credential, when runtime.provider is openai
//	OLLAMA_HOST             - Ollama endpoint, when runtime.provider is ollama (default: "http://localhost:11434")
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/agentflowhq/engine/engine"
	"github.com/agentflowhq/engine/errs"
	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/providers/anthropicbedrock"
	"github.com/agentflowhq/engine/providers/ollamaadapter"
	"github.com/agentflowhq/engine/providers/openaiadapter"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/session/filestore"
	"github.com/agentflowhq/engine/specio"
	"github.com/agentflowhq/engine/spec"
	"github.com/agentflowhq/engine/telemetry"
	"github.com/agentflowhq/engine/toolregistry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Print(err)
		os.Exit(errs.ExitCode(err))
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return errs.New(errs.KindUsage, "usage: orchestra run|resume ...", nil)
	}

	switch args[0] {
	case "run":
		return runCommand(args[1:])
	case "resume":
		return resumeCommand(args[1:])
	default:
		return errs.New(errs.KindUsage, fmt.Sprintf("unknown subcommand %q", args[0]), nil)
	}
}

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	var inputs stringList
	fs.Var(&inputs, "input", "key=value input override; may be repeated")
	sessionID := fs.String("session", "", "session id to use (default: generated)")
	if err := fs.Parse(args); err != nil {
		return errs.New(errs.KindUsage, "parsing flags", err)
	}
	if fs.NArg() != 1 {
		return errs.New(errs.KindUsage, "usage: orchestra run [-input key=value] <spec.yaml>", nil)
	}

	doc, err := specio.Load(fs.Arg(0))
	if err != nil {
		return errs.New(errs.KindSchema, "loading spec", err)
	}
	if err := spec.ValidateSchema(specio.Schema, doc.Fields); err != nil {
		return errs.New(errs.KindSchema, "validating spec against schema", err)
	}

	e, normalized, err := buildEngine(doc)
	if err != nil {
		return err
	}

	values, err := specio.CoerceInputs(inputs, normalized.Inputs)
	if err != nil {
		return errs.New(errs.KindUsage, "applying input overrides", err)
	}

	sess, runErr := e.Run(context.Background(), *sessionID, values)
	if sess.ID != "" {
		if store, serr := filestore.New(envOr("ORCHESTRA_SESSION_DIR", "./sessions")); serr == nil {
			if serr := store.SaveSpecSnapshot(sess.ID, doc.Raw); serr != nil {
				slog.Warn("orchestra: could not save spec snapshot", "session_id", sess.ID, "error", serr)
			}
		}
	}
	printSession(sess)
	if runErr != nil {
		return runErr
	}
	if sess.Status == session.StatusPaused {
		return errs.New(errs.KindHITLPause, "workflow paused at a manual gate; resume with `orchestra resume "+sess.ID+"`", nil)
	}
	if sess.Status == session.StatusFailed {
		return errs.New(errs.KindRuntime, sess.FailReason, nil)
	}
	return nil
}

func resumeCommand(args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	decisionKind := fs.String("decision", "", "approve|reject|modify")
	feedback := fs.String("feedback", "", "feedback text, used by modify")
	if err := fs.Parse(args); err != nil {
		return errs.New(errs.KindUsage, "parsing flags", err)
	}
	if fs.NArg() != 1 || *decisionKind == "" {
		return errs.New(errs.KindUsage, "usage: orchestra resume -decision approve|reject|modify <session-id>", nil)
	}

	store, err := filestore.New(envOr("ORCHESTRA_SESSION_DIR", "./sessions"))
	if err != nil {
		return errs.New(errs.KindIO, "opening session store", err)
	}
	sessionID := fs.Arg(0)
	rawSnapshot, err := store.LoadSpecSnapshot(sessionID)
	if err != nil {
		return errs.New(errs.KindSession, "loading spec snapshot", err)
	}
	doc, err := specio.Parse(rawSnapshot)
	if err != nil {
		return errs.New(errs.KindSchema, "re-parsing spec snapshot", err)
	}

	e, _, err := buildEngineWithStore(doc, store)
	if err != nil {
		return err
	}

	decision := session.Decision{Kind: session.DecisionKind(*decisionKind), Feedback: *feedback}
	sess, runErr := e.Resume(context.Background(), sessionID, decision)
	printSession(sess)
	if runErr != nil {
		return runErr
	}
	if sess.Status == session.StatusPaused {
		return errs.New(errs.KindHITLPause, "workflow paused again at a manual gate", nil)
	}
	if sess.Status == session.StatusFailed {
		return errs.New(errs.KindRuntime, sess.FailReason, nil)
	}
	return nil
}

func buildEngine(doc specio.Document) (*engine.Engine, spec.Spec, error) {
	store, err := filestore.New(envOr("ORCHESTRA_SESSION_DIR", "./sessions"))
	if err != nil {
		return nil, spec.Spec{}, errs.New(errs.KindIO, "opening session store", err)
	}
	if err := store.SaveSpecSnapshot(docSessionKey(doc), doc.Raw); err != nil {
		// Best-effort pre-save: runCommand writes the snapshot resume reads
		// under the session id once Run returns; a failure here is not fatal.
		slog.Warn("orchestra: could not pre-save spec snapshot", "error", err)
	}
	return buildEngineWithStore(doc, store)
}

// docSessionKey is a throwaway key used only for the opportunistic snapshot
// pre-save above; runCommand saves the real snapshot under the session id
// that Run assigns.
func docSessionKey(doc specio.Document) string { return "_preflight_" + doc.Spec.Name }

func buildEngineWithStore(doc specio.Document, store session.Store) (*engine.Engine, spec.Spec, error) {
	registry := toolregistry.New(toolregistry.Guard{
		AllowedHosts: doc.Spec.Security.AllowedHosts,
		ArtifactsDir: envOr("ORCHESTRA_ARTIFACTS_DIR", "./artifacts"),
	})
	registerBuiltinTools(registry, doc.Spec.Security.ArtifactsDir)

	normalized, report := spec.Gate(doc.Spec, spec.GateOptions{RegisteredTools: registry.Names()})
	if len(report.Violations) > 0 {
		return nil, spec.Spec{}, errs.New(errs.KindUnsupported, report.Error(), report)
	}

	pool := modelclient.NewPool()
	pool.Register(spec.ProviderBedrock, bedrockFactory())
	pool.Register(spec.ProviderOpenAI, openaiFactory())
	pool.Register(spec.ProviderOllama, ollamaFactory())

	expr, err := exprlang.NewExpr()
	if err != nil {
		return nil, spec.Spec{}, errs.New(errs.KindUnexpected, "constructing expression evaluator", err)
	}

	e, err := engine.New(engine.Config{
		Spec:         normalized,
		RawSpec:      doc.Fields,
		Store:        store,
		Registry:     registry,
		Pool:         pool,
		Expr:         expr,
		ArtifactsDir: envOr("ORCHESTRA_ARTIFACTS_DIR", "./artifacts"),
		Telemetry:    telemetry.Bundle{Logger: telemetry.NewSlogLogger(nil), Metrics: telemetry.NewOTELMetrics(), Tracer: telemetry.NewOTELTracer()},
	})
	if err != nil {
		return nil, spec.Spec{}, err
	}
	return e, normalized, nil
}

func registerBuiltinTools(registry *toolregistry.Registry, artifactsDir string) {
	registry.Register(&toolregistry.HTTPRequestTool{})
	registry.Register(&toolregistry.ReadFileTool{ArtifactsDir: artifactsDir})
	registry.Register(&toolregistry.WriteFileTool{ArtifactsDir: artifactsDir})
	registry.Register(&toolregistry.GrepTool{})
	registry.Register(&toolregistry.HeadTool{})
	registry.Register(&toolregistry.TailTool{})
	registry.MarkNonIdempotent("write_file")
}

func bedrockFactory() modelclient.Factory {
	return func(rt spec.Runtime) (modelclient.Client, error) {
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(rt.Region))
		if err != nil {
			return nil, fmt.Errorf("loading aws config: %w", err)
		}
		client := bedrockruntime.NewFromConfig(cfg)
		return anthropicbedrock.New(client, rt.ModelID)
	}
}

func openaiFactory() modelclient.Factory {
	return func(rt spec.Runtime) (modelclient.Client, error) {
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return openaiadapter.NewFromAPIKey(apiKey, rt.ModelID)
	}
}

func ollamaFactory() modelclient.Factory {
	return func(rt spec.Runtime) (modelclient.Client, error) {
		host := rt.Host
		if host == "" {
			host = envOr("OLLAMA_HOST", "http://localhost:11434")
		}
		return ollamaadapter.New(host, nil)
	}
}

func printSession(sess session.Session) {
	out, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, sess)
		return
	}
	fmt.Println(string(out))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
