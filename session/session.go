// Package session defines the Session lifecycle record, pattern-state
// tagged union, and the Store interface with its single canonical
// file-based implementation under session/filestore.
package session

import (
	"github.com/agentflowhq/engine/modelclient"
)

// Status is the session's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Session is the top-level, persisted record for one workflow run.
type Session struct {
	ID         string
	SpecName   string
	SpecHash   string
	Status     Status
	Variables  map[string]any
	TokenUsage modelclient.TokenUsage
	FailReason string
	CreatedAt  string // RFC3339; stamped by the caller, never by this package
	UpdatedAt  string
}

// InterruptRecord captures one paused ManualGate awaiting a human decision.
type InterruptRecord struct {
	GateID    string
	Prompt    string
	StepIndex int
	CreatedAt string
	TimeoutS  int
}

// Decision is the human response to a paused ManualGate, handed to the
// pattern executors at resume time. It is not bound into template scope:
// approve records an empty response for the gate step, modify records
// Feedback as the gate step's response (the next step sees it as
// last_response), and reject fails the step.
type Decision struct {
	Kind     DecisionKind
	Feedback string
}

type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
	DecisionModify  DecisionKind = "modify"
)

// PatternState is a variant-tagged union of per-pattern execution progress.
// Exactly one of the typed fields is populated, selected by Kind.
type PatternState struct {
	Kind         string
	Chain        *ChainState
	Routing      *RoutingState
	Parallel     *ParallelState
	Workflow     *WorkflowState
	Evaluator    *EvaluatorState
	Orchestrator *OrchestratorState
	Graph        *GraphState
	Interrupt    *InterruptRecord
}

// StepRecord is one completed Chain/Routing step.
type StepRecord struct {
	Index    int
	AgentID  string
	Response string
}

type ChainState struct {
	CurrentStepIndex int
	StepHistory      []StepRecord
}

type RoutingState struct {
	SelectedRoute string
	Rationale     string
	Chain         ChainState
}

// RunState is the terminal-or-in-progress status of one branch or task
// within a Parallel or Workflow pattern. Every branch/task must settle into
// exactly one of Completed, Skipped, or Failed by the time its owning
// pattern finishes; Pending means it has not yet run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunCompleted RunState = "completed"
	RunSkipped   RunState = "skipped"
	RunFailed    RunState = "failed"
)

type BranchState struct {
	ID          string
	StepHistory []StepRecord
	Status      RunState
	FailReason  string
}

type ParallelState struct {
	Branches   []BranchState
	ReduceDone bool
	Reduced    string
}

type TaskState struct {
	ID         string
	Status     RunState
	Response   string
	FailReason string
}

type WorkflowState struct {
	Tasks []TaskState
}

type EvaluatorState struct {
	Iteration    int
	LastScore    float64
	LastOutput   string
	LastFeedback string
}

type OrchestratorState struct {
	Round         int
	WorkerOutputs []string
	ReduceDone    bool
	Reduced       string
	Writeup       string
}

type GraphState struct {
	CurrentNode   string
	Iterations    int
	Visited       []string
	NodeResponses map[string]string
	TerminalNode  string
}

// Store is the session persistence interface. The only production
// implementation is session/filestore.Store.
type Store interface {
	Create(s Session) error
	Get(id string) (Session, error)
	Update(s Session) error
	List(statusFilter Status) ([]Session, error)
	Delete(id string) error

	SavePatternState(sessionID string, state PatternState) error
	LoadPatternState(sessionID string) (PatternState, error)

	SaveSpecSnapshot(sessionID string, specYAML []byte) error
	LoadSpecSnapshot(sessionID string) ([]byte, error)

	AppendMessage(sessionID, agentID string, index int, message modelclient.Message) error
	LoadMessages(sessionID, agentID string) ([]modelclient.Message, error)

	Cleanup(olderThan string, preserveCompleted bool) (int, error)
}
