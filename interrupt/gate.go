// Package interrupt implements the manual-gate pause/resume mechanism:
// deterministic gate identifiers, a channel-based wait for the human
// decision, and the timeout that finalizes an abandoned pause as failed.
package interrupt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/agentflowhq/engine/session"
)

// GateID derives a stable identifier for the manual gate at stepIndex
// within sessionID, so resuming the same session always addresses the
// same gate even if the process restarts between pause and resume.
func GateID(sessionID string, stepIndex int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", sessionID, stepIndex)))
	return hex.EncodeToString(sum[:])[:16]
}

// ErrTimeout is returned by Gate.Wait when the gate's timeout elapses
// before a decision arrives.
var ErrTimeout = errors.New("interrupt: gate timed out waiting for a decision")

// Gate is one paused ManualGate awaiting a human decision. It is live only
// for the lifetime of the process that reached the pause; a resume in a
// different process re-creates the Gate from the persisted InterruptRecord
// and never blocks on a channel that process never owned.
type Gate struct {
	Record   session.InterruptRecord
	decision chan session.Decision
}

// New creates a Gate for the given step, recording it with the supplied
// prompt and timeout (zero means no timeout).
func New(sessionID string, stepIndex int, prompt string, timeoutS int, createdAt string) *Gate {
	return &Gate{
		Record: session.InterruptRecord{
			GateID:    GateID(sessionID, stepIndex),
			Prompt:    prompt,
			StepIndex: stepIndex,
			CreatedAt: createdAt,
			TimeoutS:  timeoutS,
		},
		decision: make(chan session.Decision, 1),
	}
}

// Resolve delivers the human decision to whatever goroutine is blocked in
// Wait. It is safe to call at most once; subsequent calls are no-ops.
func (g *Gate) Resolve(d session.Decision) {
	select {
	case g.decision <- d:
	default:
	}
}

// Wait blocks until Resolve is called, ctx is canceled, or the gate's own
// timeout elapses, whichever comes first.
func (g *Gate) Wait(ctx context.Context) (session.Decision, error) {
	var timeout <-chan time.Time
	if g.Record.TimeoutS > 0 {
		timer := time.NewTimer(time.Duration(g.Record.TimeoutS) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case d := <-g.decision:
		return d, nil
	case <-timeout:
		return session.Decision{}, ErrTimeout
	case <-ctx.Done():
		return session.Decision{}, ctx.Err()
	}
}

// Apply computes the session-lifecycle transition for a decision against
// the state-machine table: approve and modify resume the session, reject
// (and any unknown kind) finalizes it as failed. rerunPreviousStep is true
// only for modify and is informational: the pattern executors do not
// re-execute the previous step; they record the modify feedback as the
// gate step's response and continue past the gate.
func Apply(d session.Decision) (next session.Status, rerunPreviousStep bool) {
	switch d.Kind {
	case session.DecisionApprove:
		return session.StatusRunning, false
	case session.DecisionReject:
		return session.StatusFailed, false
	case session.DecisionModify:
		return session.StatusRunning, true
	default:
		return session.StatusFailed, false
	}
}
