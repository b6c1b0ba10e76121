// Package ctxpolicy implements the three context-management hooks that may
// be installed on an agent handle: proactive compaction, the notes
// appender/injector, and the budget enforcer. The hooks compose in a fixed
// order around every cycle: notes-inject -> cycle -> budget-check ->
// compaction -> notes-append.
package ctxpolicy

import (
	"context"

	"github.com/agentflowhq/engine/hooks"
	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
)

// Cycle is one agent-turn invocation, wrapped by the hook chain.
type Cycle func(ctx context.Context, messages []modelclient.Message) (modelclient.Response, error)

// Hooks composes the three policy hooks around a Cycle in their fixed
// order: notes are injected before the cycle runs and appended after it;
// the budget is checked against the cycle's usage before compaction runs.
type Hooks struct {
	Compaction *Compactor
	Notes      *Notes
	Budget     *Budget

	// Bus and SessionID, when set, let the budget-warn path publish a
	// budget_warning event (spec §4.5, §4.10) the same way pattern
	// executors publish their own lifecycle events. Both are optional:
	// a Hooks built without them simply never emits.
	Bus       *hooks.Bus
	SessionID string
}

// Wrap returns a Cycle that runs notes-inject, the wrapped cycle,
// budget-check, compaction, then notes-append, in that fixed order.
func (h *Hooks) Wrap(agentID string, inner Cycle) Cycle {
	return func(ctx context.Context, messages []modelclient.Message) (modelclient.Response, error) {
		if h.Notes != nil && h.Notes.Enabled {
			messages = h.Notes.Inject(agentID, messages)
		}

		resp, err := inner(ctx, messages)
		if err != nil {
			return resp, err
		}

		forceCompact := false
		if h.Budget != nil && h.Budget.Enabled {
			if berr := h.Budget.Check(resp.Usage); berr != nil {
				return resp, berr
			}
			if h.Budget.ShouldWarn() {
				messages = append(messages, modelclient.Message{
					Role: modelclient.RoleAssistant,
					Text: "warning: approaching the configured token budget",
				})
				forceCompact = true
				if h.Bus != nil {
					h.Bus.Publish(ctx, hooks.New(hooks.BudgetWarning, h.SessionID, map[string]any{
						"agent_id":          agentID,
						"cumulative_tokens": h.Budget.CumulativeTokens(),
					}))
				}
			}
		}

		if h.Compaction != nil {
			messages, err = h.Compaction.MaybeCompact(ctx, messages, forceCompact)
			if err != nil {
				return resp, err
			}
		}

		if h.Notes != nil && h.Notes.Enabled {
			if err := h.Notes.Append(agentID, messages, resp); err != nil {
				return resp, err
			}
		}

		return resp, nil
	}
}

// New builds a Hooks set from a spec.ContextPolicy, wiring a distinct
// summarizer client when the compaction policy names one. bus and
// sessionID are optional and, when supplied, let the budget-warn path
// publish a budget_warning event; pass a nil bus to build a Hooks that
// never emits (e.g. in tests).
func New(policy spec.ContextPolicy, primary modelclient.Client, summarizer modelclient.Client, bus *hooks.Bus, sessionID string) *Hooks {
	if summarizer == nil {
		summarizer = primary
	}
	return &Hooks{
		Compaction: NewCompactor(policy.Compaction, summarizer),
		Notes:      NewNotes(policy.Notes),
		Budget:     NewBudget(policy.Budget),
		Bus:        bus,
		SessionID:  sessionID,
	}
}
