package engine

import (
	"context"

	"github.com/agentflowhq/engine/hooks"
	"github.com/agentflowhq/engine/telemetry"
)

// telemetrySink bridges the in-process event bus to the configured
// telemetry bundle, so every engine run logs and counts its own lifecycle
// without pattern executors importing telemetry directly.
type telemetrySink struct {
	tel telemetry.Bundle
}

func (s *telemetrySink) HandleEvent(ctx context.Context, event hooks.Event) error {
	s.tel.Metrics.IncCounter("workflow_events_total", 1, "type", string(event.Type))

	switch event.Type {
	case hooks.WorkflowError:
		s.tel.Logger.Error(ctx, "workflow failed", "session_id", event.SessionID, "data", event.Data)
	case hooks.BudgetWarning, hooks.InterruptPending:
		s.tel.Logger.Warn(ctx, string(event.Type), "session_id", event.SessionID, "data", event.Data)
	default:
		s.tel.Logger.Info(ctx, string(event.Type), "session_id", event.SessionID, "data", event.Data)
	}
	return nil
}
