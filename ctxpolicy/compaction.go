package ctxpolicy

import (
	"context"
	"fmt"

	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
)

const defaultSummaryPrompt = `Summarize the conversation so far in a way that preserves the user's explicit requests, decisions made, and any context needed to continue the work. Be thorough but concise.`

// Compactor implements proactive compaction: once cumulative tokens exceed
// a threshold, it summarizes the older portion of the conversation and
// splices the summary back in ahead of the preserved recent messages.
// Tool-call/tool-result message pairs are never split across the boundary.
type Compactor struct {
	Enabled               bool
	WhenTokensOver        int
	SummaryRatio          float64
	PreserveRecentMessages int
	Summarizer            modelclient.Client
}

// NewCompactor builds a Compactor from its policy configuration.
func NewCompactor(p spec.CompactionPolicy, summarizer modelclient.Client) *Compactor {
	return &Compactor{
		Enabled:                p.Enabled,
		WhenTokensOver:         p.WhenTokensOver,
		SummaryRatio:           p.SummaryRatio,
		PreserveRecentMessages: p.PreserveRecentMessages,
		Summarizer:             summarizer,
	}
}

// MaybeCompact summarizes the older portion of messages when their total
// token estimate exceeds WhenTokensOver, or unconditionally when force is
// true (the budget enforcer crossing its warn threshold). It never splits a
// tool-call from its matching tool-result: the preservation boundary is
// adjusted backward until it falls on a turn boundary.
func (c *Compactor) MaybeCompact(ctx context.Context, messages []modelclient.Message, force bool) ([]modelclient.Message, error) {
	if c.Summarizer == nil || (!c.Enabled && !force) {
		return messages, nil
	}

	if !force && estimateTokens(messages) <= c.WhenTokensOver {
		return messages, nil
	}

	boundary := compactionBoundary(messages, c.PreserveRecentMessages)
	if boundary <= 0 {
		return messages, nil
	}

	older := messages[:boundary]
	recent := messages[boundary:]

	summary, err := c.summarize(ctx, older)
	if err != nil {
		return messages, fmt.Errorf("ctxpolicy: compacting conversation: %w", err)
	}

	out := make([]modelclient.Message, 0, len(recent)+1)
	out = append(out, modelclient.Message{Role: modelclient.RoleSystem, Text: summary})
	out = append(out, recent...)
	return out, nil
}

func (c *Compactor) summarize(ctx context.Context, messages []modelclient.Message) (string, error) {
	req := modelclient.Request{
		Messages: append(append([]modelclient.Message(nil), messages...),
			modelclient.Message{Role: modelclient.RoleUser, Text: defaultSummaryPrompt}),
	}
	resp, err := c.Summarizer.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// compactionBoundary returns the index at which older history ends and the
// preserved recent window begins, never splitting a tool message away from
// the assistant turn that produced it.
func compactionBoundary(messages []modelclient.Message, preserveRecent int) int {
	if preserveRecent <= 0 || preserveRecent >= len(messages) {
		if preserveRecent >= len(messages) {
			return 0
		}
		preserveRecent = 1
	}
	boundary := len(messages) - preserveRecent
	for boundary > 0 && messages[boundary].Role == modelclient.RoleTool {
		boundary--
	}
	return boundary
}

// estimateTokens is a coarse character-based token estimate used only to
// decide whether compaction is due; the actual budget check uses the
// provider-reported usage from modelclient.Response.
func estimateTokens(messages []modelclient.Message) int {
	chars := 0
	for _, m := range messages {
		chars += len(m.Text)
	}
	return chars / 4
}
