package ctxpolicy

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/spec"
)

const maxOutcomePreview = 280

// Notes implements the notes ledger: a per-workflow Markdown file appended
// to after every cycle and re-injected as a prepended system message before
// every subsequent cycle. Writers serialize on a mutex so concurrent agents
// sharing one ledger never interleave partial records.
type Notes struct {
	Enabled     bool
	Path        string
	InjectLastN int

	mu sync.Mutex
}

// NewNotes builds a Notes appender from its policy configuration.
func NewNotes(p spec.NotesPolicy) *Notes {
	return &Notes{Enabled: p.Enabled, Path: p.Path, InjectLastN: p.InjectLastN}
}

// Inject reads the last InjectLastN records from the ledger and prepends
// them as a single system message ahead of messages.
func (n *Notes) Inject(agentID string, messages []modelclient.Message) []modelclient.Message {
	records := n.readLastN()
	if len(records) == 0 {
		return messages
	}
	prefix := modelclient.Message{
		Role: modelclient.RoleSystem,
		Text: "Prior run notes:\n\n" + strings.Join(records, "\n\n"),
	}
	out := make([]modelclient.Message, 0, len(messages)+1)
	out = append(out, prefix)
	out = append(out, messages...)
	return out
}

// Append writes one record for this cycle: a timestamped heading, an input
// summary, and a truncated outcome preview.
func (n *Notes) Append(agentID string, messages []modelclient.Message, resp modelclient.Response) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	record := formatRecord(agentID, messages, resp)

	f, err := os.OpenFile(n.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ctxpolicy: opening notes ledger: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(record + "\n"); err != nil {
		return fmt.Errorf("ctxpolicy: appending notes record: %w", err)
	}
	return nil
}

func formatRecord(agentID string, messages []modelclient.Message, resp modelclient.Response) string {
	var lastInput string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == modelclient.RoleUser {
			lastInput = messages[i].Text
			break
		}
	}
	outcome := resp.Text
	if len(outcome) > maxOutcomePreview {
		outcome = outcome[:maxOutcomePreview] + "..."
	}
	return fmt.Sprintf("## [%s] — Agent: %s\n\nInput: %s\n\nOutcome: %s\n",
		time.Now().UTC().Format(time.RFC3339), agentID, truncate(lastInput, maxOutcomePreview), outcome)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// readLastN returns the last n "## " delimited records from the ledger, or
// nil if the ledger does not exist yet or n <= 0.
func (n *Notes) readLastN() []string {
	if n.InjectLastN <= 0 {
		return nil
	}
	data, err := os.ReadFile(n.Path)
	if err != nil {
		return nil
	}
	raw := strings.Split(string(data), "## ")
	var records []string
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		records = append(records, "## "+strings.TrimSpace(r))
	}
	if len(records) > n.InjectLastN {
		records = records[len(records)-n.InjectLastN:]
	}
	return records
}
