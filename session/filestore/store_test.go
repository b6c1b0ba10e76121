package filestore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/modelclient"
	"github.com/agentflowhq/engine/session"
	"github.com/agentflowhq/engine/session/filestore"
)

func newStore(t *testing.T) *filestore.Store {
	t.Helper()
	st, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	return st
}

func TestCreateGetUpdate(t *testing.T) {
	st := newStore(t)
	sess := session.Session{ID: "abc", SpecName: "demo", Status: session.StatusRunning, CreatedAt: "2026-07-30T00:00:00Z", UpdatedAt: "2026-07-30T00:00:00Z"}

	require.NoError(t, st.Create(sess))

	got, err := st.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, session.StatusRunning, got.Status)

	got.Status = session.StatusCompleted
	require.NoError(t, st.Update(got))

	reloaded, err := st.Get("abc")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, reloaded.Status)
}

func TestPatternStateRoundTrip(t *testing.T) {
	st := newStore(t)
	sess := session.Session{ID: "abc", CreatedAt: "2026-07-30T00:00:00Z", UpdatedAt: "2026-07-30T00:00:00Z"}
	require.NoError(t, st.Create(sess))

	state := session.PatternState{
		Kind:  "chain",
		Chain: &session.ChainState{CurrentStepIndex: 2, StepHistory: []session.StepRecord{{Index: 0, AgentID: "a"}}},
	}
	require.NoError(t, st.SavePatternState("abc", state))

	got, err := st.LoadPatternState("abc")
	require.NoError(t, err)
	require.NotNil(t, got.Chain)
	assert.Equal(t, 2, got.Chain.CurrentStepIndex)
}

func TestSpecSnapshotRoundTrip(t *testing.T) {
	st := newStore(t)
	sess := session.Session{ID: "abc", CreatedAt: "2026-07-30T00:00:00Z", UpdatedAt: "2026-07-30T00:00:00Z"}
	require.NoError(t, st.Create(sess))

	require.NoError(t, st.SaveSpecSnapshot("abc", []byte("name: demo\n")))
	data, err := st.LoadSpecSnapshot("abc")
	require.NoError(t, err)
	assert.Equal(t, "name: demo\n", string(data))
}

func TestAppendAndLoadMessagesOrdered(t *testing.T) {
	st := newStore(t)
	sess := session.Session{ID: "abc", CreatedAt: "2026-07-30T00:00:00Z", UpdatedAt: "2026-07-30T00:00:00Z"}
	require.NoError(t, st.Create(sess))

	require.NoError(t, st.AppendMessage("abc", "writer", 2, modelclient.Message{Role: modelclient.RoleAssistant, Text: "second"}))
	require.NoError(t, st.AppendMessage("abc", "writer", 1, modelclient.Message{Role: modelclient.RoleUser, Text: "first"}))

	msgs, err := st.LoadMessages("abc", "writer")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)
}

func TestListFiltersByStatus(t *testing.T) {
	st := newStore(t)
	require.NoError(t, st.Create(session.Session{ID: "running1", Status: session.StatusRunning, CreatedAt: "2026-07-30T00:00:00Z", UpdatedAt: "2026-07-30T00:00:00Z"}))
	require.NoError(t, st.Create(session.Session{ID: "done1", Status: session.StatusCompleted, CreatedAt: "2026-07-30T00:00:00Z", UpdatedAt: "2026-07-30T00:00:00Z"}))

	running, err := st.List(session.StatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "running1", running[0].ID)

	all, err := st.List("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCleanupPreservesCompletedWhenRequested(t *testing.T) {
	st := newStore(t)
	old := "2020-01-01T00:00:00Z"
	require.NoError(t, st.Create(session.Session{ID: "stale-running", Status: session.StatusRunning, CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, st.Create(session.Session{ID: "stale-done", Status: session.StatusCompleted, CreatedAt: old, UpdatedAt: old}))
	require.NoError(t, st.Create(session.Session{ID: "fresh", Status: session.StatusRunning, CreatedAt: "2026-07-30T00:00:00Z", UpdatedAt: "2026-07-30T00:00:00Z"}))

	removed, err := st.Cleanup("2025-01-01T00:00:00Z", true)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := st.List("")
	require.NoError(t, err)
	var ids []string
	for _, s := range remaining {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{"stale-done", "fresh"}, ids)
}

func TestDeleteRemovesDirectory(t *testing.T) {
	st := newStore(t)
	sess := session.Session{ID: "abc", CreatedAt: "2026-07-30T00:00:00Z", UpdatedAt: "2026-07-30T00:00:00Z"}
	require.NoError(t, st.Create(sess))
	require.NoError(t, st.Delete("abc"))

	_, err := st.Get("abc")
	assert.Error(t, err)
}

func TestSessionDirectoryLayout(t *testing.T) {
	root := t.TempDir()
	st, err := filestore.New(root)
	require.NoError(t, err)
	require.NoError(t, st.Create(session.Session{ID: "xyz", CreatedAt: "2026-07-30T00:00:00Z", UpdatedAt: "2026-07-30T00:00:00Z"}))

	assert.FileExists(t, filepath.Join(root, "session_xyz", "session.json"))
	assert.DirExists(t, filepath.Join(root, "session_xyz", "agents"))
}
