package artifact_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflowhq/engine/artifact"
	"github.com/agentflowhq/engine/exprlang"
	"github.com/agentflowhq/engine/spec"
)

func TestWriteAllRendersContentAndPath(t *testing.T) {
	dir := t.TempDir()
	w, err := artifact.New(dir)
	require.NoError(t, err)

	scope := exprlang.Scope{"last_response": "final answer", "inputs": map[string]any{"slug": "report"}}
	specs := []spec.ArtifactSpec{
		{From: "{{last_response}}", Path: "out/{{inputs.slug}}.txt"},
	}

	require.NoError(t, w.WriteAll(specs, scope))

	data, err := os.ReadFile(filepath.Join(dir, "out", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "final answer", string(data))
}

func TestWriteAllRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	w, err := artifact.New(dir)
	require.NoError(t, err)

	specs := []spec.ArtifactSpec{{From: "x", Path: "../escape.txt"}}
	err = w.WriteAll(specs, exprlang.Scope{})
	assert.Error(t, err)
}

func TestWriteAllRequiresForceToOverwrite(t *testing.T) {
	dir := t.TempDir()
	w, err := artifact.New(dir)
	require.NoError(t, err)

	specs := []spec.ArtifactSpec{{From: "one", Path: "report.txt"}}
	require.NoError(t, w.WriteAll(specs, exprlang.Scope{}))

	err = w.WriteAll(specs, exprlang.Scope{})
	assert.Error(t, err)

	forced := []spec.ArtifactSpec{{From: "two", Path: "report.txt", Force: true}}
	require.NoError(t, w.WriteAll(forced, exprlang.Scope{}))

	data, err := os.ReadFile(filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}
