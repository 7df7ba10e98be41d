package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidmohan0/kanbun/pkg/protocol"
	"github.com/sidmohan0/kanbun/pkg/store"
)

func newTestWatcher(t *testing.T) (*Watcher, *store.Store, string) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "kanbun.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	w, err := New(st)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	workDir := t.TempDir()
	return w, st, workDir
}

func seedAgentWithRun(t *testing.T, st *store.Store) *protocol.Agent {
	t.Helper()
	a := &protocol.Agent{
		Name:        "writer",
		ProjectID:   "proj-1",
		Kind:        protocol.KindScript,
		FunctionTag: "engineering",
	}
	require.NoError(t, st.CreateAgent(context.Background(), a))
	_, err := st.StartInstructionRun(context.Background(), a.ID, "edit files")
	require.NoError(t, err)
	return a
}

// waitForChanges polls the active run until it holds at least n file
// changes or the deadline expires.
func waitForChanges(t *testing.T, st *store.Store, agentID string, n int) []protocol.FileChange {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := st.LatestRun(context.Background(), agentID)
		require.NoError(t, err)
		if len(run.FileChanges) >= n {
			return run.FileChanges
		}
		time.Sleep(20 * time.Millisecond)
	}
	run, _ := st.LatestRun(context.Background(), agentID)
	t.Fatalf("expected %d file changes, got %+v", n, run.FileChanges)
	return nil
}

func TestWatch_RecordsCreateAndModify(t *testing.T) {
	w, st, dir := newTestWatcher(t)
	a := seedAgentWithRun(t, st)
	require.NoError(t, w.Watch(a.ID, dir))

	path := filepath.Join(dir, "report.md")
	require.NoError(t, os.WriteFile(path, []byte("draft"), 0o644))

	changes := waitForChanges(t, st, a.ID, 1)
	assert.Equal(t, path, changes[0].Path)
	assert.Equal(t, protocol.FileCreated, changes[0].ChangeType)

	require.NoError(t, os.WriteFile(path, []byte("draft v2"), 0o644))
	changes = waitForChanges(t, st, a.ID, 2)

	var sawModify bool
	for _, c := range changes[1:] {
		if c.ChangeType == protocol.FileModified && c.Path == path {
			sawModify = true
		}
	}
	assert.True(t, sawModify, "changes: %+v", changes)
}

func TestWatch_IgnoresNoiseDirectories(t *testing.T) {
	w, st, dir := newTestWatcher(t)
	a := seedAgentWithRun(t, st)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules"), 0o755))
	require.NoError(t, w.Watch(a.ID, dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), []byte("junk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kept.txt"), []byte("signal"), 0o644))

	changes := waitForChanges(t, st, a.ID, 1)
	for _, c := range changes {
		assert.NotContains(t, c.Path, ".git")
		assert.NotContains(t, c.Path, ".DS_Store")
	}
}

func TestWatch_DeleteRecorded(t *testing.T) {
	w, st, dir := newTestWatcher(t)
	a := seedAgentWithRun(t, st)

	path := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(path, []byte("bye"), 0o644))
	require.NoError(t, w.Watch(a.ID, dir))

	require.NoError(t, os.Remove(path))

	changes := waitForChanges(t, st, a.ID, 1)
	var sawDelete bool
	for _, c := range changes {
		if c.ChangeType == protocol.FileDeleted && c.Path == path {
			sawDelete = true
		}
	}
	assert.True(t, sawDelete, "changes: %+v", changes)
}

func TestWatch_RequiresDirectory(t *testing.T) {
	w, st, dir := newTestWatcher(t)
	a := seedAgentWithRun(t, st)

	file := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.Error(t, w.Watch(a.ID, file))
	assert.Error(t, w.Watch(a.ID, filepath.Join(dir, "missing")))
}

func TestWatch_UnrelatedPathNotRecorded(t *testing.T) {
	w, st, dir := newTestWatcher(t)
	a := seedAgentWithRun(t, st)
	require.NoError(t, w.Watch(a.ID, dir))

	// A second agent's tree must not leak into the first agent's run.
	b := seedAgentWithRun(t, st)
	otherDir := t.TempDir()
	require.NoError(t, w.Watch(b.ID, otherDir))

	require.NoError(t, os.WriteFile(filepath.Join(otherDir, "theirs.txt"), []byte("x"), 0o644))
	waitForChanges(t, st, b.ID, 1)

	run, err := st.LatestRun(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, run.FileChanges)
}
