package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "kanbun.db")

	s, err := Open(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAgent(t *testing.T, s *Store, name string) *protocol.Agent {
	t.Helper()
	a := &protocol.Agent{
		Name:        name,
		ProjectID:   "proj-1",
		Kind:        protocol.KindScript,
		FunctionTag: "engineering",
	}
	require.NoError(t, s.CreateAgent(context.Background(), a))
	return a
}

func TestOpen_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "kanbun.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.LogEvent(context.Background(), "startup", "test", "", ""))
}

func TestOpen_SchemaIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "kanbun.db")

	s, err := Open(dbPath)
	require.NoError(t, err)
	seedAgent(t, s, "alpha")
	require.NoError(t, s.Close())

	// Reopening must not wipe existing rows.
	s2, err := Open(dbPath)
	require.NoError(t, err)
	defer s2.Close()

	agents, err := s2.ListAgents(context.Background())
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

// --- Agents ---

func TestAgentCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &protocol.Agent{
		Name:             "marketing-writer",
		ProjectID:        "proj-1",
		Kind:             protocol.KindTerminal,
		FunctionTag:      "marketing",
		WorkingDirectory: "/tmp/work",
		Config: protocol.AgentConfig{
			AutonomyLevel: protocol.AutonomySupervised,
			WatchPaths:    []string{"/tmp/work/drafts"},
		},
	}
	require.NoError(t, s.CreateAgent(ctx, a))
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, protocol.AgentIdle, a.Status)

	got, err := s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "marketing-writer", got.Name)
	assert.Equal(t, protocol.KindTerminal, got.Kind)
	assert.Equal(t, "/tmp/work", got.WorkingDirectory)
	assert.Equal(t, protocol.AutonomySupervised, got.Config.AutonomyLevel)
	assert.Equal(t, []string{"/tmp/work/drafts"}, got.Config.WatchPaths)

	require.NoError(t, s.UpdateAgentStatus(ctx, a.ID, protocol.AgentRunning))
	got, err = s.GetAgent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.AgentRunning, got.Status)
	require.NotNil(t, got.LastActiveAt)
}

func TestGetAgent_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAgentStatus_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateAgentStatus(context.Background(), "missing", protocol.AgentRunning)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Adapter configs ---

func TestAdapterConfig_UpsertAndRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	cfg := protocol.AdapterConfig{
		AdapterType:   protocol.AdapterProcess,
		Command:       "python worker.py",
		Env:           map[string]string{"API_KEY": "secret"},
		RestartPolicy: protocol.RestartAlways,
	}
	require.NoError(t, s.SetAdapterConfig(ctx, a.ID, cfg))

	got, err := s.GetAdapterConfig(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.AdapterProcess, got.AdapterType)
	assert.Equal(t, "python worker.py", got.Command)
	assert.Equal(t, "secret", got.Env["API_KEY"])
	assert.Equal(t, protocol.RestartAlways, got.RestartPolicy)

	// Latest write wins.
	cfg2 := protocol.AdapterConfig{AdapterType: protocol.AdapterMock}
	require.NoError(t, s.SetAdapterConfig(ctx, a.ID, cfg2))

	got, err = s.GetAdapterConfig(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.AdapterMock, got.AdapterType)
	assert.Empty(t, got.Command)
	assert.Empty(t, got.Env)
}

func TestGetAdapterConfig_NotConfigured(t *testing.T) {
	s := newTestStore(t)
	a := seedAgent(t, s, "alpha")

	_, err := s.GetAdapterConfig(context.Background(), a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Messages ---

func TestAppendMessage_AssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	m := protocol.NewToAgent(a.ID, protocol.MsgInstruction, "write the report")
	require.NoError(t, s.AppendMessage(ctx, m))
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgInstruction, got.Kind)
	assert.Equal(t, "write the report", got.Content)
	assert.Nil(t, got.DeliveredAt)
}

func TestAppendMessage_MetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	m := protocol.NewFromAgent(a.ID, protocol.MsgError, "boom")
	m.Metadata = map[string]string{"source": "stderr", "exit_code": "1"}
	require.NoError(t, s.AppendMessage(ctx, m))

	got, err := s.GetMessage(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "stderr", got.Metadata["source"])
	assert.Equal(t, "1", got.Metadata["exit_code"])
	require.NotNil(t, got.DeliveredAt)
}

func TestConversation_OrderIsStableForSameTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	// Same created_at for every message forces the ULID tie-break.
	at := time.Now().UTC()
	for i := 0; i < 10; i++ {
		m := protocol.NewToAgent(a.ID, protocol.MsgInstruction, fmt.Sprintf("step %d", i))
		m.CreatedAt = at
		require.NoError(t, s.AppendMessage(ctx, m))
	}

	thread, err := s.Conversation(ctx, a.ID, 50, nil)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 10)
	for i, m := range thread.Messages {
		assert.Equal(t, fmt.Sprintf("step %d", i), m.Content)
	}
	assert.False(t, thread.HasMore)
}

func TestConversation_PaginatesBackward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 7; i++ {
		m := protocol.NewToAgent(a.ID, protocol.MsgInstruction, fmt.Sprintf("msg %d", i))
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.AppendMessage(ctx, m))
	}

	// First page: the newest 3, oldest first within the page.
	page1, err := s.Conversation(ctx, a.ID, 3, nil)
	require.NoError(t, err)
	require.Len(t, page1.Messages, 3)
	assert.Equal(t, "msg 4", page1.Messages[0].Content)
	assert.Equal(t, "msg 6", page1.Messages[2].Content)
	assert.True(t, page1.HasMore)

	// Second page: strictly older than the first page's oldest.
	before := page1.Messages[0].CreatedAt
	page2, err := s.Conversation(ctx, a.ID, 3, &before)
	require.NoError(t, err)
	require.Len(t, page2.Messages, 3)
	assert.Equal(t, "msg 1", page2.Messages[0].Content)
	assert.Equal(t, "msg 3", page2.Messages[2].Content)
	assert.True(t, page2.HasMore)

	before = page2.Messages[0].CreatedAt
	page3, err := s.Conversation(ctx, a.ID, 3, &before)
	require.NoError(t, err)
	require.Len(t, page3.Messages, 1)
	assert.Equal(t, "msg 0", page3.Messages[0].Content)
	assert.False(t, page3.HasMore)
}

func TestConversation_IsolatedPerAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")
	b := seedAgent(t, s, "beta")

	require.NoError(t, s.AppendMessage(ctx, protocol.NewToAgent(a.ID, protocol.MsgInstruction, "for alpha")))
	require.NoError(t, s.AppendMessage(ctx, protocol.NewToAgent(b.ID, protocol.MsgInstruction, "for beta")))

	thread, err := s.Conversation(ctx, a.ID, 10, nil)
	require.NoError(t, err)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, "for alpha", thread.Messages[0].Content)
}

func TestPendingMessages_AndDelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	m1 := protocol.NewToAgent(a.ID, protocol.MsgInstruction, "first")
	m2 := protocol.NewToAgent(a.ID, protocol.MsgPause, "")
	require.NoError(t, s.AppendMessage(ctx, m1))
	require.NoError(t, s.AppendMessage(ctx, m2))
	// Inbound messages are born delivered and never pending.
	require.NoError(t, s.AppendMessage(ctx, protocol.NewFromAgent(a.ID, protocol.MsgOutput, "hi")))

	pending, err := s.PendingMessages(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].Content)

	require.NoError(t, s.MarkDelivered(ctx, m1.ID))

	pending, err = s.PendingMessages(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, protocol.MsgPause, pending[0].Kind)

	got, err := s.GetMessage(ctx, m1.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeliveredAt)

	require.NoError(t, s.MarkAcknowledged(ctx, m1.ID))
	got, err = s.GetMessage(ctx, m1.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AcknowledgedAt)
}

// --- Runs ---

func TestStartInstructionRun_ReusesInProgressRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	r1, err := s.StartInstructionRun(ctx, a.ID, "do the thing")
	require.NoError(t, err)

	r2, err := s.StartInstructionRun(ctx, a.ID, "and also this")
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID, "second instruction should join the open run")

	latest, err := s.LatestRun(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.RunInProgress, latest.Status)
	require.Len(t, latest.Outputs, 2)
	assert.Equal(t, "instruction", latest.Outputs[0].Kind)
	assert.Equal(t, "do the thing", latest.Outputs[0].Content)
	assert.Equal(t, "and also this", latest.Outputs[1].Content)
}

func TestFinalizeLatestRun_ThenNewRunOpens(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	r1, err := s.StartInstructionRun(ctx, a.ID, "first task")
	require.NoError(t, err)

	require.NoError(t, s.FinalizeLatestRun(ctx, a.ID, protocol.RunCompleted, "done"))

	latest, err := s.LatestRun(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, protocol.RunCompleted, latest.Status)
	assert.Equal(t, "done", latest.Summary)
	require.NotNil(t, latest.EndedAt)

	r2, err := s.StartInstructionRun(ctx, a.ID, "second task")
	require.NoError(t, err)
	assert.NotEqual(t, r1.ID, r2.ID, "a closed run must not be reopened")
}

func TestFinalizeLatestRun_NoOpenRun(t *testing.T) {
	s := newTestStore(t)
	a := seedAgent(t, s, "alpha")

	// Unsolicited completion with no run in flight is silently ignored.
	err := s.FinalizeLatestRun(context.Background(), a.ID, protocol.RunCompleted, "")
	assert.NoError(t, err)
}

func TestRecordFileChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	// No run in progress: observation is dropped without error.
	require.NoError(t, s.RecordFileChange(ctx, a.ID, protocol.FileChange{
		Path: "/tmp/ignored.txt", ChangeType: protocol.FileModified,
	}))

	_, err := s.StartInstructionRun(ctx, a.ID, "edit files")
	require.NoError(t, err)

	require.NoError(t, s.RecordFileChange(ctx, a.ID, protocol.FileChange{
		Path: "/tmp/work/report.md", ChangeType: protocol.FileCreated,
	}))

	latest, err := s.LatestRun(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, latest.FileChanges, 1)
	assert.Equal(t, "/tmp/work/report.md", latest.FileChanges[0].Path)
	assert.Equal(t, protocol.FileCreated, latest.FileChanges[0].ChangeType)
}

func TestRunsForAgent_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	for i := 0; i < 3; i++ {
		_, err := s.StartInstructionRun(ctx, a.ID, fmt.Sprintf("task %d", i))
		require.NoError(t, err)
		require.NoError(t, s.FinalizeLatestRun(ctx, a.ID, protocol.RunCompleted, ""))
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := s.RunsForAgent(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "task 2", runs[0].Outputs[0].Content)
	assert.Equal(t, "task 0", runs[2].Outputs[0].Content)
}

// --- Events ---

func TestEvents_FilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAgent(t, s, "alpha")

	require.NoError(t, s.LogEvent(ctx, "adapter_started", "runtime", a.ID, ""))
	require.NoError(t, s.LogEvent(ctx, "health_degraded", "supervisor", a.ID, `{"failures":3}`))
	require.NoError(t, s.LogEvent(ctx, "startup", "cli", "", ""))

	events, err := s.Events(ctx, a.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "health_degraded", events[0].Type, "newest first")
	assert.Equal(t, "adapter_started", events[1].Type)

	all, err := s.Events(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
