package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// StartInstructionRun ensures an in_progress run exists for the agent and
// appends the instruction text as its first (or next) output. A new run is
// opened only when no run is currently in progress, so a burst of
// instructions lands in one span of activity.
func (s *Store) StartInstructionRun(ctx context.Context, agentID, instruction string) (*protocol.Run, error) {
	run, err := s.latestRunLocked(ctx, agentID, true)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if run == nil {
		run = &protocol.Run{
			ID:        uuid.NewString(),
			AgentID:   agentID,
			Status:    protocol.RunInProgress,
			StartedAt: time.Now().UTC(),
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO runs (id, agent_id, status, started_at, outputs, file_changes) VALUES (?, ?, ?, ?, '[]', '[]')`,
			run.ID, run.AgentID, string(run.Status), formatTime(run.StartedAt),
		); err != nil {
			return nil, storeErr("create run", err)
		}
	}

	if err := s.AppendRunOutput(ctx, run.ID, protocol.RunOutput{
		Kind:      "instruction",
		Content:   instruction,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return nil, err
	}
	return run, nil
}

// AppendRunOutput adds one timestamped output entry to a run.
func (s *Store) AppendRunOutput(ctx context.Context, runID string, out protocol.RunOutput) error {
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	return s.appendRunJSON(ctx, runID, "outputs", out)
}

// RecordFileChange attaches one file-system observation to the agent's
// active run. A no-op when no run is in progress: observations outside a
// run are not tracked.
func (s *Store) RecordFileChange(ctx context.Context, agentID string, fc protocol.FileChange) error {
	run, err := s.latestRunLocked(ctx, agentID, true)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if fc.Timestamp.IsZero() {
		fc.Timestamp = time.Now().UTC()
	}
	return s.appendRunJSON(ctx, run.ID, "file_changes", fc)
}

// appendRunJSON appends one element to a run's JSON array column. SQLite's
// json_insert with the '$[#]' path appends atomically inside the UPDATE, so
// no read-modify-write race exists even across processes.
func (s *Store) appendRunJSON(ctx context.Context, runID, column string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return storeErr("marshal run entry", err)
	}
	query := fmt.Sprintf(`UPDATE runs SET %s = json_insert(%s, '$[#]', json(?)) WHERE id = ?`, column, column)
	res, err := s.db.ExecContext(ctx, query, string(b), runID)
	if err != nil {
		return storeErr("append run entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// FinalizeLatestRun closes the agent's in-progress run with a terminal
// status and optional summary. A no-op when no run is in progress, so
// unsolicited completion reports from a worker never fail hard.
func (s *Store) FinalizeLatestRun(ctx context.Context, agentID string, status protocol.RunStatus, summary string) error {
	run, err := s.latestRunLocked(ctx, agentID, true)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, summary = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), nullString(summary), run.ID,
	)
	if err != nil {
		return storeErr("finalize run", err)
	}
	return nil
}

// LatestRun returns the agent's most recently started run, in-progress or
// not. Returns ErrNotFound when the agent has no runs.
func (s *Store) LatestRun(ctx context.Context, agentID string) (*protocol.Run, error) {
	return s.latestRunLocked(ctx, agentID, false)
}

// RunsForAgent returns up to limit of the agent's runs, newest first.
func (s *Store) RunsForAgent(ctx context.Context, agentID string, limit int) ([]protocol.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, status, started_at, ended_at, summary, outputs, file_changes
		 FROM runs WHERE agent_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		agentID, limit,
	)
	if err != nil {
		return nil, storeErr("query runs", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []protocol.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *Store) latestRunLocked(ctx context.Context, agentID string, inProgressOnly bool) (*protocol.Run, error) {
	query := `SELECT id, agent_id, status, started_at, ended_at, summary, outputs, file_changes
	          FROM runs WHERE agent_id = ?`
	args := []any{agentID}
	if inProgressOnly {
		query += " AND status = ?"
		args = append(args, string(protocol.RunInProgress))
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT 1"

	r, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run for agent %s: %w", agentID, ErrNotFound)
		}
		return nil, err
	}
	return r, nil
}

func scanRun(row rowScanner) (*protocol.Run, error) {
	var (
		r           protocol.Run
		status      string
		startedAt   string
		endedAt     sql.NullString
		summary     sql.NullString
		outputs     string
		fileChanges string
	)
	if err := row.Scan(&r.ID, &r.AgentID, &status, &startedAt, &endedAt, &summary, &outputs, &fileChanges); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storeErr("scan run", err)
	}
	r.Status = protocol.RunStatus(status)
	t, err := parseTime(startedAt)
	if err != nil {
		return nil, storeErr("parse run timestamp", err)
	}
	r.StartedAt = t
	r.EndedAt = parseTimePtr(endedAt)
	r.Summary = summary.String
	if err := json.Unmarshal([]byte(outputs), &r.Outputs); err != nil {
		return nil, storeErr("unmarshal run outputs", err)
	}
	if err := json.Unmarshal([]byte(fileChanges), &r.FileChanges); err != nil {
		return nil, storeErr("unmarshal run file changes", err)
	}
	return &r, nil
}
