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

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// CreateAgent inserts a new workstream record. ID and CreatedAt are
// assigned if unset; status defaults to idle.
func (s *Store) CreateAgent(ctx context.Context, a *protocol.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = protocol.AgentIdle
	}

	config, err := json.Marshal(a.Config)
	if err != nil {
		return storeErr("marshal agent config", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agents (id, name, project_id, kind, function_tag, status, working_directory, config, last_active_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.ProjectID, string(a.Kind), a.FunctionTag, string(a.Status),
		nullString(a.WorkingDirectory), string(config),
		formatTimePtr(a.LastActiveAt), formatTime(a.CreatedAt),
	)
	if err != nil {
		return storeErr("create agent", err)
	}
	return nil
}

// GetAgent fetches one workstream by id. Returns ErrNotFound when absent.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*protocol.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, project_id, kind, function_tag, status, working_directory, config, last_active_at, created_at
		 FROM agents WHERE id = ?`, agentID,
	)
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
		}
		return nil, err
	}
	return a, nil
}

// ListAgents returns all workstreams ordered by creation time.
func (s *Store) ListAgents(ctx context.Context) ([]protocol.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, project_id, kind, function_tag, status, working_directory, config, last_active_at, created_at
		 FROM agents ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, storeErr("list agents", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []protocol.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// UpdateAgentStatus sets a workstream's status and bumps last_active_at.
func (s *Store) UpdateAgentStatus(ctx context.Context, agentID string, status protocol.AgentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET status = ?, last_active_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), agentID,
	)
	if err != nil {
		return storeErr("update agent status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

func scanAgent(row rowScanner) (*protocol.Agent, error) {
	var (
		a          protocol.Agent
		kind       string
		status     string
		workingDir sql.NullString
		config     string
		lastActive sql.NullString
		createdAt  string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.ProjectID, &kind, &a.FunctionTag, &status, &workingDir, &config, &lastActive, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, storeErr("scan agent", err)
	}
	a.Kind = protocol.AgentKind(kind)
	a.Status = protocol.AgentStatus(status)
	a.WorkingDirectory = workingDir.String
	if config != "" {
		if err := json.Unmarshal([]byte(config), &a.Config); err != nil {
			return nil, storeErr("unmarshal agent config", err)
		}
	}
	a.LastActiveAt = parseTimePtr(lastActive)
	t, err := parseTime(createdAt)
	if err != nil {
		return nil, storeErr("parse agent timestamp", err)
	}
	a.CreatedAt = t
	return &a, nil
}

// SetAdapterConfig binds (or replaces) the adapter configuration for a
// workstream. The previous config, if any, is overwritten in place.
func (s *Store) SetAdapterConfig(ctx context.Context, agentID string, cfg protocol.AdapterConfig) error {
	var env any
	if len(cfg.Env) > 0 {
		b, err := json.Marshal(cfg.Env)
		if err != nil {
			return storeErr("marshal adapter env", err)
		}
		env = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO adapter_configs (agent_id, adapter_type, session_name, endpoint, command, env, restart_policy)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
		   adapter_type = excluded.adapter_type,
		   session_name = excluded.session_name,
		   endpoint = excluded.endpoint,
		   command = excluded.command,
		   env = excluded.env,
		   restart_policy = excluded.restart_policy`,
		agentID, string(cfg.AdapterType), nullString(cfg.SessionName),
		nullString(cfg.Endpoint), nullString(cfg.Command), env,
		nullString(string(cfg.RestartPolicy)),
	)
	if err != nil {
		return storeErr("set adapter config", err)
	}
	return nil
}

// GetAdapterConfig fetches the adapter configuration bound to a workstream.
// Returns ErrNotFound when the agent was never configured.
func (s *Store) GetAdapterConfig(ctx context.Context, agentID string) (*protocol.AdapterConfig, error) {
	var (
		cfg         protocol.AdapterConfig
		adapterType string
		sessionName sql.NullString
		endpoint    sql.NullString
		command     sql.NullString
		env         sql.NullString
		policy      sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT adapter_type, session_name, endpoint, command, env, restart_policy
		 FROM adapter_configs WHERE agent_id = ?`, agentID,
	).Scan(&adapterType, &sessionName, &endpoint, &command, &env, &policy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("adapter config for %s: %w", agentID, ErrNotFound)
	}
	if err != nil {
		return nil, storeErr("get adapter config", err)
	}
	cfg.AdapterType = protocol.AdapterType(adapterType)
	cfg.SessionName = sessionName.String
	cfg.Endpoint = endpoint.String
	cfg.Command = command.String
	cfg.RestartPolicy = protocol.RestartPolicy(policy.String)
	if env.Valid && env.String != "" {
		if err := json.Unmarshal([]byte(env.String), &cfg.Env); err != nil {
			return nil, storeErr("unmarshal adapter env", err)
		}
	}
	return &cfg, nil
}
