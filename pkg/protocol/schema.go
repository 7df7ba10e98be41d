package protocol

// SchemaDDL defines the SQLite schema for the Kanbun runtime database.
// Tables: agents, messages, adapter_configs, runs, events.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Workstream records. Created by the collaborator layer; status mutated by
-- the runtime in reaction to adapter and health events. Never deleted here.
CREATE TABLE IF NOT EXISTS agents (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    project_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    function_tag TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'idle',
    working_directory TEXT,
    config TEXT NOT NULL DEFAULT '{}',
    last_active_at TEXT,
    created_at TEXT NOT NULL
);

-- The message bus: append-only, one row per unit of communication in either
-- direction. Total ordering key is (created_at, id).
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL REFERENCES agents(id),
    direction TEXT NOT NULL,
    kind TEXT NOT NULL,
    content TEXT NOT NULL,
    metadata TEXT,
    reply_to TEXT,
    created_at TEXT NOT NULL,
    delivered_at TEXT,
    acknowledged_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_agent_order
    ON messages(agent_id, created_at, id);
CREATE INDEX IF NOT EXISTS idx_messages_pending
    ON messages(agent_id, direction, delivered_at) WHERE delivered_at IS NULL;

-- One adapter config per workstream; latest write wins.
CREATE TABLE IF NOT EXISTS adapter_configs (
    agent_id TEXT PRIMARY KEY REFERENCES agents(id),
    adapter_type TEXT NOT NULL,
    session_name TEXT,
    endpoint TEXT,
    command TEXT,
    env TEXT,
    restart_policy TEXT
);

-- Supervisory runs: spans of agent activity with aggregated outputs and
-- file observations, serialized as JSON arrays.
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    agent_id TEXT NOT NULL REFERENCES agents(id),
    status TEXT NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    summary TEXT,
    outputs TEXT NOT NULL DEFAULT '[]',
    file_changes TEXT NOT NULL DEFAULT '[]'
);

CREATE INDEX IF NOT EXISTS idx_runs_agent ON runs(agent_id, started_at DESC);

-- Runtime event log: supervision lifecycle events for diagnostics.
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    agent_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id, id);
`
