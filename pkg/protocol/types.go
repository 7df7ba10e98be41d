// Package protocol defines the Kanbun message bus contract: the typed
// messages exchanged with external workers, the workstream (agent) records
// they attach to, and the adapter configuration that tells the supervision
// layer how to reach each worker. Workers never talk to Kanbun directly;
// they speak this protocol through thin adapters, so when a worker's native
// interface changes only the adapter changes.
package protocol

import (
	"strings"
	"time"
)

// AgentStatus represents the lifecycle state of a workstream.
type AgentStatus string

// Agent status constants.
const (
	AgentIdle      AgentStatus = "idle"
	AgentRunning   AgentStatus = "running"
	AgentBlocked   AgentStatus = "blocked"
	AgentErrored   AgentStatus = "errored"
	AgentCompleted AgentStatus = "completed"
)

// AgentKind classifies how a workstream's worker is driven.
type AgentKind string

// Agent kind constants.
const (
	KindTerminal AgentKind = "terminal" // CLI agents living in tmux sessions
	KindAPI      AgentKind = "api"      // network agents that POST status
	KindScript   AgentKind = "script"   // spawned child processes
)

// AutonomyLevel controls how much review a workstream's output requires.
type AutonomyLevel string

// Autonomy level constants.
const (
	AutonomyManual     AutonomyLevel = "manual"
	AutonomyDraftOnly  AutonomyLevel = "draft_only"
	AutonomySupervised AutonomyLevel = "supervised"
	AutonomyAutonomous AutonomyLevel = "autonomous"
)

// AgentConfig holds per-workstream behavioral settings. It is owned by the
// collaborator layer; the core only reads WatchPaths and NotifyOn.
type AgentConfig struct {
	AutonomyLevel AutonomyLevel `json:"autonomy_level"`
	WatchPaths    []string      `json:"watch_paths"`
	Schedule      string        `json:"schedule,omitempty"` // cron expression if scheduled
	NotifyOn      []AgentStatus `json:"notify_on"`
}

// Agent represents one workstream: a named, long-lived unit of work backed
// by exactly one external worker.
type Agent struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	ProjectID        string      `json:"project_id"`
	Kind             AgentKind   `json:"kind"`
	FunctionTag      string      `json:"function_tag"` // "marketing", "sdk", "engineering", ...
	Status           AgentStatus `json:"status"`
	WorkingDirectory string      `json:"working_directory,omitempty"`
	Config           AgentConfig `json:"config"`
	LastActiveAt     *time.Time  `json:"last_active_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
}

// MessageDirection indicates which way a message travels on the bus.
type MessageDirection string

// Message direction constants.
const (
	ToAgent   MessageDirection = "to_agent"   // kanbun -> worker (instructions, control)
	FromAgent MessageDirection = "from_agent" // worker -> kanbun (output, status)
)

// MessageKind classifies a message on the bus.
type MessageKind string

// Message kind constants. The first five are ToAgent kinds, the rest FromAgent.
const (
	MsgInstruction   MessageKind = "instruction"
	MsgPause         MessageKind = "pause"
	MsgResume        MessageKind = "resume"
	MsgCancel        MessageKind = "cancel"
	MsgStatusRequest MessageKind = "status_request"

	MsgStatusUpdate MessageKind = "status_update"
	MsgOutput       MessageKind = "output"
	MsgError        MessageKind = "error"
	MsgBlocked      MessageKind = "blocked"
	MsgCompleted    MessageKind = "completed"
	MsgHeartbeat    MessageKind = "heartbeat"
)

// Message is one unit of communication in either direction. Messages are
// immutable once stored; the conversation is an append-only log totally
// ordered by (created_at, id). IDs are ULIDs, so the id tie-break is itself
// chronological for same-millisecond inserts.
type Message struct {
	ID             string            `json:"id"`
	AgentID        string            `json:"agent_id"`
	Direction      MessageDirection  `json:"direction"`
	Kind           MessageKind       `json:"kind"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"` // adapter-specific data (exit codes, sources)
	ReplyTo        string            `json:"reply_to,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	DeliveredAt    *time.Time        `json:"delivered_at,omitempty"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
}

// NewToAgent builds an outbound message. The store assigns ID and CreatedAt
// on append if they are unset.
func NewToAgent(agentID string, kind MessageKind, content string) *Message {
	return &Message{
		AgentID:   agentID,
		Direction: ToAgent,
		Kind:      kind,
		Content:   content,
	}
}

// NewFromAgent builds an inbound message, marked delivered at creation since
// it originates on the worker side.
func NewFromAgent(agentID string, kind MessageKind, content string) *Message {
	now := time.Now().UTC()
	return &Message{
		AgentID:     agentID,
		Direction:   FromAgent,
		Kind:        kind,
		Content:     content,
		CreatedAt:   now,
		DeliveredAt: &now,
	}
}

// ConversationThread is a page of an agent's message log, oldest first.
type ConversationThread struct {
	AgentID  string    `json:"agent_id"`
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// AdapterType selects the adapter variant bound to a workstream.
type AdapterType string

// Adapter type constants. HTTPWebhook is reserved: config-only until the
// network transport lands. Codex maps to a process adapter with a default
// command.
const (
	AdapterMock            AdapterType = "mock"
	AdapterProcess         AdapterType = "process"
	AdapterTerminalSession AdapterType = "terminal_session"
	AdapterHTTPWebhook     AdapterType = "http_webhook"
	AdapterCodex           AdapterType = "codex"
)

// RestartPolicy governs automatic restarts of process-backed workers.
type RestartPolicy string

// Restart policy constants.
const (
	RestartNever     RestartPolicy = "never"
	RestartOnFailure RestartPolicy = "on_failure"
	RestartAlways    RestartPolicy = "always"
)

// ReservedEnvPrefix marks env keys that carry adapter control data rather
// than worker environment variables. Reserved keys are always stripped from
// the spawned environment.
const ReservedEnvPrefix = "__kanbun_"

// RestartPolicyEnvKey is the legacy env-map key older collaborators used to
// smuggle the restart policy before it became a typed field. It is parsed
// only as a fallback when the typed field is empty.
const RestartPolicyEnvKey = ReservedEnvPrefix + "restart_policy"

// AdapterConfig tells the supervision layer how to reach one workstream's
// worker. Exactly one config exists per agent at a time; the latest write
// wins. A reconfigure while the adapter is live stops the old worker first.
type AdapterConfig struct {
	AdapterType   AdapterType       `json:"adapter_type"`
	SessionName   string            `json:"session_name,omitempty"` // tmux session identity
	Endpoint      string            `json:"endpoint,omitempty"`     // reserved for network adapters
	Command       string            `json:"command,omitempty"`      // process command, or cwd hint for sessions
	Env           map[string]string `json:"env,omitempty"`
	RestartPolicy RestartPolicy     `json:"restart_policy,omitempty"`
}

// EffectiveRestartPolicy resolves the typed field, falling back to the
// legacy env key, then to on_failure.
func (c AdapterConfig) EffectiveRestartPolicy() RestartPolicy {
	if c.RestartPolicy != "" {
		return c.RestartPolicy
	}
	switch RestartPolicy(strings.ToLower(strings.TrimSpace(c.Env[RestartPolicyEnvKey]))) {
	case RestartNever:
		return RestartNever
	case RestartAlways:
		return RestartAlways
	default:
		return RestartOnFailure
	}
}

// WorkerEnv returns the env map with all reserved control keys stripped,
// suitable for handing to the spawned worker.
func (c AdapterConfig) WorkerEnv() map[string]string {
	if len(c.Env) == 0 {
		return nil
	}
	out := make(map[string]string, len(c.Env))
	for k, v := range c.Env {
		if strings.TrimSpace(k) == "" || strings.HasPrefix(k, ReservedEnvPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// Health is the current-state snapshot for one workstream's worker. It is
// recomputed on every poll and never persisted.
type Health struct {
	Connected           bool       `json:"connected"`
	SessionActive       bool       `json:"session_active"`
	LastHeartbeat       *time.Time `json:"last_heartbeat,omitempty"`
	Details             string     `json:"details,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	RetryAfterSeconds   int        `json:"retry_after_seconds,omitempty"` // present only while backing off
	SuppressAutoRestart bool       `json:"suppress_auto_restart"`
}
