package protocol

import "fmt"

// ConfigError represents an invalid or incomplete adapter configuration:
// a process adapter with no command, a terminal session with no session
// name. It is surfaced immediately to the caller and never retried.
type ConfigError struct {
	AgentID string
	Field   string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("adapter config for agent %s: %s: %s", e.AgentID, e.Field, e.Reason)
}

// WorkerFailureError represents a transient worker fault: a crashed process,
// an unreachable session. Retried automatically per restart policy up to the
// failure-streak threshold, then escalated to the suspended state.
type WorkerFailureError struct {
	AgentID string
	Reason  string
}

func (e *WorkerFailureError) Error() string {
	return fmt.Sprintf("worker for agent %s failed: %s", e.AgentID, e.Reason)
}

// StoreError wraps a persistence failure. Fatal to the operation in
// progress; callers must not assume a retried append is idempotent unless
// they supplied the message id themselves.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
