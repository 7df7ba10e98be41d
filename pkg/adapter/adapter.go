// Package adapter contains the worker adapters: thin translation layers
// between the typed message bus and each worker's native interface. An
// adapter owns exactly one worker for one workstream. Everything above it
// speaks protocol messages; everything below it is child processes, tmux
// panes, or (eventually) webhooks.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// Sink receives inbound messages an adapter produces on behalf of its
// worker. Implementations must be safe for concurrent use: process adapters
// call it from capture goroutines.
type Sink func(msg *protocol.Message)

// Adapter drives one workstream's worker. Implementations are not safe for
// concurrent use; the runtime serializes calls per workstream.
type Adapter interface {
	// Start makes the worker reachable: spawn the process, create or
	// attach the tmux session. Idempotent when already running.
	Start(ctx context.Context) error

	// SendInstruction delivers an instruction message to the worker.
	SendInstruction(ctx context.Context, msg *protocol.Message) error

	// Deliver hands a non-instruction control message to the worker.
	Deliver(ctx context.Context, msg *protocol.Message) error

	// PollHealth returns a fresh snapshot of the worker's state. It may
	// emit inbound messages as a side effect (pane capture diffs).
	PollHealth(ctx context.Context) protocol.Health

	// Restart tears the worker down and brings it back up.
	Restart(ctx context.Context) error

	// Stop shuts the worker down. Idempotent.
	Stop() error
}

// ExitReporter is implemented by adapters whose worker can exit on its own
// (child processes). The supervisor consults it to apply restart policy.
type ExitReporter interface {
	// Exited reports whether the worker exited since the last Start, and
	// the wait error if the exit was a failure (nil for a clean exit).
	Exited() (exited bool, exitErr error)
}

// CommandRunner abstracts external command execution (tmux) for
// testability. Production uses os/exec; tests provide a fake.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecCommandRunner implements CommandRunner using os/exec.
type ExecCommandRunner struct{}

// Run executes a command and returns its stdout as bytes.
func (r *ExecCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, exitErr.Stderr)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// Options carries injectable collaborators for adapter construction.
// Zero-value fields get production defaults.
type Options struct {
	Runner     CommandRunner    // tmux execution; defaults to ExecCommandRunner
	Now        func() time.Time // clock; defaults to time.Now
	WorkingDir string           // workstream working directory; empty inherits
}

func (o Options) withDefaults() Options {
	if o.Runner == nil {
		o.Runner = &ExecCommandRunner{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// codexCommand is the default worker command for the codex adapter type,
// which is a process adapter with a preset command line.
const codexCommand = "codex"

// New builds the adapter for a workstream's configuration. An unknown
// adapter type falls back to a mock adapter with a warning rather than
// failing, so a stale config never strands a workstream.
func New(agentID string, cfg protocol.AdapterConfig, sink Sink, opts Options) Adapter {
	opts = opts.withDefaults()

	switch cfg.AdapterType {
	case protocol.AdapterMock:
		return NewMock(agentID, sink, opts.Now)
	case protocol.AdapterProcess:
		return NewProcess(agentID, cfg, opts.WorkingDir, sink)
	case protocol.AdapterCodex:
		if strings.TrimSpace(cfg.Command) == "" {
			cfg.Command = codexCommand
		}
		return NewProcess(agentID, cfg, opts.WorkingDir, sink)
	case protocol.AdapterTerminalSession:
		return NewTerminalSession(agentID, cfg, sink, opts.Runner)
	case protocol.AdapterHTTPWebhook:
		return NewWebhook(agentID, cfg)
	default:
		fmt.Fprintf(os.Stderr, "warning: unknown adapter type %q for agent %s; using mock\n", cfg.AdapterType, agentID)
		return NewMock(agentID, sink, opts.Now)
	}
}
