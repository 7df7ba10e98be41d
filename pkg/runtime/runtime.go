// Package runtime binds workstreams to live adapters. It owns the registry
// of supervision units, one per agent: operations on the same workstream
// are serialized behind a per-unit lock, operations on different
// workstreams run fully in parallel, and the only shared state is the
// store, whose (created_at, id) ordering holds under concurrent appends.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sidmohan0/kanbun/pkg/adapter"
	"github.com/sidmohan0/kanbun/pkg/protocol"
	"github.com/sidmohan0/kanbun/pkg/store"
	"github.com/sidmohan0/kanbun/pkg/supervisor"
)

// AdapterFactory builds an adapter for a workstream. Production uses
// adapter.New; tests inject fakes.
type AdapterFactory func(agentID string, cfg protocol.AdapterConfig, sink adapter.Sink, opts adapter.Options) adapter.Adapter

// Runtime is the workstream runtime: exactly one live adapter per agent id.
type Runtime struct {
	store     *store.Store
	factory   AdapterFactory
	opts      adapter.Options
	threshold int

	mu    sync.Mutex
	units map[string]*unit
}

// unit is one workstream's supervision unit. Its lock serializes all
// operations for that agent so a restart never races an in-flight send.
type unit struct {
	mu  sync.Mutex
	cfg protocol.AdapterConfig
	sup *supervisor.Supervisor
}

// Options configures a Runtime. Zero values select production defaults.
type Options struct {
	Factory          AdapterFactory  // defaults to adapter.New
	Adapter          adapter.Options // shared collaborators (clock, runner)
	FailureThreshold int             // defaults to supervisor.DefaultFailureThreshold
}

// New creates a runtime on top of a store.
func New(st *store.Store, opts Options) *Runtime {
	if opts.Factory == nil {
		opts.Factory = adapter.New
	}
	return &Runtime{
		store:     st,
		factory:   opts.Factory,
		opts:      opts.Adapter,
		threshold: opts.FailureThreshold,
		units:     make(map[string]*unit),
	}
}

// Configure binds a new adapter config to a workstream. Any live adapter
// for that agent is stopped before the swap; the new adapter is not
// auto-started, the next instruction or an explicit restart brings it up.
func (r *Runtime) Configure(ctx context.Context, agentID string, cfg protocol.AdapterConfig) error {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	if err := validateConfig(agentID, cfg); err != nil {
		return err
	}

	u := r.unitFor(agentID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.sup != nil {
		if err := u.sup.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: stop previous adapter for %s: %v\n", agentID, err)
		}
	}
	if err := r.store.SetAdapterConfig(ctx, agentID, cfg); err != nil {
		return err
	}
	u.cfg = cfg
	u.sup = r.buildSupervisor(agentID, agent.WorkingDirectory, cfg)

	_ = r.store.LogEvent(ctx, "adapter_configured", "runtime", agentID, string(cfg.AdapterType))
	return nil
}

// Send appends a to_agent message and forwards it to the worker. The
// append happens first: a store failure aborts before the worker sees
// anything, and a worker failure still leaves the message durably
// recorded. Instructions require a configured adapter and start it
// implicitly; other kinds are forwarded best-effort as out-of-band
// signals.
func (r *Runtime) Send(ctx context.Context, agentID string, kind protocol.MessageKind, content, replyTo string) (*protocol.Message, error) {
	if _, err := r.store.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}

	msg := protocol.NewToAgent(agentID, kind, content)
	msg.ReplyTo = replyTo
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	u, err := r.loadUnit(ctx, agentID)
	if err != nil {
		if kind == protocol.MsgInstruction {
			return nil, err
		}
		// Control signals without an adapter are recorded but go nowhere.
		return msg, nil
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if kind == protocol.MsgInstruction {
		// The run opens before delivery: a fast worker replies
		// synchronously through the sink, and the sink aggregates output
		// onto whatever run is in progress at that moment.
		if _, err := r.store.StartInstructionRun(ctx, agentID, content); err != nil {
			fmt.Fprintf(os.Stderr, "warning: record run for %s: %v\n", agentID, err)
		}
		if err := u.sup.Adapter().SendInstruction(ctx, msg); err != nil {
			_ = r.store.LogEvent(ctx, "instruction_failed", "runtime", agentID, err.Error())
			_ = r.store.FinalizeLatestRun(ctx, agentID, protocol.RunFailed, "instruction delivery failed")
			return nil, err
		}
		u.sup.NoteInstructionSuccess()
		_ = r.store.MarkDelivered(ctx, msg.ID)
		_ = r.store.UpdateAgentStatus(ctx, agentID, protocol.AgentRunning)
		return msg, nil
	}

	if err := u.sup.Adapter().Deliver(ctx, msg); err != nil {
		_ = r.store.LogEvent(ctx, "control_undelivered", "runtime", agentID, fmt.Sprintf("%s: %v", kind, err))
	} else {
		_ = r.store.MarkDelivered(ctx, msg.ID)
	}
	if kind == protocol.MsgCancel {
		_ = r.store.FinalizeLatestRun(ctx, agentID, protocol.RunFailed, "cancelled")
		_ = r.store.UpdateAgentStatus(ctx, agentID, protocol.AgentIdle)
	}
	return msg, nil
}

// Health polls the workstream's worker and returns a fresh snapshot, or
// nil when no adapter was ever configured.
func (r *Runtime) Health(ctx context.Context, agentID string) (*protocol.Health, error) {
	u, err := r.loadUnit(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	h := u.sup.Poll(ctx)
	return &h, nil
}

// Restart recycles the workstream's worker, clearing suppression and the
// failure streak. Returns nil when no adapter was ever configured.
func (r *Runtime) Restart(ctx context.Context, agentID string) (*protocol.Health, error) {
	u, err := r.loadUnit(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	h, err := u.sup.Restart(ctx)
	if err != nil {
		_ = r.store.LogEvent(ctx, "restart_failed", "runtime", agentID, err.Error())
		return &h, err
	}
	_ = r.store.LogEvent(ctx, "adapter_restarted", "runtime", agentID, "")
	return &h, nil
}

// Stop tears the workstream's worker down and marks the agent idle.
func (r *Runtime) Stop(ctx context.Context, agentID string) error {
	u, err := r.loadUnit(ctx, agentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.sup.Stop(); err != nil {
		return err
	}
	_ = r.store.UpdateAgentStatus(ctx, agentID, protocol.AgentIdle)
	_ = r.store.LogEvent(ctx, "adapter_stopped", "runtime", agentID, "")
	return nil
}

// Conversation returns one page of the workstream's message log.
func (r *Runtime) Conversation(ctx context.Context, agentID string, limit int, before *protocol.Message) (*protocol.ConversationThread, error) {
	if before != nil {
		return r.store.Conversation(ctx, agentID, limit, &before.CreatedAt)
	}
	return r.store.Conversation(ctx, agentID, limit, nil)
}

// Shutdown stops every live adapter. Called on process exit.
func (r *Runtime) Shutdown() {
	r.mu.Lock()
	units := make([]*unit, 0, len(r.units))
	for _, u := range r.units {
		units = append(units, u)
	}
	r.mu.Unlock()

	for _, u := range units {
		u.mu.Lock()
		if u.sup != nil {
			_ = u.sup.Stop()
		}
		u.mu.Unlock()
	}
}

// unitFor returns the registry slot for an agent, creating an empty one.
func (r *Runtime) unitFor(agentID string) *unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.units[agentID]
	if !ok {
		u = &unit{}
		r.units[agentID] = u
	}
	return u
}

// loadUnit returns the agent's supervision unit, materializing it from the
// persisted adapter config when this process has not touched the agent
// yet. Returns store.ErrNotFound when the agent was never configured.
func (r *Runtime) loadUnit(ctx context.Context, agentID string) (*unit, error) {
	u := r.unitFor(agentID)

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.sup != nil {
		return u, nil
	}

	cfg, err := r.store.GetAdapterConfig(ctx, agentID)
	if err != nil {
		return nil, err
	}
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	u.cfg = *cfg
	u.sup = r.buildSupervisor(agentID, agent.WorkingDirectory, *cfg)
	return u, nil
}

func (r *Runtime) buildSupervisor(agentID, workingDir string, cfg protocol.AdapterConfig) *supervisor.Supervisor {
	opts := r.opts
	opts.WorkingDir = workingDir
	a := r.factory(agentID, cfg, r.sink(agentID), opts)
	return supervisor.New(agentID, a, cfg.EffectiveRestartPolicy(), r.threshold)
}

// sink returns the inbound-message callback for one agent's adapter. It
// runs on adapter goroutines, so it must never take unit locks: it only
// touches the store.
func (r *Runtime) sink(agentID string) adapter.Sink {
	return func(msg *protocol.Message) {
		ctx := context.Background()

		// Empty heartbeats carry no information worth a durable row.
		if msg.Kind == protocol.MsgHeartbeat && msg.Content == "" {
			return
		}

		if err := r.store.AppendMessage(ctx, msg); err != nil {
			// Worker output must not vanish silently on a store failure.
			fmt.Fprintf(os.Stderr, "error: record message from %s: %v (content: %.120s)\n", agentID, err, msg.Content)
			_ = r.store.LogEvent(ctx, "message_lost", "runtime", agentID, err.Error())
			return
		}

		switch msg.Kind {
		case protocol.MsgOutput, protocol.MsgError:
			if run, err := r.store.LatestRun(ctx, agentID); err == nil && run.Status == protocol.RunInProgress {
				_ = r.store.AppendRunOutput(ctx, run.ID, protocol.RunOutput{
					Kind:      string(msg.Kind),
					Content:   msg.Content,
					Timestamp: msg.CreatedAt,
				})
			}
		case protocol.MsgStatusUpdate:
			if status, ok := parseAgentStatus(msg.Content); ok {
				_ = r.store.UpdateAgentStatus(ctx, agentID, status)
			}
		case protocol.MsgCompleted:
			_ = r.store.FinalizeLatestRun(ctx, agentID, protocol.RunCompleted, msg.Content)
			_ = r.store.UpdateAgentStatus(ctx, agentID, protocol.AgentCompleted)
		case protocol.MsgBlocked:
			_ = r.store.UpdateAgentStatus(ctx, agentID, protocol.AgentBlocked)
		}
	}
}

func parseAgentStatus(s string) (protocol.AgentStatus, bool) {
	switch status := protocol.AgentStatus(s); status {
	case protocol.AgentIdle, protocol.AgentRunning, protocol.AgentBlocked,
		protocol.AgentErrored, protocol.AgentCompleted:
		return status, true
	default:
		return "", false
	}
}

// validateConfig rejects configs that can never start, so misconfiguration
// surfaces at configure time instead of on the first send.
func validateConfig(agentID string, cfg protocol.AdapterConfig) error {
	switch cfg.AdapterType {
	case protocol.AdapterProcess:
		if cfg.Command == "" {
			return &protocol.ConfigError{AgentID: agentID, Field: "command", Reason: "process adapter requires a command"}
		}
	case protocol.AdapterTerminalSession:
		if cfg.SessionName == "" {
			return &protocol.ConfigError{AgentID: agentID, Field: "session_name", Reason: "terminal session adapter requires a session name"}
		}
	case protocol.AdapterMock, protocol.AdapterCodex, protocol.AdapterHTTPWebhook:
		// No required fields.
	default:
		// Unknown types fall back to mock at build time; allow them.
	}
	return nil
}
