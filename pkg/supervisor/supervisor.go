// Package supervisor tracks the health of one workstream's worker and
// applies its restart policy. It wraps an adapter in a small state machine
// driven entirely by explicit calls: no background timers exist, so tests
// drive it synchronously and the polling cadence belongs to the caller.
package supervisor

import (
	"context"
	"time"

	"github.com/sidmohan0/kanbun/pkg/adapter"
	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// State is the supervision state of one workstream.
type State string

// Supervision states.
const (
	StateNotConfigured State = "not_configured"
	StateStarting      State = "starting"
	StateHealthy       State = "healthy"
	StateDegraded      State = "degraded"
	StateSuspended     State = "suspended"
	StateStopped       State = "stopped"
)

// DefaultFailureThreshold is the failure streak after which automatic
// restarts are suppressed.
const DefaultFailureThreshold = 3

const (
	backoffBase = 5 * time.Second
	backoffCap  = 300 * time.Second
)

// Supervisor owns the health state machine for one workstream. It is not
// safe for concurrent use; the runtime serializes per-workstream calls.
type Supervisor struct {
	agentID string
	adapter adapter.Adapter
	policy  protocol.RestartPolicy

	state               State
	consecutiveFailures int
	suppress            bool
	lastError           string
	threshold           int
}

// New creates a supervisor for an adapter. threshold <= 0 selects the
// default failure threshold.
func New(agentID string, a adapter.Adapter, policy protocol.RestartPolicy, threshold int) *Supervisor {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	// A supervisor only exists once an adapter config is bound, so the
	// machine begins at Starting; NotConfigured is represented by the
	// absence of a supervisor.
	return &Supervisor{
		agentID:   agentID,
		adapter:   a,
		policy:    policy,
		state:     StateStarting,
		threshold: threshold,
	}
}

// State returns the current supervision state.
func (s *Supervisor) State() State { return s.state }

// Adapter returns the wrapped adapter for direct message delivery.
func (s *Supervisor) Adapter() adapter.Adapter { return s.adapter }

// Start brings the worker up and moves to Starting. The next poll decides
// whether the worker is actually healthy.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.adapter.Start(ctx); err != nil {
		s.lastError = err.Error()
		s.state = StateDegraded
		return err
	}
	s.state = StateStarting
	return nil
}

// Poll inspects the worker and advances the state machine. Exits are
// matched against the restart policy: at most one automatic restart fires
// per poll, each one growing the failure streak, and a streak at the
// threshold suspends automatic restarts entirely until a manual Restart or
// a successful instruction.
//
// A poll never fires restarts while Suspended or Stopped, and a policy of
// never leaves a dead worker dead.
func (s *Supervisor) Poll(ctx context.Context) protocol.Health {
	if s.state == StateStopped || s.state == StateNotConfigured {
		return s.annotate(protocol.Health{Details: string(s.state)})
	}

	h := s.adapter.PollHealth(ctx)

	if exited, exitErr := s.workerExited(); exited && s.state != StateSuspended {
		if s.shouldAutoRestart(exitErr) {
			s.consecutiveFailures++
			if s.consecutiveFailures >= s.threshold {
				s.suppress = true
				s.state = StateSuspended
				s.lastError = h.LastError
				return s.annotate(h)
			}
			if err := s.adapter.Restart(ctx); err != nil {
				s.lastError = err.Error()
				s.state = StateDegraded
				return s.annotate(h)
			}
			h = s.adapter.PollHealth(ctx)
		}
	}

	switch {
	case h.Connected && h.SessionActive:
		if s.state != StateSuspended {
			s.state = StateHealthy
		}
	default:
		if h.LastError != "" {
			s.lastError = h.LastError
		}
		if s.state == StateHealthy || s.state == StateStarting {
			s.state = StateDegraded
		}
		if s.state == StateDegraded {
			s.consecutiveFailures++
			if s.consecutiveFailures >= s.threshold {
				s.suppress = true
				s.state = StateSuspended
			}
		}
	}

	return s.annotate(h)
}

// NoteInstructionSuccess records that an outbound instruction reached the
// worker. This is one of the two paths out of suspension, and because
// instructions start a stopped worker implicitly it also leaves Stopped.
func (s *Supervisor) NoteInstructionSuccess() {
	s.consecutiveFailures = 0
	s.suppress = false
	s.lastError = ""
	if s.state != StateNotConfigured {
		s.state = StateHealthy
	}
}

// Restart forcibly recycles the worker, clears suppression, and resets the
// failure streak. The returned snapshot reflects the worker after restart.
func (s *Supervisor) Restart(ctx context.Context) (protocol.Health, error) {
	s.consecutiveFailures = 0
	s.suppress = false
	s.lastError = ""

	if err := s.adapter.Restart(ctx); err != nil {
		s.lastError = err.Error()
		s.state = StateDegraded
		return s.annotate(protocol.Health{LastError: err.Error()}), err
	}

	h := s.adapter.PollHealth(ctx)
	if h.Connected && h.SessionActive {
		s.state = StateHealthy
	} else {
		s.state = StateStarting
	}
	return s.annotate(h), nil
}

// Stop tears the worker down. Stopped is terminal: no poll moves the
// supervisor out of it, only a fresh Start.
func (s *Supervisor) Stop() error {
	err := s.adapter.Stop()
	s.state = StateStopped
	return err
}

func (s *Supervisor) workerExited() (bool, error) {
	if r, ok := s.adapter.(adapter.ExitReporter); ok {
		return r.Exited()
	}
	return false, nil
}

func (s *Supervisor) shouldAutoRestart(exitErr error) bool {
	if s.suppress {
		return false
	}
	switch s.policy {
	case protocol.RestartAlways:
		return true
	case protocol.RestartNever:
		return false
	default:
		return exitErr != nil
	}
}

// annotate stamps the supervisor's counters onto a health snapshot.
func (s *Supervisor) annotate(h protocol.Health) protocol.Health {
	h.ConsecutiveFailures = s.consecutiveFailures
	h.SuppressAutoRestart = s.suppress
	if s.lastError != "" && h.LastError == "" {
		h.LastError = s.lastError
	}
	if s.state == StateSuspended {
		h.RetryAfterSeconds = int(Backoff(s.consecutiveFailures).Seconds())
	}
	return h
}

// Backoff returns the display-only retry hint for a failure streak:
// exponential from the base, capped. It never schedules anything.
func Backoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := backoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}
