package adapter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// ringCapacity bounds the in-memory output history kept for health detail
// display. The conversation log in the store is the durable record.
const ringCapacity = 200

// stopGracePeriod is how long Stop waits after SIGTERM before SIGKILL.
const stopGracePeriod = 3 * time.Second

// Process owns one child worker process. The worker is spawned through a
// shell, its stdout/stderr are captured line by line onto the message bus,
// and instructions arrive on its stdin.
//
// Each worker gets its own process group (Setpgid) so Stop can terminate
// the entire tree, not just the shell.
type Process struct {
	agentID    string
	cfg        protocol.AdapterConfig
	workingDir string
	sink       Sink
	ring       *lineRing

	// newCmd builds the worker command. Defaults to `sh -lc <command>`;
	// tests override it to spawn controllable dummies.
	newCmd func() *exec.Cmd

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	done    chan struct{} // closed by the reaper after Wait returns
	waitErr error         // valid after done is closed
	exited  bool
	wg      sync.WaitGroup // capture goroutines
}

// NewProcess creates a process adapter from the workstream's config.
// workingDir is the workstream's working directory; empty means inherit.
func NewProcess(agentID string, cfg protocol.AdapterConfig, workingDir string, sink Sink) *Process {
	p := &Process{
		agentID:    agentID,
		cfg:        cfg,
		workingDir: workingDir,
		sink:       sink,
		ring:       newLineRing(ringCapacity),
	}
	p.newCmd = p.shellCmd
	return p
}

// shellCmd builds the production worker command: the configured command
// line run through a login shell so PATH and rc-file tooling resolve the
// way they do in the user's terminal.
func (p *Process) shellCmd() *exec.Cmd {
	cmd := exec.Command("sh", "-lc", p.cfg.Command) //nolint:gosec // command comes from the operator's adapter config
	cmd.Dir = p.workingDir
	cmd.Env = mergedEnv(p.cfg.WorkerEnv())
	return cmd
}

func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// Start spawns the worker. Idempotent: a live worker is reused.
func (p *Process) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked()
}

func (p *Process) startLocked() error {
	if p.runningLocked() {
		return nil
	}
	if strings.TrimSpace(p.cfg.Command) == "" {
		return &protocol.ConfigError{AgentID: p.agentID, Field: "command", Reason: "process adapter requires a command"}
	}

	cmd := p.newCmd()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &protocol.WorkerFailureError{AgentID: p.agentID, Reason: fmt.Sprintf("stdin pipe: %v", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &protocol.WorkerFailureError{AgentID: p.agentID, Reason: fmt.Sprintf("stdout pipe: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &protocol.WorkerFailureError{AgentID: p.agentID, Reason: fmt.Sprintf("stderr pipe: %v", err)}
	}

	if err := cmd.Start(); err != nil {
		return &protocol.WorkerFailureError{AgentID: p.agentID, Reason: fmt.Sprintf("spawn %q: %v", p.cfg.Command, err)}
	}

	p.cmd = cmd
	p.stdin = stdin
	p.exited = false
	p.waitErr = nil
	p.ring.Reset()
	done := make(chan struct{})
	p.done = done

	p.wg.Add(2)
	go p.capture(stdout, protocol.MsgOutput, "stdout")
	go p.capture(stderr, protocol.MsgError, "stderr")

	// Reap the child to avoid zombies and record the exit for the
	// supervisor's restart-policy decision.
	go func() {
		p.wg.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.waitErr = err
		p.exited = true
		p.mu.Unlock()
		close(done)
	}()

	return nil
}

// capture reads one stdio stream line by line, feeding the ring buffer and
// the message bus. Stderr lines become error messages.
func (p *Process) capture(r io.Reader, kind protocol.MessageKind, source string) {
	defer p.wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := truncateLine(scanner.Text())
		if strings.TrimSpace(line) == "" {
			continue
		}
		if source == "stderr" {
			p.ring.Add("[stderr] " + line)
		} else {
			p.ring.Add(line)
		}
		msg := protocol.NewFromAgent(p.agentID, kind, line)
		msg.Metadata = map[string]string{"source": source}
		p.sink(msg)
	}
}

// SendInstruction writes the instruction as one line on the worker's
// stdin, implicitly starting the worker when none is live.
func (p *Process) SendInstruction(_ context.Context, msg *protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.runningLocked() {
		if err := p.startLocked(); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(p.stdin, msg.Content+"\n"); err != nil {
		return &protocol.WorkerFailureError{AgentID: p.agentID, Reason: fmt.Sprintf("write instruction: %v", err)}
	}
	return nil
}

// Deliver forwards a control message. Cancel terminates the worker's
// process group; other kinds are written to stdin as plain lines,
// best-effort since the worker may ignore them.
func (p *Process) Deliver(_ context.Context, msg *protocol.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.runningLocked() {
		return &protocol.WorkerFailureError{AgentID: p.agentID, Reason: "no live worker"}
	}
	if msg.Kind == protocol.MsgCancel {
		p.terminateLocked()
		return nil
	}
	line := msg.Content
	if line == "" {
		line = string(msg.Kind)
	}
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return &protocol.WorkerFailureError{AgentID: p.agentID, Reason: fmt.Sprintf("write control: %v", err)}
	}
	return nil
}

// PollHealth reports process liveness and the recent output tail.
func (p *Process) PollHealth(_ context.Context) protocol.Health {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := protocol.Health{
		Connected:     p.runningLocked(),
		SessionActive: p.runningLocked(),
		Details:       p.ring.TailString(10),
	}
	if p.cmd == nil {
		h.LastError = "worker never started"
		return h
	}
	if p.exited {
		h.LastError = exitDescription(p.waitErr)
	}
	return h
}

// Exited implements ExitReporter.
func (p *Process) Exited() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || !p.exited {
		return false, nil
	}
	return true, p.waitErr
}

// Restart tears the worker down and spawns a fresh one.
func (p *Process) Restart(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminateLocked()
	return p.startLocked()
}

// Stop terminates the worker. Safe to call at any time, including after
// the worker already exited.
func (p *Process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminateLocked()
	return nil
}

// terminateLocked sends SIGTERM to the worker's process group, waits a
// grace period, then SIGKILLs stragglers. No-op when nothing is running.
func (p *Process) terminateLocked() {
	if !p.runningLocked() {
		p.cmd = nil
		return
	}
	pgid := p.cmd.Process.Pid
	done := p.done

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		// Process group already gone.
		_ = p.cmd.Process.Kill()
	}

	// Release the lock while waiting so capture goroutines draining the
	// pipes can still take the sink path if it re-enters this adapter.
	p.mu.Unlock()
	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		<-done
	}
	p.mu.Lock()

	p.cmd = nil
	p.stdin = nil
	p.exited = false
	p.waitErr = nil
}

func (p *Process) runningLocked() bool {
	return p.cmd != nil && !p.exited
}

// exitDescription renders a wait error the way health consumers expect:
// exit code for normal failures, signal name for killed workers.
func exitDescription(waitErr error) string {
	if waitErr == nil {
		return "process exited with code 0"
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return "process killed by signal " + status.Signal().String()
		}
		return "process exited with code " + strconv.Itoa(exitErr.ExitCode())
	}
	return "process wait failed: " + waitErr.Error()
}
