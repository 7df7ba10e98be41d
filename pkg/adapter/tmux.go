package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// captureScrollback is how far back capture-pane reads. Enough history to
// diff across slow polls without hauling the whole scrollback every time.
const captureScrollback = 200

// defaultPollTimeout bounds every tmux call made during a health poll. A
// hung tmux server degrades the poll instead of stalling the caller.
const defaultPollTimeout = 5 * time.Second

// TerminalSession owns one persistent tmux session keyed by session_name.
// Sessions are user-visible and outlive the supervising process: Start
// attaches to an existing session instead of duplicating it, Stop leaves a
// pre-existing session running, and only Restart tears the session itself
// down.
//
// tmux has no output stream to subscribe to, so new output is detected by
// scraping the visible pane on each health poll and diffing against the
// previous scrape.
type TerminalSession struct {
	agentID string
	cfg     protocol.AdapterConfig
	sink    Sink
	runner  CommandRunner

	pollTimeout time.Duration

	mu          sync.Mutex
	started     bool
	createdHere bool   // session was created by this adapter, not attached
	lastCapture string // previous pane scrape, for diffing
}

// NewTerminalSession creates a tmux-backed adapter. The config's Command
// field, when set, is used as the session's initial working directory.
func NewTerminalSession(agentID string, cfg protocol.AdapterConfig, sink Sink, runner CommandRunner) *TerminalSession {
	return &TerminalSession{
		agentID:     agentID,
		cfg:         cfg,
		sink:        sink,
		runner:      runner,
		pollTimeout: defaultPollTimeout,
	}
}

// Start creates the session if absent, attaches if present. Never creates
// a duplicate session for the same name.
func (t *TerminalSession) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startLocked(ctx)
}

func (t *TerminalSession) startLocked(ctx context.Context) error {
	name := strings.TrimSpace(t.cfg.SessionName)
	if name == "" {
		return &protocol.ConfigError{AgentID: t.agentID, Field: "session_name", Reason: "terminal session adapter requires a session name"}
	}
	if t.started && t.sessionExists(ctx) {
		return nil
	}

	if t.sessionExists(ctx) {
		t.started = true
		t.createdHere = false
		return nil
	}

	args := []string{"new-session", "-d", "-s", name}
	if dir := strings.TrimSpace(t.cfg.Command); dir != "" {
		args = append(args, "-c", dir)
	}
	if _, err := t.runner.Run(ctx, "tmux", args...); err != nil {
		return &protocol.WorkerFailureError{AgentID: t.agentID, Reason: fmt.Sprintf("create session %q: %v", name, err)}
	}
	t.started = true
	t.createdHere = true
	t.lastCapture = ""
	return nil
}

// SendInstruction types the instruction into the session as keystrokes
// followed by Enter, starting (or re-attaching) the session first when
// needed.
func (t *TerminalSession) SendInstruction(ctx context.Context, msg *protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.startLocked(ctx); err != nil {
		return err
	}
	if _, err := t.runner.Run(ctx, "tmux", "send-keys", "-t", t.cfg.SessionName, msg.Content, "Enter"); err != nil {
		return &protocol.WorkerFailureError{AgentID: t.agentID, Reason: fmt.Sprintf("send-keys: %v", err)}
	}
	return nil
}

// Deliver forwards a control message. Cancel sends an interrupt keystroke;
// other kinds are typed into the session as plain lines.
func (t *TerminalSession) Deliver(ctx context.Context, msg *protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		return &protocol.WorkerFailureError{AgentID: t.agentID, Reason: "no live session"}
	}
	if msg.Kind == protocol.MsgCancel {
		if _, err := t.runner.Run(ctx, "tmux", "send-keys", "-t", t.cfg.SessionName, "C-c"); err != nil {
			return &protocol.WorkerFailureError{AgentID: t.agentID, Reason: fmt.Sprintf("send interrupt: %v", err)}
		}
		return nil
	}
	line := msg.Content
	if line == "" {
		line = string(msg.Kind)
	}
	if _, err := t.runner.Run(ctx, "tmux", "send-keys", "-t", t.cfg.SessionName, line, "Enter"); err != nil {
		return &protocol.WorkerFailureError{AgentID: t.agentID, Reason: fmt.Sprintf("send-keys: %v", err)}
	}
	return nil
}

// PollHealth checks that the named session exists and scrapes the pane,
// emitting newly appeared content onto the bus. session_active reflects
// session existence regardless of whether this process created it, so a
// session surviving a supervisor restart is picked up on the next poll.
func (t *TerminalSession) PollHealth(ctx context.Context) protocol.Health {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.pollTimeout)
	defer cancel()

	name := strings.TrimSpace(t.cfg.SessionName)
	if name == "" {
		return protocol.Health{LastError: "terminal session adapter requires a session name"}
	}

	if !t.sessionExists(ctx) {
		h := protocol.Health{LastError: fmt.Sprintf("session %q not found", name)}
		t.started = false
		return h
	}
	t.started = true

	h := protocol.Health{Connected: true, SessionActive: true}
	pane, err := t.runner.Run(ctx, "tmux", "capture-pane", "-p", "-J", "-t", name, "-S", fmt.Sprintf("-%d", captureScrollback))
	if err != nil {
		h.Connected = false
		h.LastError = fmt.Sprintf("capture-pane: %v", err)
		return h
	}
	t.emitNewOutputLocked(string(pane))
	h.Details = lastNonEmptyLine(string(pane))
	return h
}

// emitNewOutputLocked diffs the current scrape against the previous one
// and publishes only content that appeared since, so unchanged screen text
// is never re-recorded.
func (t *TerminalSession) emitNewOutputLocked(pane string) {
	current := strings.TrimRight(pane, "\n")
	prev := t.lastCapture
	t.lastCapture = current

	if prev == "" {
		// First scrape after start: establish the baseline silently.
		return
	}
	if current == prev {
		return
	}

	prevLines := strings.Split(prev, "\n")
	curLines := strings.Split(current, "\n")
	for _, line := range freshLines(prevLines, curLines) {
		line = truncateLine(strings.TrimRight(line, " "))
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg := protocol.NewFromAgent(t.agentID, protocol.MsgOutput, line)
		msg.Metadata = map[string]string{"source": "pane"}
		t.sink(msg)
	}
}

// freshLines returns the lines of current that appeared after prev. Once
// the pane's scrollback fills, each scrape is a window shifted against the
// last one, so the match point is the longest suffix of prev that is a
// prefix of current; everything past it is new.
func freshLines(prev, current []string) []string {
	n := len(prev)
	if len(current) < n {
		n = len(current)
	}
	for k := n; k > 0; k-- {
		if linesEqual(prev[len(prev)-k:], current[:k]) {
			return current[k:]
		}
	}
	return current
}

func linesEqual(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Restart kills the session, whoever created it, and brings up a fresh one.
func (t *TerminalSession) Restart(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sessionExists(ctx) {
		if _, err := t.runner.Run(ctx, "tmux", "kill-session", "-t", t.cfg.SessionName); err != nil {
			return &protocol.WorkerFailureError{AgentID: t.agentID, Reason: fmt.Sprintf("kill session: %v", err)}
		}
	}
	t.started = false
	t.createdHere = false
	t.lastCapture = ""
	return t.startLocked(ctx)
}

// Stop detaches from the session. A session this adapter created is torn
// down; a pre-existing session the user owns is left running.
func (t *TerminalSession) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started && t.createdHere {
		_, _ = t.runner.Run(context.Background(), "tmux", "kill-session", "-t", t.cfg.SessionName)
	}
	t.started = false
	t.createdHere = false
	t.lastCapture = ""
	return nil
}

func (t *TerminalSession) sessionExists(ctx context.Context) bool {
	_, err := t.runner.Run(ctx, "tmux", "has-session", "-t", t.cfg.SessionName)
	return err == nil
}

func lastNonEmptyLine(pane string) string {
	lines := strings.Split(strings.TrimRight(pane, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return truncateLine(lines[i])
		}
	}
	return ""
}
