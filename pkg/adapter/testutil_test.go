package adapter

import (
	"context"
	"strings"
	"sync"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// sinkRecorder collects messages emitted by an adapter under test.
type sinkRecorder struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (r *sinkRecorder) sink(m *protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *sinkRecorder) all() []*protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*protocol.Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *sinkRecorder) contents() []string {
	var out []string
	for _, m := range r.all() {
		out = append(out, m.Content)
	}
	return out
}

// fakeRunner is a scripted CommandRunner. Each call is recorded; the
// respond function decides the result based on the tmux subcommand.
type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	respond func(args []string) ([]byte, error)
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	if f.respond != nil {
		return f.respond(args)
	}
	return nil, nil
}

func (f *fakeRunner) callLines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

func (f *fakeRunner) sawCall(prefix string) bool {
	for _, line := range f.callLines() {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
