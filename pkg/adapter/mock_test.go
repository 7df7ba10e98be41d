package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestMock_InstructionYieldsOneReply(t *testing.T) {
	rec := &sinkRecorder{}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMock("agent-1", rec.sink, fixedClock(at))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	instr := protocol.NewToAgent("agent-1", protocol.MsgInstruction, "ping")
	instr.ID = "01ARZ3NDEKTSV4RRFFQ69G5FAV"
	if err := m.SendInstruction(context.Background(), instr); err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs := rec.all()
	if len(msgs) != 1 {
		t.Fatalf("expected exactly 1 reply, got %d", len(msgs))
	}
	reply := msgs[0]
	if reply.Kind != protocol.MsgOutput {
		t.Errorf("kind = %s, want output", reply.Kind)
	}
	if reply.Direction != protocol.FromAgent {
		t.Errorf("direction = %s, want from_agent", reply.Direction)
	}
	if reply.Content != "[mock] Processed: ping" {
		t.Errorf("content = %q", reply.Content)
	}
	if reply.ReplyTo != instr.ID {
		t.Errorf("reply_to = %q, want %q", reply.ReplyTo, instr.ID)
	}
	if !reply.CreatedAt.Equal(at) {
		t.Errorf("created_at = %v, want fixed clock %v", reply.CreatedAt, at)
	}
}

func TestMock_Deterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	runOnce := func() *protocol.Message {
		rec := &sinkRecorder{}
		m := NewMock("agent-1", rec.sink, fixedClock(at))
		_ = m.Start(context.Background())
		instr := protocol.NewToAgent("agent-1", protocol.MsgInstruction, "hello")
		instr.ID = "fixed-id"
		_ = m.SendInstruction(context.Background(), instr)
		return rec.all()[0]
	}

	a, b := runOnce(), runOnce()
	if a.Content != b.Content || a.ReplyTo != b.ReplyTo || !a.CreatedAt.Equal(b.CreatedAt) {
		t.Errorf("mock replies differ across identical runs: %+v vs %+v", a, b)
	}
}

func TestMock_StatusRequest(t *testing.T) {
	rec := &sinkRecorder{}
	m := NewMock("agent-1", rec.sink, fixedClock(time.Now()))
	_ = m.Start(context.Background())

	req := protocol.NewToAgent("agent-1", protocol.MsgStatusRequest, "")
	req.ID = "req-1"
	if err := m.Deliver(context.Background(), req); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	msgs := rec.all()
	if len(msgs) != 1 || msgs[0].Kind != protocol.MsgStatusUpdate {
		t.Fatalf("expected one status_update, got %v", msgs)
	}
	if msgs[0].ReplyTo != "req-1" {
		t.Errorf("reply_to = %q", msgs[0].ReplyTo)
	}

	// Other control kinds are swallowed without emissions.
	if err := m.Deliver(context.Background(), protocol.NewToAgent("agent-1", protocol.MsgPause, "")); err != nil {
		t.Fatalf("deliver pause: %v", err)
	}
	if len(rec.all()) != 1 {
		t.Error("pause should not produce a reply")
	}
}

func TestMock_Health(t *testing.T) {
	at := time.Now()
	m := NewMock("agent-1", (&sinkRecorder{}).sink, fixedClock(at))

	// The simulated worker cannot die: every poll reports it live,
	// through the whole lifecycle.
	h := m.PollHealth(context.Background())
	if !h.Connected || !h.SessionActive {
		t.Error("mock should always report connected and active")
	}
	if h.LastHeartbeat == nil || !h.LastHeartbeat.Equal(at.UTC()) {
		t.Errorf("heartbeat = %v, want the injected clock", h.LastHeartbeat)
	}

	_ = m.Start(context.Background())
	_ = m.Stop()
	if h := m.PollHealth(context.Background()); !h.Connected {
		t.Error("stopped mock should still report connected")
	}

	if err := m.Restart(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if !m.PollHealth(context.Background()).Connected {
		t.Error("restarted mock should report connected")
	}
}
