package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// Mock is a fully deterministic in-memory adapter used for tests and
// demos. No external worker exists: instructions are answered synchronously
// with a simulated output reply, so given a fixed clock the resulting
// conversation is byte-for-byte reproducible.
type Mock struct {
	agentID string
	sink    Sink
	now     func() time.Time
}

// NewMock creates a mock adapter. now defaults to time.Now when nil.
func NewMock(agentID string, sink Sink, now func() time.Time) *Mock {
	if now == nil {
		now = time.Now
	}
	return &Mock{agentID: agentID, sink: sink, now: now}
}

// Start is a no-op: the mock has no external worker to establish.
func (m *Mock) Start(_ context.Context) error {
	return nil
}

// SendInstruction synchronously emits one simulated output reply, with
// reply_to pointing at the instruction.
func (m *Mock) SendInstruction(_ context.Context, msg *protocol.Message) error {
	reply := protocol.NewFromAgent(m.agentID, protocol.MsgOutput, fmt.Sprintf("[mock] Processed: %s", msg.Content))
	reply.ReplyTo = msg.ID
	at := m.now().UTC()
	reply.CreatedAt = at
	reply.DeliveredAt = &at
	m.sink(reply)
	return nil
}

// Deliver answers a status request with a status update and swallows all
// other control kinds.
func (m *Mock) Deliver(_ context.Context, msg *protocol.Message) error {
	if msg.Kind != protocol.MsgStatusRequest {
		return nil
	}
	reply := protocol.NewFromAgent(m.agentID, protocol.MsgStatusUpdate, string(protocol.AgentIdle))
	reply.ReplyTo = msg.ID
	at := m.now().UTC()
	reply.CreatedAt = at
	reply.DeliveredAt = &at
	m.sink(reply)
	return nil
}

// PollHealth always reports a live worker: the simulated worker cannot
// die, so the snapshot is unconditionally connected and active.
func (m *Mock) PollHealth(_ context.Context) protocol.Health {
	hb := m.now().UTC()
	return protocol.Health{
		Connected:     true,
		SessionActive: true,
		LastHeartbeat: &hb,
		Details:       "mock adapter",
	}
}

// Restart is a no-op; there is nothing to recycle.
func (m *Mock) Restart(_ context.Context) error {
	return nil
}

// Stop is a no-op.
func (m *Mock) Stop() error {
	return nil
}
