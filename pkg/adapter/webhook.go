package adapter

import (
	"context"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// Webhook is the reserved http_webhook adapter type. Configs bind and
// round-trip, but no network transport exists yet: every operation reports
// the worker as unreachable. Kept as a distinct variant so existing configs
// keep working the day the transport lands.
type Webhook struct {
	agentID string
	cfg     protocol.AdapterConfig
}

// NewWebhook creates the reserved webhook adapter.
func NewWebhook(agentID string, cfg protocol.AdapterConfig) *Webhook {
	return &Webhook{agentID: agentID, cfg: cfg}
}

// Start reports the transport as unavailable.
func (w *Webhook) Start(_ context.Context) error {
	return w.unsupported()
}

// SendInstruction reports the transport as unavailable.
func (w *Webhook) SendInstruction(_ context.Context, _ *protocol.Message) error {
	return w.unsupported()
}

// Deliver reports the transport as unavailable.
func (w *Webhook) Deliver(_ context.Context, _ *protocol.Message) error {
	return w.unsupported()
}

// PollHealth reports a disconnected worker with the reserved-type notice.
func (w *Webhook) PollHealth(_ context.Context) protocol.Health {
	return protocol.Health{
		Details:   "http_webhook adapter is reserved",
		LastError: w.unsupported().Error(),
	}
}

// Restart reports the transport as unavailable.
func (w *Webhook) Restart(_ context.Context) error {
	return w.unsupported()
}

// Stop is a no-op.
func (w *Webhook) Stop() error { return nil }

func (w *Webhook) unsupported() error {
	return &protocol.ConfigError{
		AgentID: w.agentID,
		Field:   "adapter_type",
		Reason:  "http_webhook transport is not implemented yet",
	}
}
