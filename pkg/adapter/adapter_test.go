package adapter

import (
	"fmt"
	"testing"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

func TestNew_VariantDispatch(t *testing.T) {
	sink := (&sinkRecorder{}).sink

	tests := []struct {
		name string
		cfg  protocol.AdapterConfig
		want string
	}{
		{"mock", protocol.AdapterConfig{AdapterType: protocol.AdapterMock}, "*adapter.Mock"},
		{"process", protocol.AdapterConfig{AdapterType: protocol.AdapterProcess, Command: "cat"}, "*adapter.Process"},
		{"codex", protocol.AdapterConfig{AdapterType: protocol.AdapterCodex}, "*adapter.Process"},
		{"terminal", protocol.AdapterConfig{AdapterType: protocol.AdapterTerminalSession, SessionName: "s"}, "*adapter.TerminalSession"},
		{"webhook", protocol.AdapterConfig{AdapterType: protocol.AdapterHTTPWebhook}, "*adapter.Webhook"},
		{"unknown falls back to mock", protocol.AdapterConfig{AdapterType: "carrier_pigeon"}, "*adapter.Mock"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New("agent-1", tt.cfg, sink, Options{})
			if got := fmt.Sprintf("%T", a); got != tt.want {
				t.Errorf("New(%s) = %s, want %s", tt.cfg.AdapterType, got, tt.want)
			}
		})
	}
}

func TestNew_CodexDefaultCommand(t *testing.T) {
	a := New("agent-1", protocol.AdapterConfig{AdapterType: protocol.AdapterCodex}, (&sinkRecorder{}).sink, Options{})
	p, ok := a.(*Process)
	if !ok {
		t.Fatalf("codex adapter is %T", a)
	}
	if p.cfg.Command != codexCommand {
		t.Errorf("command = %q, want %q", p.cfg.Command, codexCommand)
	}
}
