package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// newHealthCmd creates the "kanbun health" subcommand.
func newHealthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health <agent>",
		Short: "Poll a workstream's worker and print the health snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, rt, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()
			defer rt.Shutdown()

			agent, err := resolveAgent(cmd.Context(), st, args[0])
			if err != nil {
				return err
			}
			h, err := rt.Health(cmd.Context(), agent.ID)
			if err != nil {
				return err
			}
			if h == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no adapter configured\n", agent.Name)
				return nil
			}
			printHealth(cmd.OutOrStdout(), agent.Name, *h)
			return nil
		},
	}
}

func printHealth(out io.Writer, name string, h protocol.Health) {
	state := color.New(color.FgGreen).Sprint("healthy")
	switch {
	case h.SuppressAutoRestart:
		state = color.New(color.FgRed).Sprint("suspended")
	case !h.Connected || !h.SessionActive:
		state = color.New(color.FgYellow).Sprint("degraded")
	}

	fmt.Fprintf(out, "%s: %s (connected=%t session_active=%t)\n", name, state, h.Connected, h.SessionActive)
	if h.LastHeartbeat != nil {
		fmt.Fprintf(out, "  last heartbeat: %s\n", h.LastHeartbeat.Local().Format(time.RFC3339))
	}
	if h.ConsecutiveFailures > 0 {
		fmt.Fprintf(out, "  consecutive failures: %d\n", h.ConsecutiveFailures)
	}
	if h.RetryAfterSeconds > 0 {
		fmt.Fprintf(out, "  retry after: %ds\n", h.RetryAfterSeconds)
	}
	if h.LastError != "" {
		color.New(color.FgRed).Fprintf(out, "  last error: %s\n", h.LastError)
	}
	if h.Details != "" {
		fmt.Fprintf(out, "  %s\n", h.Details)
	}
}
