package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidmohan0/kanbun/pkg/store"
)

// newLogsCmd creates the "kanbun logs" subcommand.
func newLogsCmd(configPath *string) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "logs [agent]",
		Short: "Show recent runtime events",
		Long:  "Displays supervision lifecycle events from the runtime event log,\noptionally filtered to one workstream.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, rt, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()
			defer rt.Shutdown()

			var agentID string
			if len(args) == 1 {
				agent, err := resolveAgent(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				agentID = agent.ID
			}

			events, err := st.Events(cmd.Context(), agentID, tail)
			if err != nil {
				return err
			}
			// Newest last reads naturally in a terminal.
			for i := len(events) - 1; i >= 0; i-- {
				printEvent(cmd, events[i])
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&tail, "tail", 20, "number of recent events to show")
	return cmd
}

func printEvent(cmd *cobra.Command, e store.Event) {
	out := cmd.OutOrStdout()
	stamp := e.CreatedAt.Local().Format(time.RFC3339)
	line := fmt.Sprintf("%s [%s] %s", stamp, e.Source, e.Type)
	if e.AgentID != "" {
		line += " agent=" + e.AgentID
	}
	if e.Payload != "" {
		line += " " + e.Payload
	}
	switch e.Type {
	case "instruction_failed", "restart_failed", "message_lost":
		color.New(color.FgRed).Fprintln(out, line)
	default:
		fmt.Fprintln(out, line)
	}
}
