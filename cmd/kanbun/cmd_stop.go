package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd creates the "kanbun stop" subcommand.
func newStopCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <agent>",
		Short: "Stop a workstream's worker",
		Long:  "Tears the worker down without restarting. A tmux session the worker\nmerely attached to is left running.",
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
			if err := rt.Stop(cmd.Context(), agent.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", agent.Name)
			return nil
		},
	}
}
