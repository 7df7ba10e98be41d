package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRestartCmd creates the "kanbun restart" subcommand.
func newRestartCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <agent>",
		Short: "Force-recycle a workstream's worker",
		Long:  "Tears the worker down and brings it back up, clearing auto-restart\nsuppression and the failure streak.",
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
			h, err := rt.Restart(cmd.Context(), agent.ID)
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
