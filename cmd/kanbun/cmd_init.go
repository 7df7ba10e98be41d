package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidmohan0/kanbun/pkg/config"
	"github.com/sidmohan0/kanbun/pkg/store"
)

// newInitCmd creates the "kanbun init" subcommand.
func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize the data directory, config file, and database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			if _, err := os.Stat(*configPath); os.IsNotExist(err) {
				if err := config.Save(*configPath, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", *configPath)
			}

			st, err := store.Open(cfg.DBPath())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := st.LogEvent(cmd.Context(), "init", "cli", "", ""); err != nil {
				return err
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "initialized %s\n", cfg.DBPath())
			return nil
		},
	}
}
