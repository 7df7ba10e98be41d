package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sidmohan0/kanbun/internal/version"
	"github.com/sidmohan0/kanbun/pkg/config"
)

// newRootCmd creates the root kanbun command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "kanbun",
		Short:         "Kanbun workstream supervisor",
		Long:          "kanbun supervises long-lived workstreams: each one is backed by an\nexternal worker reached through an adapter, with a durable conversation log.",
		Version:       fmt.Sprintf("kanbun %s", version.String()),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to config.toml")

	cmd.AddCommand(
		newInitCmd(&configPath),
		newSeedCmd(&configPath),
		newAgentCmd(&configPath),
		newSendCmd(&configPath),
		newConversationCmd(&configPath),
		newHealthCmd(&configPath),
		newRestartCmd(&configPath),
		newStopCmd(&configPath),
		newWatchCmd(&configPath),
		newLogsCmd(&configPath),
	)

	return cmd
}
