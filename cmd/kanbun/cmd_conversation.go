package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// newConversationCmd creates the "kanbun conversation" subcommand.
func newConversationCmd(configPath *string) *cobra.Command {
	var (
		limit  int
		before string
	)

	cmd := &cobra.Command{
		Use:     "conversation <agent>",
		Aliases: []string{"conv"},
		Short:   "Show a workstream's message log, oldest first",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, rt, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()
			defer rt.Shutdown()

			agent, err := resolveAgent(cmd.Context(), st, args[0])
			if err != nil {
				return err
			}

			if limit <= 0 {
				limit = cfg.ConversationPageSize
			}
			var beforeAt *time.Time
			if before != "" {
				at, err := time.Parse(time.RFC3339Nano, before)
				if err != nil {
					return fmt.Errorf("parse --before: %w", err)
				}
				beforeAt = &at
			}

			thread, err := st.Conversation(cmd.Context(), agent.ID, limit, beforeAt)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if thread.HasMore && len(thread.Messages) > 0 {
				oldest := thread.Messages[0].CreatedAt.Format(time.RFC3339Nano)
				color.New(color.Faint).Fprintf(out, "... older messages exist, --before %s\n", oldest)
			}
			for _, m := range thread.Messages {
				printMessage(out, m)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "messages per page (default from config)")
	cmd.Flags().StringVar(&before, "before", "", "show messages created before this RFC 3339 timestamp")
	return cmd
}

func printMessage(out io.Writer, m protocol.Message) {
	stamp := m.CreatedAt.Local().Format("15:04:05")
	label := fmt.Sprintf("%s %-14s", stamp, m.Kind)
	if m.Direction == protocol.ToAgent {
		color.New(color.FgBlue).Fprintf(out, "-> %s %s\n", label, m.Content)
	} else {
		color.New(color.FgGreen).Fprintf(out, "<- %s %s\n", label, m.Content)
	}
}
