package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// newSendCmd creates the "kanbun send" subcommand.
func newSendCmd(configPath *string) *cobra.Command {
	var (
		kind    string
		replyTo string
	)

	cmd := &cobra.Command{
		Use:   "send <agent> [content...]",
		Short: "Send a message to a workstream's worker",
		Long:  "Appends the message to the conversation and forwards it to the worker.\nInstructions start a stopped worker; control kinds are delivered best-effort.",
		Args:  cobra.MinimumNArgs(1),
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
			content := strings.Join(args[1:], " ")

			msg, err := rt.Send(cmd.Context(), agent.ID, protocol.MessageKind(kind), content, replyTo)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s %s\n", msg.Kind, msg.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", string(protocol.MsgInstruction), "message kind: instruction, pause, resume, cancel, status_request")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the message this replies to")
	return cmd
}
