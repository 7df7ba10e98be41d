package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidmohan0/kanbun/pkg/protocol"
)

// newAgentCmd creates the "kanbun agent" command group.
func newAgentCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage workstreams",
	}
	cmd.AddCommand(
		newAgentCreateCmd(configPath),
		newAgentListCmd(configPath),
		newAgentConfigCmd(configPath),
	)
	return cmd
}

func newAgentCreateCmd(configPath *string) *cobra.Command {
	var (
		project  string
		kind     string
		function string
		workdir  string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, rt, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()
			defer rt.Shutdown()

			agent := &protocol.Agent{
				Name:             args[0],
				ProjectID:        project,
				Kind:             protocol.AgentKind(kind),
				FunctionTag:      function,
				WorkingDirectory: workdir,
			}
			if err := st.CreateAgent(cmd.Context(), agent); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", agent.Name, agent.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&project, "project", "default", "project the workstream belongs to")
	cmd.Flags().StringVar(&kind, "kind", string(protocol.KindScript), "worker kind: terminal, api, or script")
	cmd.Flags().StringVar(&function, "function", "engineering", "function tag, e.g. marketing or sdk")
	cmd.Flags().StringVar(&workdir, "workdir", "", "working directory for the worker")
	return cmd
}

func newAgentListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workstreams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, st, rt, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()
			defer rt.Shutdown()

			agents, err := st.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			if len(agents) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no workstreams yet; try `kanbun agent create` or `kanbun seed`")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tFUNCTION\tSTATUS")
			for _, a := range agents {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Kind, a.FunctionTag, statusColor(a.Status).Sprint(a.Status))
			}
			return w.Flush()
		},
	}
}

func newAgentConfigCmd(configPath *string) *cobra.Command {
	var (
		adapterType   string
		command       string
		sessionName   string
		endpoint      string
		envPairs      []string
		restartPolicy string
	)

	cmd := &cobra.Command{
		Use:   "config <agent>",
		Short: "Bind or replace a workstream's adapter configuration",
		Long:  "Configures how the workstream's worker is reached.\nA live worker is stopped before the swap; the new adapter starts on the next send or restart.",
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
			env, err := parseEnvFlags(envPairs)
			if err != nil {
				return err
			}

			cfg := protocol.AdapterConfig{
				AdapterType:   protocol.AdapterType(adapterType),
				Command:       command,
				SessionName:   sessionName,
				Endpoint:      endpoint,
				Env:           env,
				RestartPolicy: protocol.RestartPolicy(restartPolicy),
			}
			if err := rt.Configure(cmd.Context(), agent.ID, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configured %s with %s adapter\n", agent.Name, cfg.AdapterType)
			return nil
		},
	}

	cmd.Flags().StringVar(&adapterType, "type", string(protocol.AdapterMock), "adapter type: mock, process, terminal_session, http_webhook, codex")
	cmd.Flags().StringVar(&command, "command", "", "worker command line (process), or working directory (terminal_session)")
	cmd.Flags().StringVar(&sessionName, "session", "", "tmux session name (terminal_session)")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "endpoint URL (reserved for http_webhook)")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "worker environment, KEY=VALUE, repeatable")
	cmd.Flags().StringVar(&restartPolicy, "restart-policy", "", "never, on_failure, or always")
	return cmd
}

func statusColor(s protocol.AgentStatus) *color.Color {
	switch s {
	case protocol.AgentRunning:
		return color.New(color.FgGreen)
	case protocol.AgentBlocked:
		return color.New(color.FgYellow)
	case protocol.AgentErrored:
		return color.New(color.FgRed)
	case protocol.AgentCompleted:
		return color.New(color.FgCyan)
	default:
		return color.New(color.Faint)
	}
}
