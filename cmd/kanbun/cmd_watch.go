package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sidmohan0/kanbun/pkg/watcher"
)

// newWatchCmd creates the "kanbun watch" subcommand: the interactive
// supervision loop. It polls the worker's health on the configured cadence
// and records file changes under the watched trees until interrupted.
func newWatchCmd(configPath *string) *cobra.Command {
	var interval int

	cmd := &cobra.Command{
		Use:   "watch <agent> [paths...]",
		Short: "Supervise a workstream: poll health and track file changes",
		Long:  "Polls the worker on a fixed cadence, applying the restart policy on\nexits, and records file changes under the given paths (default: the\nworkstream's working directory) onto the active run. Ctrl-C stops.",
		Args:  cobra.MinimumNArgs(1),
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

			paths := args[1:]
			if len(paths) == 0 && agent.WorkingDirectory != "" {
				paths = []string{agent.WorkingDirectory}
			}
			paths = append(paths, agent.Config.WatchPaths...)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if len(paths) > 0 {
				w, err := watcher.New(st)
				if err != nil {
					return err
				}
				defer w.Close()
				for _, p := range paths {
					if err := w.Watch(agent.ID, p); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", p)
				}
				go w.Run(ctx)
			}

			if interval <= 0 {
				interval = cfg.PollIntervalSeconds
			}
			ticker := time.NewTicker(time.Duration(interval) * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					fmt.Fprintln(cmd.OutOrStdout(), "stopping")
					return nil
				case <-ticker.C:
					h, err := rt.Health(ctx, agent.ID)
					if err != nil {
						color.New(color.FgRed).Fprintf(cmd.OutOrStdout(), "poll failed: %v\n", err)
						continue
					}
					if h == nil {
						fmt.Fprintf(cmd.OutOrStdout(), "%s has no adapter configured\n", agent.Name)
						continue
					}
					printHealth(cmd.OutOrStdout(), agent.Name, *h)
				}
			}
		},
	}

	cmd.Flags().IntVar(&interval, "interval", 0, "poll interval in seconds (default from config)")
	return cmd
}
