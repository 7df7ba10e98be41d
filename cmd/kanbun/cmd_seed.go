package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sidmohan0/kanbun/pkg/protocol"
	"github.com/sidmohan0/kanbun/pkg/runtime"
	"github.com/sidmohan0/kanbun/pkg/store"
)

// demoSeed is the built-in fixture used when no --file is given: a pair of
// demo workstreams ready to converse with, one on the mock adapter and one
// process-backed.
const demoSeed = `
agents:
  - name: marketing-writer
    project: demo
    kind: terminal
    function: marketing
    adapter:
      type: mock
    messages:
      - kind: instruction
        content: Draft the launch announcement
  - name: build-runner
    project: demo
    kind: script
    function: engineering
    adapter:
      type: process
      command: "cat"
      restart_policy: on_failure
`

// seedFile is the YAML fixture format consumed by "kanbun seed".
type seedFile struct {
	Agents []seedAgent `yaml:"agents"`
}

type seedAgent struct {
	Name             string            `yaml:"name"`
	Project          string            `yaml:"project"`
	Kind             string            `yaml:"kind"`
	Function         string            `yaml:"function"`
	WorkingDirectory string            `yaml:"working_directory"`
	Adapter          *seedAdapter      `yaml:"adapter"`
	Messages         []seedMessage     `yaml:"messages"`
	Config           map[string]string `yaml:"config"`
}

type seedAdapter struct {
	Type          string            `yaml:"type"`
	Command       string            `yaml:"command"`
	SessionName   string            `yaml:"session_name"`
	Endpoint      string            `yaml:"endpoint"`
	Env           map[string]string `yaml:"env"`
	RestartPolicy string            `yaml:"restart_policy"`
}

type seedMessage struct {
	Kind    string `yaml:"kind"`
	Content string `yaml:"content"`
}

// newSeedCmd creates the "kanbun seed" subcommand.
func newSeedCmd(configPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo or fixture workstreams into the database",
		Long:  "Seeds agents, adapter configs, and opening messages from a YAML fixture.\nWithout --file a built-in demo pair is loaded.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data := []byte(demoSeed)
			if file != "" {
				var err error
				data, err = os.ReadFile(file) //nolint:gosec // operator-supplied fixture path
				if err != nil {
					return fmt.Errorf("read fixture: %w", err)
				}
			}

			var fixture seedFile
			if err := yaml.Unmarshal(data, &fixture); err != nil {
				return fmt.Errorf("parse fixture: %w", err)
			}
			if len(fixture.Agents) == 0 {
				return fmt.Errorf("fixture contains no agents")
			}

			_, st, rt, err := openEnv(*configPath)
			if err != nil {
				return err
			}
			defer st.Close()
			defer rt.Shutdown()

			for _, sa := range fixture.Agents {
				if err := seedOne(cmd.Context(), st, rt, sa); err != nil {
					return fmt.Errorf("seed %q: %w", sa.Name, err)
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "seeded %s\n", sa.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML fixture to load instead of the built-in demo")
	return cmd
}

func seedOne(ctx context.Context, st *store.Store, rt *runtime.Runtime, sa seedAgent) error {
	agent := &protocol.Agent{
		Name:             sa.Name,
		ProjectID:        sa.Project,
		Kind:             protocol.AgentKind(sa.Kind),
		FunctionTag:      sa.Function,
		WorkingDirectory: sa.WorkingDirectory,
	}
	if agent.Kind == "" {
		agent.Kind = protocol.KindScript
	}
	if err := st.CreateAgent(ctx, agent); err != nil {
		return err
	}

	if sa.Adapter != nil {
		cfg := protocol.AdapterConfig{
			AdapterType:   protocol.AdapterType(sa.Adapter.Type),
			Command:       sa.Adapter.Command,
			SessionName:   sa.Adapter.SessionName,
			Endpoint:      sa.Adapter.Endpoint,
			Env:           sa.Adapter.Env,
			RestartPolicy: protocol.RestartPolicy(sa.Adapter.RestartPolicy),
		}
		if err := rt.Configure(ctx, agent.ID, cfg); err != nil {
			return err
		}
	}

	for _, m := range sa.Messages {
		kind := protocol.MessageKind(m.Kind)
		if kind == "" {
			kind = protocol.MsgInstruction
		}
		if _, err := rt.Send(ctx, agent.ID, kind, m.Content, ""); err != nil {
			return err
		}
	}
	return nil
}
