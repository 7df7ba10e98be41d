package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/sidmohan0/kanbun/pkg/config"
	"github.com/sidmohan0/kanbun/pkg/protocol"
	"github.com/sidmohan0/kanbun/pkg/runtime"
	"github.com/sidmohan0/kanbun/pkg/store"
)

// openEnv loads the configuration and opens the store plus a runtime on
// top of it. The caller owns the store handle.
func openEnv(configPath string) (config.Config, *store.Store, *runtime.Runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("open store: %w", err)
	}
	rt := runtime.New(st, runtime.Options{FailureThreshold: cfg.FailureThreshold})
	return cfg, st, rt, nil
}

// resolveAgent finds a workstream by id, or by exact name when no id
// matches, so commands accept either.
func resolveAgent(ctx context.Context, st *store.Store, ref string) (*protocol.Agent, error) {
	if a, err := st.GetAgent(ctx, ref); err == nil {
		return a, nil
	}
	agents, err := st.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	var match *protocol.Agent
	for i := range agents {
		if agents[i].Name == ref {
			if match != nil {
				return nil, fmt.Errorf("agent name %q is ambiguous, use the id", ref)
			}
			match = &agents[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("agent %q: %w", ref, store.ErrNotFound)
	}
	return match, nil
}

// parseEnvFlags converts repeated KEY=VALUE flags into an env map.
func parseEnvFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid env %q, want KEY=VALUE", pair)
		}
		env[k] = v
	}
	return env, nil
}
