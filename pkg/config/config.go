// Package config loads the Kanbun configuration file. All fields are
// optional; a missing file yields the defaults, so a fresh install works
// with zero setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config is the on-disk configuration, stored as TOML.
type Config struct {
	// DataDir holds the database and any runtime files. Default ~/.kanbun.
	DataDir string `toml:"data_dir"`

	// DBFile is the SQLite filename inside DataDir.
	DBFile string `toml:"db_file"`

	// FailureThreshold is the failure streak that suspends auto-restart.
	FailureThreshold int `toml:"failure_threshold"`

	// PollIntervalSeconds is the health polling cadence used by the CLI
	// watch loop. The core itself never polls on its own.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`

	// ConversationPageSize is the default page size for conversation
	// listings.
	ConversationPageSize int `toml:"conversation_page_size"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DataDir:              filepath.Join(home, ".kanbun"),
		DBFile:               "kanbun.db",
		FailureThreshold:     3,
		PollIntervalSeconds:  5,
		ConversationPageSize: 100,
	}
}

// DefaultPath returns the standard config file location,
// ~/.kanbun/config.toml.
func DefaultPath() string {
	return filepath.Join(Default().DataDir, "config.toml")
}

// Load reads the config at path. A missing file is not an error: defaults
// apply. Unset fields in an existing file also fall back to defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}

// Save writes the config to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // config holds no secrets
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// DBPath returns the full path of the SQLite database.
func (c Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBFile)
}

func (c Config) withDefaults() Config {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.DBFile == "" {
		c.DBFile = def.DBFile
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = def.PollIntervalSeconds
	}
	if c.ConversationPageSize <= 0 {
		c.ConversationPageSize = def.ConversationPageSize
	}
	return c
}
