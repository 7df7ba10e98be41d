package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Default()
	if cfg != def {
		t.Errorf("got %+v, want defaults %+v", cfg, def)
	}
}

func TestLoad_PartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "failure_threshold = 5\ndb_file = \"custom.db\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.FailureThreshold != 5 {
		t.Errorf("failure_threshold = %d, want 5", cfg.FailureThreshold)
	}
	if cfg.DBFile != "custom.db" {
		t.Errorf("db_file = %q", cfg.DBFile)
	}
	if cfg.DataDir != Default().DataDir {
		t.Errorf("unset data_dir should default, got %q", cfg.DataDir)
	}
	if cfg.PollIntervalSeconds != Default().PollIntervalSeconds {
		t.Errorf("unset poll interval should default, got %d", cfg.PollIntervalSeconds)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("data_dir = [broken"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	want := Default()
	want.DataDir = "/srv/kanbun"
	want.FailureThreshold = 7

	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestDBPath(t *testing.T) {
	cfg := Config{DataDir: "/data", DBFile: "k.db"}
	if got := cfg.DBPath(); got != filepath.Join("/data", "k.db") {
		t.Errorf("db path = %q", got)
	}
}
