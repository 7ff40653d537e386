package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":50061" {
		t.Fatalf("unexpected default address %q", cfg.Server.Address)
	}
	if cfg.Executor.PollInterval != 2*time.Second {
		t.Fatalf("unexpected default poll interval %v", cfg.Executor.PollInterval)
	}
	if cfg.Executor.JobTimeout != 5*time.Minute {
		t.Fatalf("unexpected default job timeout %v", cfg.Executor.JobTimeout)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.PollInterval != 30*time.Second {
		t.Fatalf("unexpected scheduler defaults %+v", cfg.Scheduler)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `server:
  address: ":6000"
oracle:
  baseURL: http://oracle:11434
  model: mistral
executor:
  jobTimeout: 90s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":6000" {
		t.Fatalf("file address not applied: %q", cfg.Server.Address)
	}
	if cfg.Oracle.Model != "mistral" {
		t.Fatalf("file model not applied: %q", cfg.Oracle.Model)
	}
	if cfg.Executor.JobTimeout != 90*time.Second {
		t.Fatalf("file job timeout not applied: %v", cfg.Executor.JobTimeout)
	}
	if cfg.Executor.PollInterval != 2*time.Second {
		t.Fatalf("untouched defaults must survive, got %v", cfg.Executor.PollInterval)
	}
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("REMEDY_ORACLE_MODEL", "phi3")
	t.Setenv("REMEDY_EXECUTOR_POLL_INTERVAL", "500ms")
	t.Setenv("REMEDY_SCHEDULER_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Oracle.Model != "phi3" {
		t.Fatalf("env model not applied: %q", cfg.Oracle.Model)
	}
	if cfg.Executor.PollInterval != 500*time.Millisecond {
		t.Fatalf("env poll interval not applied: %v", cfg.Executor.PollInterval)
	}
	if cfg.Scheduler.Enabled {
		t.Fatal("env scheduler disable not applied")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
