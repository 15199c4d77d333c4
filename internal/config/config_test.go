package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
providers:
  default_provider: openai
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesFallbackChain(t *testing.T) {
	path := writeConfig(t, `
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
  fallback_chain: ["bedrock"]
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "fallback_chain") {
		t.Fatalf("expected fallback_chain error, got %v", err)
	}
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
engine:
  default_scheduling_mode: dag
  max_parallel: 8
session:
  max_turns: 10
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
}

func TestLoadValidatesSchedulingMode(t *testing.T) {
	path := writeConfig(t, `
engine:
  default_scheduling_mode: nope
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_scheduling_mode") {
		t.Fatalf("expected default_scheduling_mode error, got %v", err)
	}
}

func TestLoadValidatesSessionMaxTurns(t *testing.T) {
	path := writeConfig(t, `
session:
  max_turns: -1
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "max_turns") {
		t.Fatalf("expected max_turns error, got %v", err)
	}
}

func TestLoadValidatesSessionStoreBackend(t *testing.T) {
	path := writeConfig(t, `
session:
  store:
    backend: mongo
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "session.store.backend") {
		t.Fatalf("expected session.store.backend error, got %v", err)
	}
}

func TestLoadValidatesDatabaseDriver(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: mysql
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "database.driver") {
		t.Fatalf("expected database.driver error, got %v", err)
	}
}

func TestLoadValidatesBrowserBackend(t *testing.T) {
	path := writeConfig(t, `
tools:
  browser:
    backend: firefox
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "tools.browser.backend") {
		t.Fatalf("expected tools.browser.backend error, got %v", err)
	}
}

func TestLoadValidatesAuthAPIKeys(t *testing.T) {
	path := writeConfig(t, `
auth:
  api_keys:
    - key: ""
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "auth.api_keys[0].key") {
		t.Fatalf("expected auth.api_keys[0].key error, got %v", err)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("FORGE_HOST", "127.0.0.1")
	t.Setenv("FORGE_GRPC_PORT", "55051")
	t.Setenv("DATABASE_URL", "postgres://override@localhost:26257/forge?sslmode=disable")

	path := writeConfig(t, `
server:
  host: 0.0.0.0
  grpc_port: 50051
database:
  url: postgres://default@localhost:26257/forge?sslmode=disable
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("expected host override, got %q", cfg.Server.Host)
	}
	if cfg.Server.GRPCPort != 55051 {
		t.Fatalf("expected grpc port override, got %d", cfg.Server.GRPCPort)
	}
	if cfg.Database.URL != "postgres://override@localhost:26257/forge?sslmode=disable" {
		t.Fatalf("expected database url override, got %q", cfg.Database.URL)
	}
}

func TestLoadValidatesPermissionProfile(t *testing.T) {
	path := writeConfig(t, `
tools:
  execution:
    permission:
      profile: invalid
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "permission.profile") {
		t.Fatalf("expected permission.profile error, got %v", err)
	}
}

func TestLoadValidPermissionProfile(t *testing.T) {
	profiles := []string{"coding", "readonly", "full", "minimal"}
	for _, profile := range profiles {
		t.Run(profile, func(t *testing.T) {
			path := writeConfig(t, `
tools:
  execution:
    permission:
      profile: `+profile+`
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

			if _, err := Load(path); err != nil {
				t.Fatalf("expected config to load with profile %q, got %v", profile, err)
			}
		})
	}
}

func TestLoadValidatesCronJobs(t *testing.T) {
	path := writeConfig(t, `
cron:
  enabled: true
  jobs:
    - id: ""
      type: plan
      schedule:
        cron: "*/5 * * * *"
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "cron.jobs[0].id") {
		t.Fatalf("expected cron.jobs[0].id error, got %v", err)
	}
}

func TestLoadValidCronPlanJob(t *testing.T) {
	path := writeConfig(t, `
cron:
  enabled: true
  jobs:
    - id: nightly-report
      type: plan
      schedule:
        cron: "0 2 * * *"
      plan:
        worker_id: report-worker
        task: generate nightly report
providers:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "forge.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
