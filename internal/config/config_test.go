package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "storage:\n  path: "+filepath.Join(t.TempDir(), "adrift.bolt")+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.MirrorPort != 8787 {
		t.Errorf("MirrorPort = %d, want 8787", cfg.Server.MirrorPort)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("Storage.Type = %q, want bolt", cfg.Storage.Type)
	}
	if cfg.Quota.DailyLimit != 5000 {
		t.Errorf("DailyLimit = %d, want 5000", cfg.Quota.DailyLimit)
	}
	if cfg.Ledger.GuardInterval != "1s" {
		t.Errorf("GuardInterval = %q, want 1s", cfg.Ledger.GuardInterval)
	}
	if cfg.Difficulty.Default != "adaptive" {
		t.Errorf("Difficulty.Default = %q, want adaptive", cfg.Difficulty.Default)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
server:
  mirror_port: 9000
storage:
  type: redis
quota:
  daily_limit: 12000
gateway:
  base_url: http://gateway.internal
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.MirrorPort != 9000 {
		t.Errorf("MirrorPort = %d, want 9000", cfg.Server.MirrorPort)
	}
	if cfg.Storage.Type != "redis" {
		t.Errorf("Storage.Type = %q, want redis", cfg.Storage.Type)
	}
	if cfg.Quota.DailyLimit != 12000 {
		t.Errorf("DailyLimit = %d, want 12000", cfg.Quota.DailyLimit)
	}
	if cfg.Gateway.BaseURL != "http://gateway.internal" {
		t.Errorf("Gateway.BaseURL = %q", cfg.Gateway.BaseURL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad storage type", "storage:\n  type: cassandra\n"},
		{"bad mirror port", "server:\n  mirror_port: 70000\n"},
		{"zero daily limit", "quota:\n  daily_limit: 0\n"},
		{"missing gateway url", "gateway:\n  base_url: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() accepted invalid configuration")
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.MetricsPort != 9090 {
		t.Errorf("MetricsPort = %d, want 9090", cfg.Server.MetricsPort)
	}
}
