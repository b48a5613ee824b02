package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DebounceBase != 500*time.Millisecond {
		t.Errorf("unexpected debounce base: %s", cfg.DebounceBase)
	}
	if cfg.TombstoneTTL != 30*24*time.Hour {
		t.Errorf("unexpected tombstone TTL: %s", cfg.TombstoneTTL)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("unexpected max retries: %d", cfg.MaxRetries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GracePeriod != 2*time.Minute {
		t.Errorf("expected default grace period, got %s", cfg.GracePeriod)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := "debounce_base: 1s\nmax_retries: 5\nlog_file: /tmp/engine.log\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DebounceBase != time.Second {
		t.Errorf("expected 1s debounce base, got %s", cfg.DebounceBase)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("expected 5 retries, got %d", cfg.MaxRetries)
	}
	if cfg.ClearWinner != 30*time.Second {
		t.Errorf("unset options should keep defaults, got %s", cfg.ClearWinner)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative debounce", func(c *Config) { c.DebounceBase = -1 }},
		{"clear winner above window", func(c *Config) { c.ClearWinner = c.ConflictWindow }},
		{"zero tombstone ttl", func(c *Config) { c.TombstoneTTL = 0 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
