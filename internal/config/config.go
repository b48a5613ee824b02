// Package config holds the tunable constants of the sync engine.
//
// Every threshold the resolver, gateway and scheduler use is configuration
// rather than a literal, so the conflict behavior can be tuned without
// touching the algorithm. Values load from an optional config file and
// TASKVAULT_* environment variables via viper; DefaultConfig covers the
// common case of embedding the engine with no external configuration.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries the engine's tunable options.
type Config struct {
	// DebounceBase is the base write delay after a user edit.
	DebounceBase time.Duration `mapstructure:"debounce_base"`

	// DebounceJitter is the additional uniform random delay added to
	// DebounceBase. Jitter lowers the chance of two devices writing the
	// remote document in the same instant.
	DebounceJitter time.Duration `mapstructure:"debounce_jitter"`

	// ConflictWindow is the timestamp distance inside which two edits of
	// the same record can be a genuine conflict.
	ConflictWindow time.Duration `mapstructure:"conflict_window"`

	// ClearWinner is the timestamp distance above which the newer edit
	// auto-wins without user involvement.
	ClearWinner time.Duration `mapstructure:"clear_winner"`

	// GracePeriod is the interval after a local edit during which that
	// edit is authoritative regardless of remote state.
	GracePeriod time.Duration `mapstructure:"grace_period"`

	// TombstoneTTL is the age past which tombstones are pruned at write
	// time.
	TombstoneTTL time.Duration `mapstructure:"tombstone_ttl"`

	// CacheTTL is the fallback session cache lifetime for auxiliary
	// lookups that have no last-modified token to compare.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	// NetworkTimeout bounds the metadata probe during cache validation.
	// On timeout the gateway falls back to a direct content fetch.
	NetworkTimeout time.Duration `mapstructure:"network_timeout"`

	// MaxRetries is the per-operation retry budget for retryable errors.
	MaxRetries int `mapstructure:"max_retries"`

	// LogFile, when set, routes engine logs to a rotating file instead
	// of stderr.
	LogFile string `mapstructure:"log_file"`

	// StatusAddr, when set, serves the websocket status broadcast for a
	// local UI process (e.g. "127.0.0.1:0").
	StatusAddr string `mapstructure:"status_addr"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceBase:   500 * time.Millisecond,
		DebounceJitter: 200 * time.Millisecond,
		ConflictWindow: 5 * time.Minute,
		ClearWinner:    30 * time.Second,
		GracePeriod:    2 * time.Minute,
		TombstoneTTL:   30 * 24 * time.Hour,
		CacheTTL:       15 * time.Second,
		NetworkTimeout: 2 * time.Second,
		MaxRetries:     3,
	}
}

// Load reads configuration from the given file (optional; empty path skips
// the file) and from TASKVAULT_* environment variables, on top of the
// defaults.
//
// Example:
//
//	cfg, err := config.Load("") // defaults + env only
//	cfg, err := config.Load("/etc/taskvault/engine.yaml")
func Load(path string) (*Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("debounce_base", def.DebounceBase)
	v.SetDefault("debounce_jitter", def.DebounceJitter)
	v.SetDefault("conflict_window", def.ConflictWindow)
	v.SetDefault("clear_winner", def.ClearWinner)
	v.SetDefault("grace_period", def.GracePeriod)
	v.SetDefault("tombstone_ttl", def.TombstoneTTL)
	v.SetDefault("cache_ttl", def.CacheTTL)
	v.SetDefault("network_timeout", def.NetworkTimeout)
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("log_file", "")
	v.SetDefault("status_addr", "")

	v.SetEnvPrefix("TASKVAULT")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.DebounceBase < 0 || c.DebounceJitter < 0 {
		return fmt.Errorf("debounce delays cannot be negative")
	}
	if c.ClearWinner <= 0 || c.ConflictWindow <= 0 || c.GracePeriod < 0 {
		return fmt.Errorf("conflict thresholds must be positive")
	}
	if c.ClearWinner >= c.ConflictWindow {
		return fmt.Errorf("clear_winner (%s) must be below conflict_window (%s)",
			c.ClearWinner, c.ConflictWindow)
	}
	if c.TombstoneTTL <= 0 {
		return fmt.Errorf("tombstone_ttl must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}
	return nil
}
