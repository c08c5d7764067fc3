// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected default config to validate, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Identity.BatchSize != 500 {
		t.Errorf("Expected batch size 500, got %d", cfg.Identity.BatchSize)
	}
	if cfg.Identity.MaxConcurrent != 3 {
		t.Errorf("Expected max concurrent 3, got %d", cfg.Identity.MaxConcurrent)
	}
	if cfg.Identity.CacheTTL != 14*24*time.Hour {
		t.Errorf("Expected cache TTL 14d, got %s", cfg.Identity.CacheTTL)
	}
	if cfg.Store.Retention != 31*24*time.Hour {
		t.Errorf("Expected retention 31d, got %s", cfg.Store.Retention)
	}
	if cfg.NATS.Enabled {
		t.Error("Expected NATS disabled by default")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantSub: "logging.format",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Identity.BatchSize = 0 },
			wantSub: "identity.batch_size",
		},
		{
			name:    "zero max concurrent",
			mutate:  func(c *Config) { c.Identity.MaxConcurrent = 0 },
			wantSub: "identity.max_concurrent",
		},
		{
			name:    "sub-second poll interval",
			mutate:  func(c *Config) { c.Tracker.PollInterval = 100 * time.Millisecond },
			wantSub: "tracker.poll_interval",
		},
		{
			name:    "stale window below poll interval",
			mutate:  func(c *Config) { c.Store.StaleAfter = time.Second * 30 },
			wantSub: "store.stale_after",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantSub: "server.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("Expected error mentioning %q, got %v", tt.wantSub, err)
			}
		})
	}
}

func TestValidate_ServerDisabledSkipsPortCheck(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Enabled = false
	cfg.Server.Port = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected no error with server disabled, got %v", err)
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"REALMWATCH_TRACKER__POLL_INTERVAL", "tracker.poll_interval"},
		{"REALMWATCH_IDENTITY__BATCH_SIZE", "identity.batch_size"},
		{"REALMWATCH_LOGGING__LEVEL", "logging.level"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("REALMWATCH_LOGGING__LEVEL", "debug")
	t.Setenv("REALMWATCH_SERVER__PORT", "4000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected env override for logging.level, got %q", cfg.Logging.Level)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Expected env override for server.port, got %d", cfg.Server.Port)
	}
}
