// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

// Package config defines Realmwatch configuration and its layered loading.
//
// Configuration precedence: environment variables > YAML config file >
// built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for Realmwatch.
type Config struct {
	Logging  LoggingConfig  `koanf:"logging"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Identity IdentityConfig `koanf:"identity"`
	Tracker  TrackerConfig  `koanf:"tracker"`
	Store    StoreConfig    `koanf:"store"`
	Upstream UpstreamConfig `koanf:"upstream"`
	NATS     NATSConfig     `koanf:"nats"`
	Realms   []RealmConfig  `koanf:"realms"`
}

// LoggingConfig controls the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ServerConfig controls the operational HTTP surface (health, metrics,
// read-only presence API).
type ServerConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// DatabaseConfig controls the DuckDB session store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()
}

// IdentityConfig controls the identity cache and resolver.
type IdentityConfig struct {
	// CachePath is the BadgerDB directory for the xuid -> gamertag cache.
	// Empty selects the in-memory cache (tests, ephemeral deployments).
	CachePath string `koanf:"cache_path"`

	// CacheTTL is how long a resolved gamertag is trusted without
	// re-verification.
	CacheTTL time.Duration `koanf:"cache_ttl"`

	// BatchSize is the maximum identifiers per bulk lookup call.
	BatchSize int `koanf:"batch_size"`

	// MaxConcurrent bounds resolver invocations in flight system-wide.
	MaxConcurrent int `koanf:"max_concurrent"`

	// FallbackTimeout bounds each per-identifier fallback call.
	FallbackTimeout time.Duration `koanf:"fallback_timeout"`

	// FallbackRate paces fallback calls (requests per second).
	FallbackRate float64 `koanf:"fallback_rate"`
}

// TrackerConfig controls per-Realm presence polling.
type TrackerConfig struct {
	PollInterval    time.Duration `koanf:"poll_interval"`
	SnapshotTimeout time.Duration `koanf:"snapshot_timeout"`

	// TrackingWindow bounds how far back in a snapshot the tracker walks;
	// records observed earlier than this are never inspected.
	TrackingWindow time.Duration `koanf:"tracking_window"`

	// MaxConsecutiveFailures is the unreachable-cycle count after which a
	// Realm's tracking is disabled and its owner notified.
	MaxConsecutiveFailures int `koanf:"max_consecutive_failures"`
}

// StoreConfig controls session persistence housekeeping.
type StoreConfig struct {
	// SweepInterval is how often the stale sweep and retention prune run.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// StaleAfter force-closes online sessions whose last_seen has not
	// advanced within this window.
	StaleAfter time.Duration `koanf:"stale_after"`

	// Retention deletes closed sessions older than this.
	Retention time.Duration `koanf:"retention"`

	// StreakTTL expires in-memory streak registry entries as a crash
	// backstop; normally eviction happens on leave/force-close.
	StreakTTL time.Duration `koanf:"streak_ttl"`
}

// UpstreamConfig locates the upstream presence and identity services.
type UpstreamConfig struct {
	PresenceURL string        `koanf:"presence_url"`
	ProfileURL  string        `koanf:"profile_url"`
	Timeout     time.Duration `koanf:"timeout"`

	// Token is the Authorization header value for both upstreams,
	// typically set via REALMWATCH_UPSTREAM__TOKEN.
	Token string `koanf:"token"`
}

// NATSConfig controls the optional external event transport.
// When disabled, events are dispatched over the in-process pub/sub only.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	StreamName     string `koanf:"stream_name"`
}

// RealmConfig identifies one Realm to track.
type RealmConfig struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
}

// defaultConfig returns a Config with all defaults applied.
// These are layered first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Server: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            3858,
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Path:      "/data/realmwatch.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Identity: IdentityConfig{
			CachePath:       "/data/identity",
			CacheTTL:        14 * 24 * time.Hour,
			BatchSize:       500,
			MaxConcurrent:   3,
			FallbackTimeout: 10 * time.Second,
			FallbackRate:    2.0,
		},
		Tracker: TrackerConfig{
			PollInterval:           30 * time.Second,
			SnapshotTimeout:        15 * time.Second,
			TrackingWindow:         10 * time.Minute,
			MaxConsecutiveFailures: 10,
		},
		Store: StoreConfig{
			SweepInterval: 24 * time.Hour,
			StaleAfter:    12 * time.Hour,
			Retention:     31 * 24 * time.Hour,
			StreakTTL:     24 * time.Hour,
		},
		Upstream: UpstreamConfig{
			PresenceURL: "https://frontend.realms.minecraft-services.net",
			ProfileURL:  "https://profile.xboxlive.com",
			Timeout:     15 * time.Second,
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/nats/jetstream",
			StreamName:     "REALMWATCH",
		},
	}
}

// Validate checks configuration invariants. It is called by Load after all
// layers are merged.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateLogging,
		c.validateServer,
		c.validateIdentity,
		c.validateTracker,
		c.validateStore,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	return nil
}

func (c *Config) validateIdentity() error {
	if c.Identity.BatchSize < 1 {
		return fmt.Errorf("identity.batch_size must be at least 1, got %d", c.Identity.BatchSize)
	}
	if c.Identity.MaxConcurrent < 1 {
		return fmt.Errorf("identity.max_concurrent must be at least 1, got %d", c.Identity.MaxConcurrent)
	}
	if c.Identity.CacheTTL <= 0 {
		return fmt.Errorf("identity.cache_ttl must be positive, got %s", c.Identity.CacheTTL)
	}
	if c.Identity.FallbackTimeout <= 0 {
		return fmt.Errorf("identity.fallback_timeout must be positive, got %s", c.Identity.FallbackTimeout)
	}
	return nil
}

func (c *Config) validateTracker() error {
	if c.Tracker.PollInterval < time.Second {
		return fmt.Errorf("tracker.poll_interval must be at least 1s, got %s", c.Tracker.PollInterval)
	}
	if c.Tracker.SnapshotTimeout <= 0 {
		return fmt.Errorf("tracker.snapshot_timeout must be positive, got %s", c.Tracker.SnapshotTimeout)
	}
	if c.Tracker.TrackingWindow <= 0 {
		return fmt.Errorf("tracker.tracking_window must be positive, got %s", c.Tracker.TrackingWindow)
	}
	if c.Tracker.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("tracker.max_consecutive_failures must be at least 1, got %d", c.Tracker.MaxConsecutiveFailures)
	}
	return nil
}

func (c *Config) validateStore() error {
	if c.Store.SweepInterval <= 0 {
		return fmt.Errorf("store.sweep_interval must be positive, got %s", c.Store.SweepInterval)
	}
	if c.Store.StaleAfter <= 0 {
		return fmt.Errorf("store.stale_after must be positive, got %s", c.Store.StaleAfter)
	}
	if c.Store.Retention <= 0 {
		return fmt.Errorf("store.retention must be positive, got %s", c.Store.Retention)
	}
	// The sweep must not force-close sessions faster than the poller can
	// refresh them.
	if c.Store.StaleAfter < 2*c.Tracker.PollInterval {
		return fmt.Errorf("store.stale_after (%s) must be at least twice tracker.poll_interval (%s)",
			c.Store.StaleAfter, c.Tracker.PollInterval)
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
