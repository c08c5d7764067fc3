// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

/*
Package store persists player session streaks in DuckDB.

One row of player_sessions is one continuous online streak of one player on
one Realm. The streak's identity lives in an in-memory registry keyed by
realm and xuid: while a registry entry exists, polls update the existing row;
once the entry is evicted (player left, Realm unreachable, stale sweep), the
next sighting opens a brand-new row. The registry is rebuilt from the open
rows at startup so streaks survive a restart.
*/
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/realmwatch/internal/cache"
	"github.com/tomtom215/realmwatch/internal/config"
	"github.com/tomtom215/realmwatch/internal/logging"
	"github.com/tomtom215/realmwatch/internal/metrics"
)

// streakRegistryCapacity bounds the in-memory streak registry. Entries are
// evicted LRU beyond this, which only matters if more players than this are
// simultaneously online across all realms.
const streakRegistryCapacity = 100000

// Store owns the player_sessions table and is its only writer.
type Store struct {
	conn *sql.DB
	cfg  config.StoreConfig
	log  zerolog.Logger

	// streaks maps "realmID-xuid" to the active streak's session_id.
	streaks *cache.LRUCache
}

// New opens (or creates) the session database and rebuilds the streak
// registry from rows still marked online.
func New(dbCfg *config.DatabaseConfig, storeCfg config.StoreConfig) (*Store, error) {
	connStr := ""
	if dbCfg.Path != "" && dbCfg.Path != ":memory:" {
		dbDir := filepath.Dir(dbCfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}

		threads := dbCfg.Threads
		if threads <= 0 {
			threads = runtime.NumCPU()
		}
		// Disable extension auto-install to avoid startup hangs in
		// restricted network environments.
		connStr = fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
			dbCfg.Path, threads, dbCfg.MaxMemory)
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		conn:    conn,
		cfg:     storeCfg,
		log:     logging.With().Str("component", "store").Logger(),
		streaks: cache.NewLRUCache(streakRegistryCapacity, storeCfg.StreakTTL),
	}

	if err := s.createSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := s.rehydrateStreaks(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to rehydrate streak registry: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

func (s *Store) createSchema() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS player_sessions (
			session_id UUID PRIMARY KEY,
			realm_id TEXT NOT NULL,
			xuid TEXT NOT NULL,
			online BOOLEAN NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			joined_at TIMESTAMP NOT NULL
		)`,
		// Covers the range scans behind open-session lookups, interval
		// reads and the sweep.
		`CREATE INDEX IF NOT EXISTS idx_player_sessions_lookup
			ON player_sessions (realm_id, xuid, last_seen, joined_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

// rehydrateStreaks reloads the registry from rows still marked online, so a
// restart continues existing streaks instead of opening duplicates.
func (s *Store) rehydrateStreaks() error {
	ctx, cancel := schemaContext()
	defer cancel()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT session_id, realm_id, xuid FROM player_sessions WHERE online = TRUE`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	count := 0
	for rows.Next() {
		var sessionID uuid.UUID
		var realmID, xuid string
		if err := rows.Scan(&sessionID, &realmID, &xuid); err != nil {
			return err
		}
		s.streaks.Add(streakKey(realmID, xuid), sessionID.String())
		count++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if count > 0 {
		s.log.Info().Int("open_sessions", count).Msg("Rehydrated streak registry")
	}
	return nil
}

func streakKey(realmID, xuid string) string {
	return realmID + "-" + xuid
}

// observe records query duration and error metrics for one operation.
func observe(op string, start time.Time, err error) {
	metrics.DBQueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DBQueryErrors.WithLabelValues(op).Inc()
	}
}
