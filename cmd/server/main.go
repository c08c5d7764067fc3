// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

// Package main is the entry point for the Realmwatch server.
//
// Realmwatch polls the upstream presence API for each configured Realm,
// turns presence snapshots into joined/left deltas, resolves player
// identifiers to display names through a cached two-tier lookup, persists
// crash-safe play sessions in DuckDB, and broadcasts typed events to
// downstream subscribers.
//
// Startup order:
//
//  1. Configuration (Koanf v2: defaults, config.yaml, REALMWATCH_* env)
//  2. Logging (zerolog)
//  3. Identity cache (BadgerDB, or in-memory without a data directory)
//  4. Session store (DuckDB) and streak registry rehydration
//  5. Upstream clients (presence behind a circuit breaker, profiles)
//  6. Event dispatch (in-process pub/sub, optional NATS JetStream)
//  7. Supervision tree: realm pollers, session sweeper, HTTP API
//
// Shutdown on SIGINT/SIGTERM stops the pollers, flushes in-flight cycles,
// and closes the store and cache.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/realmwatch/internal/api"
	"github.com/tomtom215/realmwatch/internal/config"
	"github.com/tomtom215/realmwatch/internal/dispatch"
	"github.com/tomtom215/realmwatch/internal/identity"
	"github.com/tomtom215/realmwatch/internal/logging"
	"github.com/tomtom215/realmwatch/internal/store"
	"github.com/tomtom215/realmwatch/internal/supervisor"
	"github.com/tomtom215/realmwatch/internal/tracker"
	"github.com/tomtom215/realmwatch/internal/xbl"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Int("realms", len(cfg.Realms)).Msg("Starting Realmwatch")

	if len(cfg.Realms) == 0 {
		logging.Fatal().Msg("No realms configured, nothing to track")
	}

	// Identity cache: durable when a data directory is configured.
	var idCache identity.Cache
	if cfg.Identity.CachePath != "" {
		c, err := identity.NewBadgerCache(cfg.Identity.CachePath, cfg.Identity.CacheTTL)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to open identity cache")
		}
		idCache = c
	} else {
		idCache = identity.NewMemoryCache(cfg.Identity.CacheTTL)
	}
	defer func() { _ = idCache.Close() }()

	sessions, err := store.New(&cfg.Database, cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open session store")
	}
	defer func() { _ = sessions.Close() }()

	tokens := xbl.StaticTokenProvider(cfg.Upstream.Token)
	presence := xbl.NewBreakerPresenceSource(
		xbl.NewPresenceClient(cfg.Upstream.PresenceURL, cfg.Upstream.Timeout, tokens))
	profiles := xbl.NewProfileClient(cfg.Upstream.ProfileURL, cfg.Upstream.Timeout, tokens)

	resolver := identity.NewResolver(idCache, profiles, profiles, identity.ResolverConfig{
		BatchSize:       cfg.Identity.BatchSize,
		MaxConcurrent:   cfg.Identity.MaxConcurrent,
		FallbackTimeout: cfg.Identity.FallbackTimeout,
		FallbackRate:    cfg.Identity.FallbackRate,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher, cleanupNATS := setupTransport(cfg)
	defer cleanupNATS()

	dispatcher := dispatch.NewDispatcher(publisher)
	manager := tracker.NewManager(cfg.Tracker, presence, resolver, sessions, dispatcher)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(supervisor.NewTrackerService(manager, cfg.Realms))
	tree.AddPipelineService(supervisor.NewSweeperService(store.NewSweeper(sessions, cfg.Store.SweepInterval)))

	if cfg.Server.Enabled {
		handler := api.NewHandler(sessions, manager, resolver)
		tree.AddAPIService(supervisor.NewHTTPService(api.NewServer(cfg.Server, handler)))
	}

	errCh := tree.ServeBackground(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		logging.Info().Str("signal", s.String()).Msg("Shutting down")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logging.Fatal().Err(err).Msg("Supervision tree failed")
		}
	}

	logging.Info().Msg("Realmwatch stopped")
}

// setupTransport builds the event transport: the in-process pub/sub by
// default, NATS JetStream (external or embedded) when enabled. The returned
// cleanup stops the embedded server, if any.
func setupTransport(cfg *config.Config) (message.Publisher, func()) {
	wmLogger := dispatch.NewWatermillLogger(logging.Logger())

	if !cfg.NATS.Enabled {
		pubsub := dispatch.NewGoChannelPubSub(wmLogger)
		return pubsub, func() { _ = pubsub.Close() }
	}

	url := cfg.NATS.URL
	var embedded *dispatch.EmbeddedServer
	if cfg.NATS.EmbeddedServer {
		srv, err := dispatch.NewEmbeddedServer(cfg.NATS.StoreDir)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		embedded = srv
		url = srv.ClientURL()
	}

	publisher, err := dispatch.NewNATSPublisher(url, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Str("url", url).Msg("Failed to connect NATS publisher")
	}

	logging.Info().Str("url", url).Bool("embedded", embedded != nil).Msg("NATS event transport ready")

	return publisher, func() {
		_ = publisher.Close()
		if embedded != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), supervisor.DefaultTreeConfig().ShutdownTimeout)
			defer cancel()
			_ = embedded.Shutdown(shutdownCtx)
		}
	}
}
