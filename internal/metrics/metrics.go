// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

// Package metrics provides Prometheus instrumentation for Realmwatch.
//
// Metrics are exposed at the /metrics endpoint in Prometheus text format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll cycle metrics

	PollCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realmwatch_poll_cycles_total",
			Help: "Total poll cycles per realm and outcome",
		},
		[]string{"realm_id", "result"}, // result: ok, error, unreachable
	)

	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realmwatch_poll_duration_seconds",
			Help:    "Duration of one full poll cycle (fetch, resolve, persist, dispatch)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"realm_id"},
	)

	OnlinePlayers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realmwatch_online_players",
			Help: "Players currently considered online per realm",
		},
		[]string{"realm_id"},
	)

	RealmsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realmwatch_realms_tracked",
			Help: "Realms with an active poller",
		},
	)

	// Identity resolver metrics

	ResolverLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realmwatch_resolver_lookups_total",
			Help: "Identity lookups by tier and outcome",
		},
		[]string{"tier", "result"}, // tier: bulk, fallback; result: ok, invalid, rate_limited, error
	)

	ResolverUnresolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realmwatch_resolver_unresolved_total",
			Help: "Identifiers that failed both resolution tiers",
		},
	)

	IdentityCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realmwatch_identity_cache_hits_total",
			Help: "Identity cache hits",
		},
	)

	IdentityCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realmwatch_identity_cache_misses_total",
			Help: "Identity cache misses",
		},
	)

	// Session store metrics

	SessionsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realmwatch_sessions_opened_total",
			Help: "New player session streaks opened",
		},
		[]string{"realm_id"},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realmwatch_sessions_closed_total",
			Help: "Player session streaks closed, by cause",
		},
		[]string{"realm_id", "cause"}, // cause: left, unreachable, stale_sweep
	)

	SweepForcedClosures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realmwatch_sweep_forced_closures_total",
			Help: "Online sessions force-closed by the stale sweep",
		},
	)

	SweepPrunedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realmwatch_sweep_pruned_rows_total",
			Help: "Closed session rows deleted by retention pruning",
		},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realmwatch_db_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realmwatch_db_query_errors_total",
			Help: "Failed DuckDB queries",
		},
		[]string{"operation"},
	)

	// Event dispatch metrics

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realmwatch_events_published_total",
			Help: "Events published per topic",
		},
		[]string{"topic"},
	)

	DispatchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realmwatch_dispatch_failures_total",
			Help: "Per-subscriber delivery failures",
		},
		[]string{"topic"},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realmwatch_circuit_breaker_state",
			Help: "Circuit breaker state: 0=closed, 1=open, 2=half-open",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realmwatch_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realmwatch_circuit_breaker_requests_total",
			Help: "Requests through circuit breakers by outcome",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)
)
