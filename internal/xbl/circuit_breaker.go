// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package xbl

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/realmwatch/internal/logging"
	"github.com/tomtom215/realmwatch/internal/metrics"
	"github.com/tomtom215/realmwatch/internal/models"
)

// BreakerPresenceSource wraps a PresenceSource with a circuit breaker.
// When the upstream presence API degrades, the breaker opens and poll cycles
// fail fast instead of stacking up slow requests across all Realms.
//
// The breaker uses real time for its interval and timeout calculations; unit
// tests should exercise the wrapped source directly.
type BreakerPresenceSource struct {
	source PresenceSource
	cb     *gobreaker.CircuitBreaker[[]models.PresenceRecord]
	name   string
}

// NewBreakerPresenceSource wraps source with a circuit breaker.
// The breaker opens at a 60% failure rate over at least 10 requests in a
// one-minute window, and probes recovery after two minutes.
func NewBreakerPresenceSource(source PresenceSource) *BreakerPresenceSource {
	const name = "presence-api"

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[[]models.PresenceRecord](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		// Rate limiting is back-pressure, not an outage; counting it as a
		// breaker failure would open the circuit during routine throttling.
		IsSuccessful: func(err error) bool {
			return err == nil || IsRateLimited(err) || errors.Is(err, ErrRealmNotFound)
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerPresenceSource{source: source, cb: cb, name: name}
}

// GetRealmPlayers implements PresenceSource.
func (b *BreakerPresenceSource) GetRealmPlayers(ctx context.Context, realmID string) ([]models.PresenceRecord, error) {
	records, err := b.cb.Execute(func() ([]models.PresenceRecord, error) {
		return b.source.GetRealmPlayers(ctx, realmID)
	})

	switch {
	case err == nil:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "success").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "rejected").Inc()
	default:
		metrics.CircuitBreakerRequests.WithLabelValues(b.name, "failure").Inc()
	}

	return records, err
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return -1
	}
}
