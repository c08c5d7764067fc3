// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package identity

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/rs/zerolog"

	"github.com/tomtom215/realmwatch/internal/logging"
	"github.com/tomtom215/realmwatch/internal/metrics"
	"github.com/tomtom215/realmwatch/internal/xbl"
)

// Result is the outcome of one resolution request. Partial results are
// normal: Unresolved lists identifiers that failed both tiers.
type Result struct {
	Gamertags  map[string]string
	Unresolved []string
}

// Placeholder derives a display string for an identifier that could not be
// resolved, so downstream consumers never render a raw xuid.
func Placeholder(xuid string) string {
	if len(xuid) <= 4 {
		return "Player-" + xuid
	}
	return "Player-" + xuid[len(xuid)-4:]
}

// ResolverConfig bounds the resolver's upstream usage.
type ResolverConfig struct {
	// BatchSize is the maximum identifiers per bulk call.
	BatchSize int

	// MaxConcurrent bounds resolver invocations touching the upstream,
	// system-wide across all pollers.
	MaxConcurrent int

	// FallbackTimeout bounds each per-identifier fallback call.
	FallbackTimeout time.Duration

	// FallbackRate paces fallback calls in requests per second.
	FallbackRate float64
}

// Resolver resolves xuids to gamertags: cache first, then bulk lookup, then
// a per-identifier fallback when the bulk tier is rate-limited or down.
// Every successfully resolved pair is written to the cache before return.
type Resolver struct {
	cache    Cache
	bulk     xbl.BulkIdentitySource
	fallback xbl.FallbackIdentitySource

	batchSize       int
	fallbackTimeout time.Duration

	// sem bounds concurrent upstream resolution system-wide. Cache-only
	// lookups never touch it.
	sem chan struct{}

	// limiter paces the fallback tier, which has stricter upstream limits
	// than the bulk tier.
	limiter *rate.Limiter

	log zerolog.Logger
}

// NewResolver creates a resolver over the given cache and upstream sources.
func NewResolver(c Cache, bulk xbl.BulkIdentitySource, fallback xbl.FallbackIdentitySource, cfg ResolverConfig) *Resolver {
	if cfg.BatchSize <= 0 || cfg.BatchSize > xbl.MaxBulkLookup {
		cfg.BatchSize = xbl.MaxBulkLookup
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = 10 * time.Second
	}
	if cfg.FallbackRate <= 0 {
		cfg.FallbackRate = 2.0
	}

	return &Resolver{
		cache:           c,
		bulk:            bulk,
		fallback:        fallback,
		batchSize:       cfg.BatchSize,
		fallbackTimeout: cfg.FallbackTimeout,
		sem:             make(chan struct{}, cfg.MaxConcurrent),
		limiter:         rate.NewLimiter(rate.Limit(cfg.FallbackRate), 1),
		log:             logging.With().Str("component", "resolver").Logger(),
	}
}

// Resolve maps the given xuids to gamertags. Cached identifiers are served
// without any upstream call; the rest go through the bulk tier with the
// fallback tier as a one-shot safety net. Identifiers failing both tiers are
// returned in Result.Unresolved rather than failing the request.
//
// The only returned error is context cancellation while waiting for the
// concurrency slot.
func (r *Resolver) Resolve(ctx context.Context, xuids []string) (*Result, error) {
	result := &Result{Gamertags: make(map[string]string, len(xuids))}

	var misses []string
	seen := make(map[string]struct{}, len(xuids))
	for _, xuid := range xuids {
		if xuid == "" {
			continue
		}
		if _, dup := seen[xuid]; dup {
			continue
		}
		seen[xuid] = struct{}{}

		if gamertag, ok := r.cache.Get(xuid); ok {
			result.Gamertags[xuid] = gamertag
			continue
		}
		misses = append(misses, xuid)
	}
	if len(misses) == 0 {
		return result, nil
	}
	// Deterministic batch composition regardless of input order.
	sort.Strings(misses)

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("resolver: waiting for slot: %w", ctx.Err())
	}
	defer func() { <-r.sem }()

	resolved, unresolved := r.resolveUpstream(ctx, misses)

	if len(resolved) > 0 {
		r.cache.PutAll(resolved)
		for xuid, gamertag := range resolved {
			result.Gamertags[xuid] = gamertag
		}
	}
	result.Unresolved = unresolved
	metrics.ResolverUnresolved.Add(float64(len(unresolved)))
	return result, nil
}

// ResolveFresh bypasses the cache to fetch the full profile for one xuid,
// for call sites needing auxiliary data the cache does not carry. The
// refreshed gamertag is still written through.
func (r *Resolver) ResolveFresh(ctx context.Context, xuid string) (*xbl.Profile, error) {
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("resolver: waiting for slot: %w", ctx.Err())
	}
	defer func() { <-r.sem }()

	callCtx, cancel := context.WithTimeout(ctx, r.fallbackTimeout)
	defer cancel()

	profile, err := r.fallback.ResolveProfile(callCtx, xuid)
	if err != nil {
		return nil, err
	}
	r.cache.Put(profile.XUID, profile.Gamertag)
	return profile, nil
}

// resolveUpstream runs the bulk tier and, on cooldown or bulk failure, the
// per-identifier fallback for whatever remains.
func (r *Resolver) resolveUpstream(ctx context.Context, misses []string) (map[string]string, []string) {
	resolved := make(map[string]string, len(misses))
	var unresolved []string
	var needFallback []string

	for start := 0; start < len(misses); start += r.batchSize {
		end := start + r.batchSize
		if end > len(misses) {
			end = len(misses)
		}
		batch := append([]string(nil), misses[start:end]...)

		pairs, bad, failed := r.resolveBatch(ctx, batch)
		for xuid, gamertag := range pairs {
			resolved[xuid] = gamertag
		}
		unresolved = append(unresolved, bad...)

		if len(failed) > 0 {
			// Bulk tier is cooling down or broken; everything not yet
			// resolved goes through the fallback tier, including the
			// batches we have not attempted.
			needFallback = append(needFallback, failed...)
			needFallback = append(needFallback, misses[end:]...)
			break
		}
	}

	for _, xuid := range needFallback {
		gamertag, err := r.resolveOne(ctx, xuid)
		if err != nil {
			r.log.Debug().Err(err).Str("xuid", xuid).Msg("Fallback resolution failed")
			unresolved = append(unresolved, xuid)
			continue
		}
		resolved[xuid] = gamertag
	}

	return resolved, unresolved
}

// resolveBatch runs one bulk batch, dropping individually-invalid
// identifiers and retrying until the batch succeeds or the bulk tier fails.
// Returns resolved pairs, invalid identifiers, and - when the bulk tier is
// unavailable - the identifiers still needing the fallback.
func (r *Resolver) resolveBatch(ctx context.Context, batch []string) (pairs map[string]string, invalid, failed []string) {
	for len(batch) > 0 {
		res, err := r.bulk.BulkResolve(ctx, batch)
		if err == nil {
			metrics.ResolverLookups.WithLabelValues("bulk", "ok").Add(float64(len(res)))
			// Identifiers the upstream silently omitted are unresolved,
			// not retried: the batch itself succeeded.
			for _, xuid := range batch {
				if _, ok := res[xuid]; !ok {
					invalid = append(invalid, xuid)
				}
			}
			return res, invalid, nil
		}

		if bad, ok := xbl.AsInvalidXUID(err); ok {
			metrics.ResolverLookups.WithLabelValues("bulk", "invalid").Inc()
			trimmed := removeXUID(batch, bad)
			if len(trimmed) == len(batch) {
				// Upstream named an identifier we did not send; retrying
				// would loop forever. Treat as a batch failure.
				r.log.Warn().Str("xuid", bad).Msg("Bulk lookup rejected unknown identifier")
				return nil, invalid, batch
			}
			invalid = append(invalid, bad)
			batch = trimmed
			continue
		}

		if xbl.IsRateLimited(err) {
			metrics.ResolverLookups.WithLabelValues("bulk", "rate_limited").Inc()
			r.log.Info().Int("remaining", len(batch)).Msg("Bulk lookup rate limited, using fallback")
		} else {
			metrics.ResolverLookups.WithLabelValues("bulk", "error").Inc()
			r.log.Warn().Err(err).Int("remaining", len(batch)).Msg("Bulk lookup failed, using fallback")
		}
		return nil, invalid, batch
	}
	return map[string]string{}, invalid, nil
}

// resolveOne resolves a single identifier via the fallback tier, paced by
// the rate limiter and bounded by the per-call timeout.
func (r *Resolver) resolveOne(ctx context.Context, xuid string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("fallback pacing: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.fallbackTimeout)
	defer cancel()

	gamertag, err := r.fallback.Resolve(callCtx, xuid)
	if err != nil {
		metrics.ResolverLookups.WithLabelValues("fallback", "error").Inc()
		return "", err
	}
	metrics.ResolverLookups.WithLabelValues("fallback", "ok").Inc()
	return gamertag, nil
}

// removeXUID returns batch without the given identifier.
func removeXUID(batch []string, xuid string) []string {
	out := batch[:0:0]
	for _, x := range batch {
		if x != xuid {
			out = append(out, x)
		}
	}
	return out
}
