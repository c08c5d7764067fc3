// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package tracker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/realmwatch/internal/config"
	"github.com/tomtom215/realmwatch/internal/identity"
	"github.com/tomtom215/realmwatch/internal/logging"
	"github.com/tomtom215/realmwatch/internal/metrics"
	"github.com/tomtom215/realmwatch/internal/models"
	"github.com/tomtom215/realmwatch/internal/xbl"
)

// Poller is the exclusive owner of one Realm's online set. It fetches a
// presence snapshot on a fixed cadence, computes the joined/left delta
// against the previous cycle, persists session changes, and hands the delta
// to the event sink.
//
// All poll-cycle state (online set, failure counter) is touched only from
// the poller's own goroutine.
type Poller struct {
	realm    config.RealmConfig
	cfg      config.TrackerConfig
	source   xbl.PresenceSource
	resolver Resolver
	store    SessionWriter
	events   EventSink

	// onInvalidate is called at most once, when consecutive failed cycles
	// exceed the configured limit and tracking is disabled.
	onInvalidate func(realmID string)

	log zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Cycle-local state, owned by the poll goroutine.
	online   map[string]struct{}
	failures int
	disabled bool
}

// NewPoller creates a poller for one Realm. onInvalidate may be nil.
func NewPoller(realm config.RealmConfig, cfg config.TrackerConfig, source xbl.PresenceSource,
	resolver Resolver, store SessionWriter, events EventSink, onInvalidate func(string)) *Poller {
	return &Poller{
		realm:        realm,
		cfg:          cfg,
		source:       source,
		resolver:     resolver,
		store:        store,
		events:       events,
		onInvalidate: onInvalidate,
		log:          logging.With().Str("component", "poller").Str("realm_id", realm.ID).Logger(),
		online:       make(map[string]struct{}),
	}
}

// Start begins the polling loop. Calling Start on a running poller is a
// no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	p.log.Info().Dur("interval", p.cfg.PollInterval).Msg("Starting realm poller")

	p.wg.Add(1)
	go p.pollLoop(ctx)

	return nil
}

// Stop stops the polling loop and waits for the in-flight cycle to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info().Msg("Realm poller stopped")
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	// Spread the initial polls of many realms across the interval so they
	// do not hit the upstream in lockstep.
	//nolint:gosec // G404: jitter does not need a cryptographic source
	jitter := time.Duration(rand.Int63n(int64(p.cfg.PollInterval)))
	select {
	case <-ctx.Done():
		return
	case <-p.stopChan:
		return
	case <-time.After(jitter):
	}

	if p.cycle(ctx) {
		return
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			if p.cycle(ctx) {
				return
			}
		}
	}
}

// cycle runs one poll. It returns true when tracking for the Realm has been
// disabled and the loop should exit.
func (p *Poller) cycle(ctx context.Context) (done bool) {
	start := time.Now()
	defer func() {
		metrics.PollDuration.WithLabelValues(p.realm.ID).Observe(time.Since(start).Seconds())
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.SnapshotTimeout)
	records, err := p.source.GetRealmPlayers(fetchCtx, p.realm.ID)
	cancel()

	observedAt := time.Now().UTC()

	if err != nil {
		metrics.PollCycles.WithLabelValues(p.realm.ID, "error").Inc()
		p.log.Warn().Err(err).Msg("Poll cycle failed")
		p.raiseUnreachable(ctx, observedAt)
		p.failures++
		return p.escalateIfNeeded(ctx)
	}

	// A reachable upstream resets the escalation counter even when the
	// snapshot is empty.
	p.failures = 0

	// A snapshot with no records at all for a previously-populated Realm is
	// indistinguishable from an upstream outage, so it raises the
	// unreachable condition instead of a plain all-left delta. Clearing
	// the online set guarantees the event fires once per outage, not once
	// per empty cycle. A snapshot that still carries records with nobody
	// in-game is a quiet Realm, not an outage, and flows through the
	// normal delta path below.
	if len(records) == 0 {
		if len(p.online) > 0 {
			metrics.PollCycles.WithLabelValues(p.realm.ID, "unreachable").Inc()
			p.raiseUnreachable(ctx, observedAt)
		} else {
			metrics.PollCycles.WithLabelValues(p.realm.ID, "ok").Inc()
		}
		metrics.OnlinePlayers.WithLabelValues(p.realm.ID).Set(0)
		return false
	}

	cur := walkSnapshot(records, observedAt.Add(-p.cfg.TrackingWindow))

	joined, left := computeDelta(p.online, cur)
	p.online = cur

	metrics.PollCycles.WithLabelValues(p.realm.ID, "ok").Inc()
	metrics.OnlinePlayers.WithLabelValues(p.realm.ID).Set(float64(len(cur)))

	if err := p.store.UpsertPresence(ctx, p.realm.ID, sortedSet(cur), observedAt); err != nil {
		p.log.Error().Err(err).Msg("Failed to persist presence")
	}
	if len(left) > 0 {
		if err := p.store.CloseSessions(ctx, p.realm.ID, left, models.CloseCauseLeft); err != nil {
			p.log.Error().Err(err).Msg("Failed to close sessions")
		}
	}

	if len(joined) == 0 && len(left) == 0 {
		return false
	}

	delta := &models.Delta{
		RealmID:    p.realm.ID,
		Joined:     joined,
		Left:       left,
		ObservedAt: observedAt,
	}
	res := p.resolveNames(ctx, append(append([]string{}, joined...), left...))
	p.events.DispatchDelta(ctx, delta, res)

	p.log.Debug().
		Int("online", len(cur)).
		Int("joined", len(joined)).
		Int("left", len(left)).
		Msg("Poll cycle complete")

	return false
}

// raiseUnreachable closes out every previously-online player and fires a
// single unreachable event. A no-op when nothing was online, which is what
// keeps repeated outage cycles silent.
func (p *Poller) raiseUnreachable(ctx context.Context, observedAt time.Time) {
	if len(p.online) == 0 {
		return
	}

	wasOnline := sortedSet(p.online)
	p.online = make(map[string]struct{})

	metrics.OnlinePlayers.WithLabelValues(p.realm.ID).Set(0)

	if err := p.store.CloseSessions(ctx, p.realm.ID, wasOnline, models.CloseCauseUnreachable); err != nil {
		p.log.Error().Err(err).Msg("Failed to close sessions for unreachable realm")
	}

	res := p.resolveNames(ctx, wasOnline)
	p.events.DispatchUnreachable(ctx, p.realm.ID, wasOnline, res, observedAt)

	p.log.Warn().Int("was_online", len(wasOnline)).Msg("Realm unreachable")
}

// escalateIfNeeded disables tracking after too many consecutive failed
// cycles and notifies the owner. Returns true when the poller should stop.
func (p *Poller) escalateIfNeeded(ctx context.Context) bool {
	if p.disabled {
		return true
	}
	if p.failures < p.cfg.MaxConsecutiveFailures {
		return false
	}
	p.disabled = true

	p.log.Error().
		Int("consecutive_failures", p.failures).
		Msg("Realm unreachable too long, disabling tracking")

	p.events.DispatchInvalidated(ctx, p.realm.ID)
	if p.onInvalidate != nil {
		p.onInvalidate(p.realm.ID)
	}
	return true
}

// resolveNames resolves display names best effort; a resolver failure
// degrades to placeholders downstream rather than aborting the cycle.
func (p *Poller) resolveNames(ctx context.Context, xuids []string) *identity.Result {
	if p.resolver == nil || len(xuids) == 0 {
		return nil
	}
	res, err := p.resolver.Resolve(ctx, xuids)
	if err != nil {
		p.log.Warn().Err(err).Msg("Identity resolution failed, using placeholders")
		return nil
	}
	return res
}
