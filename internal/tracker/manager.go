// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package tracker

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/realmwatch/internal/config"
	"github.com/tomtom215/realmwatch/internal/logging"
	"github.com/tomtom215/realmwatch/internal/metrics"
	"github.com/tomtom215/realmwatch/internal/xbl"
)

// Manager owns one Poller per configured Realm and tears them down together.
// When a poller escalates past its failure limit the manager drops it and
// keeps the remaining realms running.
type Manager struct {
	cfg      config.TrackerConfig
	source   xbl.PresenceSource
	resolver Resolver
	store    SessionWriter
	events   EventSink

	log zerolog.Logger

	mu      sync.Mutex
	running bool
	pollers map[string]*Poller
}

// NewManager creates a manager for the given realms. Pollers are created at
// Start, not here, so a manager can be restarted by a supervisor.
func NewManager(cfg config.TrackerConfig, source xbl.PresenceSource, resolver Resolver,
	store SessionWriter, events EventSink) *Manager {
	return &Manager{
		cfg:      cfg,
		source:   source,
		resolver: resolver,
		store:    store,
		events:   events,
		log:      logging.With().Str("component", "tracker").Logger(),
		pollers:  make(map[string]*Poller),
	}
}

// Start launches a poller for every Realm. Already-tracked realms are left
// untouched, so Start is safe to call again after adding realms.
func (m *Manager) Start(ctx context.Context, realms []config.RealmConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true

	for _, realm := range realms {
		if _, ok := m.pollers[realm.ID]; ok {
			continue
		}
		p := NewPoller(realm, m.cfg, m.source, m.resolver, m.store, m.events, m.dropRealm)
		if err := p.Start(ctx); err != nil {
			return err
		}
		m.pollers[realm.ID] = p
	}

	metrics.RealmsTracked.Set(float64(len(m.pollers)))
	m.log.Info().Int("realms", len(m.pollers)).Msg("Tracker started")
	return nil
}

// Stop stops every poller and waits for in-flight cycles to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	pollers := make([]*Poller, 0, len(m.pollers))
	for _, p := range m.pollers {
		pollers = append(pollers, p)
	}
	m.mu.Unlock()

	for _, p := range pollers {
		p.Stop()
	}
	m.log.Info().Msg("Tracker stopped")
}

// TrackedRealms returns the IDs of realms with an active poller, sorted.
func (m *Manager) TrackedRealms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.pollers))
	for id := range m.pollers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// dropRealm removes an invalidated Realm's poller. Called from the poller's
// own goroutine as its final act, so the poller is not stopped here (its
// loop exits on its own).
func (m *Manager) dropRealm(realmID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pollers[realmID]; !ok {
		return
	}
	delete(m.pollers, realmID)
	metrics.RealmsTracked.Set(float64(len(m.pollers)))
	m.log.Warn().Str("realm_id", realmID).Msg("Realm tracking disabled")
}
