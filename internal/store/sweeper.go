// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/realmwatch/internal/logging"
)

// Sweeper runs the stale sweep and retention prune on a fixed schedule.
type Sweeper struct {
	store    *Store
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewSweeper creates a sweeper for the store.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		log:      logging.With().Str("component", "sweeper").Logger(),
	}
}

// Start runs one sweep immediately, then repeats on the interval.
func (w *Sweeper) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.mu.Unlock()

	w.log.Info().Dur("interval", w.interval).Msg("Starting session sweeper")

	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop stops the sweep loop and waits for an in-flight sweep to finish.
func (w *Sweeper) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopChan)
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Info().Msg("Session sweeper stopped")
}

func (w *Sweeper) run(ctx context.Context) {
	defer w.wg.Done()

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	if err := w.store.Sweep(ctx); err != nil {
		w.log.Error().Err(err).Msg("Sweep failed")
	}
}
