// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

/*
Package tracker polls the upstream presence API per Realm and turns raw
presence snapshots into joined/left deltas.

Each tracked Realm gets its own Poller goroutine that owns that Realm's
online set exclusively, so no two cycles for the same Realm can ever race.
The Manager starts one Poller per configured Realm and tears them down
together on shutdown.
*/
package tracker

import (
	"context"
	"sort"
	"time"

	"github.com/tomtom215/realmwatch/internal/identity"
	"github.com/tomtom215/realmwatch/internal/models"
)

// Resolver maps xuids to gamertags, best effort.
type Resolver interface {
	Resolve(ctx context.Context, xuids []string) (*identity.Result, error)
}

// SessionWriter persists poll cycle outcomes as player session streaks.
type SessionWriter interface {
	// UpsertPresence records every currently-online xuid for the Realm,
	// opening a new streak where none is active and advancing LastSeen
	// where one is.
	UpsertPresence(ctx context.Context, realmID string, online []string, observedAt time.Time) error

	// CloseSessions ends the active streaks for the given xuids. LastSeen
	// is left frozen at its last observed value.
	CloseSessions(ctx context.Context, realmID string, xuids []string, cause string) error
}

// EventSink receives the typed events produced by poll cycles.
type EventSink interface {
	DispatchDelta(ctx context.Context, delta *models.Delta, res *identity.Result)
	DispatchUnreachable(ctx context.Context, realmID string, wasOnline []string, res *identity.Result, observedAt time.Time)
	DispatchInvalidated(ctx context.Context, realmID string)
}

// walkSnapshot extracts the online set from an upstream snapshot.
//
// The upstream orders records most-recent-activity-first and only the front
// of the list is meaningfully ordered, so the walk stops at the first record
// older than the cutoff. Only in-game records count as online; browsing and
// other noise states are skipped, not-in-realm records are walked but never
// counted.
func walkSnapshot(records []models.PresenceRecord, cutoff time.Time) map[string]struct{} {
	online := make(map[string]struct{})
	for i := range records {
		rec := &records[i]
		if rec.ObservedAt.Before(cutoff) {
			break
		}
		if rec.State.IsOnline() {
			online[rec.XUID] = struct{}{}
		}
	}
	return online
}

// computeDelta returns the sorted joined and left sets between two
// consecutive online sets. joined and left are always disjoint.
func computeDelta(prev, cur map[string]struct{}) (joined, left []string) {
	for xuid := range cur {
		if _, ok := prev[xuid]; !ok {
			joined = append(joined, xuid)
		}
	}
	for xuid := range prev {
		if _, ok := cur[xuid]; !ok {
			left = append(left, xuid)
		}
	}
	sort.Strings(joined)
	sort.Strings(left)
	return joined, left
}

// sortedSet returns the set's members in ascending order.
func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for xuid := range set {
		out = append(out, xuid)
	}
	sort.Strings(out)
	return out
}
