// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package models

import (
	"time"

	"github.com/google/uuid"
)

// PlayerSession is one continuous online streak of a player on a Realm.
//
// Invariants:
//   - exactly one session per (RealmID, XUID) is Online at any time
//   - JoinedAt is set at streak start and never changes
//   - LastSeen advances monotonically while Online, freezes when the
//     streak closes
type PlayerSession struct {
	SessionID uuid.UUID `json:"session_id"`
	RealmID   string    `json:"realm_id"`
	XUID      string    `json:"xuid"`
	Online    bool      `json:"online"`
	LastSeen  time.Time `json:"last_seen"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Close causes recorded when a session streak ends.
const (
	// CloseCauseLeft means the player disappeared from a healthy snapshot.
	CloseCauseLeft = "left"

	// CloseCauseUnreachable means the Realm stopped responding while the
	// player was online.
	CloseCauseUnreachable = "unreachable"

	// CloseCauseStale means the stale sweep force-closed the session after
	// its LastSeen stopped advancing.
	CloseCauseStale = "stale_sweep"
)

// Interval is a closed playtime span derived from a session's JoinedAt and
// LastSeen (or the current time for a still-open session).
type Interval struct {
	XUID  string
	Start time.Time
	End   time.Time
}

// Minutes returns the whole minutes covered by the interval, computed with
// integer-second arithmetic.
func (iv Interval) Minutes() int64 {
	secs := iv.End.Unix() - iv.Start.Unix()
	if secs <= 0 {
		return 0
	}
	return secs / 60
}
