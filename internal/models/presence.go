// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

// Package models defines the core data types shared across Realmwatch:
// presence records from the upstream API, computed deltas, and persisted
// player sessions.
package models

import "time"

// PresenceState classifies a player's activity as reported by the upstream
// presence API. The upstream vocabulary is open-ended; anything unrecognized
// decodes to StateUnknown rather than failing the snapshot.
type PresenceState int

const (
	// StateUnknown is the fail-safe for unrecognized upstream states.
	StateUnknown PresenceState = iota

	// StateInGame means the player is actively playing on the Realm.
	// This is the only state that counts as online for tracking.
	StateInGame

	// StateNotInRealm means the player is not connected to the Realm.
	StateNotInRealm

	// StateBrowsing means the player is viewing Realm metadata (invite
	// screen, member list) without playing. Treated as noise.
	StateBrowsing
)

// String returns a human-readable state name.
func (s PresenceState) String() string {
	switch s {
	case StateInGame:
		return "in_game"
	case StateNotInRealm:
		return "not_in_realm"
	case StateBrowsing:
		return "browsing"
	default:
		return "unknown"
	}
}

// ParsePresenceState decodes an upstream state string.
// Unrecognized values map to StateUnknown.
func ParsePresenceState(raw string) PresenceState {
	switch raw {
	case "InGame", "in_game":
		return StateInGame
	case "NotInRealm", "not_in_realm":
		return StateNotInRealm
	case "Browsing", "browsing", "InLobby":
		return StateBrowsing
	default:
		return StateUnknown
	}
}

// IsOnline reports whether the state counts toward the Realm online set.
func (s PresenceState) IsOnline() bool {
	return s == StateInGame
}

// IsNoise reports whether the state should be ignored entirely when walking
// a snapshot: neither playing nor definitively absent.
func (s PresenceState) IsNoise() bool {
	return s != StateInGame && s != StateNotInRealm
}

// PresenceRecord is one entry of an upstream presence snapshot.
type PresenceRecord struct {
	XUID       string        `json:"xuid"`
	State      PresenceState `json:"state"`
	ObservedAt time.Time     `json:"observed_at"`
}

// Delta is the result of reconciling one presence snapshot against the
// previous online set for a Realm.
type Delta struct {
	RealmID    string    `json:"realm_id"`
	Joined     []string  `json:"joined"`
	Left       []string  `json:"left"`
	ObservedAt time.Time `json:"observed_at"`
}

// Empty reports whether the delta carries no membership change.
func (d *Delta) Empty() bool {
	return len(d.Joined) == 0 && len(d.Left) == 0
}
