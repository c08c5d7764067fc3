// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

// Package dispatch turns computed presence deltas and Realm outages into
// typed events and broadcasts them to downstream consumers.
package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current event schema version. Increment on breaking
// changes to Event.
const SchemaVersion = 1

// EventType identifies the condition an event reports. The value doubles as
// the transport topic.
type EventType string

const (
	// EventPresenceJoined reports players that appeared on a Realm.
	EventPresenceJoined EventType = "presence.joined"

	// EventPresenceLeft reports players that left a Realm.
	EventPresenceLeft EventType = "presence.left"

	// EventRealmUnreachable reports that a Realm stopped responding.
	// Fired once per outage, not once per failed cycle.
	EventRealmUnreachable EventType = "realm.unreachable"

	// EventRealmInvalidated reports that tracking for a Realm was disabled
	// after repeated consecutive failures.
	EventRealmInvalidated EventType = "realm.invalidated"
)

// Event is the canonical notification consumed by downstream subscribers.
type Event struct {
	SchemaVersion int       `json:"schema_version"`
	EventID       string    `json:"event_id"`
	Type          EventType `json:"type"`
	RealmID       string    `json:"realm_id"`

	// XUIDs are the affected identifiers.
	XUIDs []string `json:"xuids,omitempty"`

	// Gamertags maps each affected xuid to its best-effort display name;
	// unresolved identifiers carry a placeholder, never a raw xuid.
	Gamertags map[string]string `json:"gamertags,omitempty"`

	// ObservedAt is when the underlying snapshot was taken.
	ObservedAt time.Time `json:"observed_at"`
}

// NewEvent creates an event with a unique ID and schema version.
func NewEvent(t EventType, realmID string, observedAt time.Time) *Event {
	return &Event{
		SchemaVersion: SchemaVersion,
		EventID:       uuid.New().String(),
		Type:          t,
		RealmID:       realmID,
		ObservedAt:    observedAt.UTC(),
	}
}

// Topic returns the transport topic for the event.
func (e *Event) Topic() string {
	return string(e.Type)
}
