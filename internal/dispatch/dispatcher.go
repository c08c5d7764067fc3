// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/realmwatch/internal/identity"
	"github.com/tomtom215/realmwatch/internal/logging"
	"github.com/tomtom215/realmwatch/internal/metrics"
	"github.com/tomtom215/realmwatch/internal/models"
)

// Subscriber is an in-process downstream consumer of presence events
// (announcement logic, notification delivery, and so on).
//
// Delivery is fire-and-forget with per-subscriber isolation: a returned
// error or panic is logged and counted and never affects other subscribers
// or the poll cycle that produced the event.
type Subscriber interface {
	Name() string
	HandleEvent(ctx context.Context, ev *Event) error
}

// Dispatcher broadcasts typed events to registered subscribers and,
// when a transport publisher is configured, to external consumers.
type Dispatcher struct {
	mu        sync.RWMutex
	subs      []Subscriber
	publisher message.Publisher

	log zerolog.Logger
}

// NewDispatcher creates a dispatcher publishing to the given transport.
// publisher may be nil for purely in-process deployments.
func NewDispatcher(publisher message.Publisher) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		log:       logging.With().Str("component", "dispatch").Logger(),
	}
}

// NewGoChannelPubSub creates the default in-process transport. Each
// subscription gets its own buffered channel, so a slow external consumer
// does not block publication.
func NewGoChannelPubSub(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, logger)
}

// Register adds a subscriber. Safe to call while dispatching.
func (d *Dispatcher) Register(s Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subs = append(d.subs, s)
}

// DispatchDelta publishes PresenceJoined and PresenceLeft events for a
// non-empty delta. Display names come from res, with placeholders for
// identifiers the resolver could not serve.
func (d *Dispatcher) DispatchDelta(ctx context.Context, delta *models.Delta, res *identity.Result) {
	if len(delta.Joined) > 0 {
		ev := NewEvent(EventPresenceJoined, delta.RealmID, delta.ObservedAt)
		ev.XUIDs = delta.Joined
		ev.Gamertags = displayNames(delta.Joined, res)
		d.broadcast(ctx, ev)
	}
	if len(delta.Left) > 0 {
		ev := NewEvent(EventPresenceLeft, delta.RealmID, delta.ObservedAt)
		ev.XUIDs = delta.Left
		ev.Gamertags = displayNames(delta.Left, res)
		d.broadcast(ctx, ev)
	}
}

// DispatchUnreachable publishes a single RealmUnreachable event carrying
// everyone who was online when the Realm went dark.
func (d *Dispatcher) DispatchUnreachable(ctx context.Context, realmID string, wasOnline []string, res *identity.Result, observedAt time.Time) {
	ev := NewEvent(EventRealmUnreachable, realmID, observedAt)
	ev.XUIDs = wasOnline
	ev.Gamertags = displayNames(wasOnline, res)
	d.broadcast(ctx, ev)
}

// DispatchInvalidated publishes a RealmInvalidated event after tracking for
// a Realm is disabled.
func (d *Dispatcher) DispatchInvalidated(ctx context.Context, realmID string) {
	d.broadcast(ctx, NewEvent(EventRealmInvalidated, realmID, time.Now()))
}

// broadcast delivers the event to every subscriber and the transport.
// Failures are isolated per destination and reported individually.
func (d *Dispatcher) broadcast(ctx context.Context, ev *Event) {
	metrics.EventsPublished.WithLabelValues(ev.Topic()).Inc()

	d.mu.RLock()
	subs := make([]Subscriber, len(d.subs))
	copy(subs, d.subs)
	d.mu.RUnlock()

	for _, sub := range subs {
		d.deliver(ctx, sub, ev)
	}

	if d.publisher != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			d.log.Error().Err(err).Str("event_id", ev.EventID).Msg("Failed to marshal event")
			return
		}
		msg := message.NewMessage(ev.EventID, payload)
		if err := d.publisher.Publish(ev.Topic(), msg); err != nil {
			metrics.DispatchFailures.WithLabelValues(ev.Topic()).Inc()
			d.log.Error().Err(err).Str("topic", ev.Topic()).Str("event_id", ev.EventID).
				Msg("Failed to publish event to transport")
		}
	}
}

// deliver invokes one subscriber with panic and error isolation.
func (d *Dispatcher) deliver(ctx context.Context, sub Subscriber, ev *Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatchFailures.WithLabelValues(ev.Topic()).Inc()
			d.log.Error().Str("subscriber", sub.Name()).Str("topic", ev.Topic()).
				Interface("panic", r).Msg("Subscriber panicked handling event")
		}
	}()

	if err := sub.HandleEvent(ctx, ev); err != nil {
		metrics.DispatchFailures.WithLabelValues(ev.Topic()).Inc()
		d.log.Warn().Err(err).Str("subscriber", sub.Name()).Str("topic", ev.Topic()).
			Str("event_id", ev.EventID).Msg("Subscriber failed to handle event")
	}
}

// displayNames builds the best-effort gamertag map for the given xuids.
func displayNames(xuids []string, res *identity.Result) map[string]string {
	names := make(map[string]string, len(xuids))
	for _, xuid := range xuids {
		if res != nil {
			if gt, ok := res.Gamertags[xuid]; ok {
				names[xuid] = gt
				continue
			}
		}
		names[xuid] = identity.Placeholder(xuid)
	}
	return names
}
