// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/realmwatch/internal/config"
	"github.com/tomtom215/realmwatch/internal/identity"
	"github.com/tomtom215/realmwatch/internal/models"
)

// fakeSource returns scripted snapshots, one per call, repeating the last.
type fakeSource struct {
	mu        sync.Mutex
	responses []snapshotResponse
	calls     int
}

type snapshotResponse struct {
	records []models.PresenceRecord
	err     error
}

func (s *fakeSource) GetRealmPlayers(_ context.Context, _ string) ([]models.PresenceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	r := s.responses[idx]
	return r.records, r.err
}

type closeCall struct {
	xuids []string
	cause string
}

// fakeStore records persistence calls.
type fakeStore struct {
	mu      sync.Mutex
	upserts [][]string
	closes  []closeCall
}

func (s *fakeStore) UpsertPresence(_ context.Context, _ string, online []string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, append([]string(nil), online...))
	return nil
}

func (s *fakeStore) CloseSessions(_ context.Context, _ string, xuids []string, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, closeCall{xuids: append([]string(nil), xuids...), cause: cause})
	return nil
}

// fakeSink records dispatched events.
type fakeSink struct {
	mu          sync.Mutex
	deltas      []*models.Delta
	unreachable [][]string
	invalidated []string
}

func (s *fakeSink) DispatchDelta(_ context.Context, delta *models.Delta, _ *identity.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, delta)
}

func (s *fakeSink) DispatchUnreachable(_ context.Context, _ string, wasOnline []string, _ *identity.Result, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unreachable = append(s.unreachable, append([]string(nil), wasOnline...))
}

func (s *fakeSink) DispatchInvalidated(_ context.Context, realmID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = append(s.invalidated, realmID)
}

func testTrackerConfig() config.TrackerConfig {
	return config.TrackerConfig{
		PollInterval:           time.Second,
		SnapshotTimeout:        5 * time.Second,
		TrackingWindow:         10 * time.Minute,
		MaxConsecutiveFailures: 3,
	}
}

func inGame(xuid string) models.PresenceRecord {
	return models.PresenceRecord{XUID: xuid, State: models.StateInGame, ObservedAt: time.Now().UTC()}
}

func newTestPoller(source *fakeSource, store *fakeStore, sink *fakeSink, onInvalidate func(string)) *Poller {
	realm := config.RealmConfig{ID: "realm-1", Name: "Test Realm"}
	return NewPoller(realm, testTrackerConfig(), source, nil, store, sink, onInvalidate)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPoller_DeltaBetweenSnapshots(t *testing.T) {
	source := &fakeSource{responses: []snapshotResponse{
		{records: []models.PresenceRecord{inGame("p1"), inGame("p2")}},
		{records: []models.PresenceRecord{inGame("p1"), inGame("p3")}},
	}}
	store := &fakeStore{}
	sink := &fakeSink{}
	p := newTestPoller(source, store, sink, nil)
	ctx := context.Background()

	p.cycle(ctx)
	p.cycle(ctx)

	if len(sink.deltas) != 2 {
		t.Fatalf("Expected 2 deltas, got %d", len(sink.deltas))
	}

	// Cold start: everyone currently online joined.
	first := sink.deltas[0]
	if !equalStrings(first.Joined, []string{"p1", "p2"}) || len(first.Left) != 0 {
		t.Errorf("Expected cold-start delta joined={p1,p2}, got joined=%v left=%v", first.Joined, first.Left)
	}

	second := sink.deltas[1]
	if !equalStrings(second.Joined, []string{"p3"}) {
		t.Errorf("Expected joined={p3}, got %v", second.Joined)
	}
	if !equalStrings(second.Left, []string{"p2"}) {
		t.Errorf("Expected left={p2}, got %v", second.Left)
	}

	if len(store.closes) != 1 || store.closes[0].cause != models.CloseCauseLeft {
		t.Errorf("Expected one close with cause left, got %+v", store.closes)
	}
	if !equalStrings(store.upserts[1], []string{"p1", "p3"}) {
		t.Errorf("Expected second upsert {p1,p3}, got %v", store.upserts[1])
	}
}

func TestPoller_UnchangedSnapshotDispatchesNothing(t *testing.T) {
	source := &fakeSource{responses: []snapshotResponse{
		{records: []models.PresenceRecord{inGame("p1")}},
	}}
	store := &fakeStore{}
	sink := &fakeSink{}
	p := newTestPoller(source, store, sink, nil)
	ctx := context.Background()

	p.cycle(ctx)
	p.cycle(ctx)
	p.cycle(ctx)

	if len(sink.deltas) != 1 {
		t.Errorf("Expected only the cold-start delta, got %d", len(sink.deltas))
	}
	// LastSeen still advances every cycle.
	if len(store.upserts) != 3 {
		t.Errorf("Expected 3 upserts, got %d", len(store.upserts))
	}
}

func TestPoller_EmptySnapshotsFireSingleUnreachable(t *testing.T) {
	source := &fakeSource{responses: []snapshotResponse{
		{records: []models.PresenceRecord{inGame("p1"), inGame("p2")}},
		{records: nil},
	}}
	store := &fakeStore{}
	sink := &fakeSink{}
	invalidated := false
	p := newTestPoller(source, store, sink, func(string) { invalidated = true })
	ctx := context.Background()

	p.cycle(ctx)
	for i := 0; i < 3; i++ {
		if p.cycle(ctx) {
			t.Fatal("Expected poller to keep running on empty snapshots")
		}
	}

	if len(sink.unreachable) != 1 {
		t.Fatalf("Expected exactly one unreachable event, got %d", len(sink.unreachable))
	}
	if !equalStrings(sink.unreachable[0], []string{"p1", "p2"}) {
		t.Errorf("Expected all previously-online players in event, got %v", sink.unreachable[0])
	}

	var unreachableCloses int
	for _, c := range store.closes {
		if c.cause == models.CloseCauseUnreachable {
			unreachableCloses++
		}
	}
	if unreachableCloses != 1 {
		t.Errorf("Expected one unreachable close, got %d", unreachableCloses)
	}
	// Empty but successful responses never escalate to invalidation.
	if invalidated {
		t.Error("Expected no invalidation for reachable empty realm")
	}
}

func TestPoller_QuietRealmIsLeftDeltaNotOutage(t *testing.T) {
	// The snapshot still carries records, the last player just stopped
	// playing. That is a normal departure, not an outage.
	source := &fakeSource{responses: []snapshotResponse{
		{records: []models.PresenceRecord{inGame("p1")}},
		{records: []models.PresenceRecord{
			{XUID: "p1", State: models.StateNotInRealm, ObservedAt: time.Now().UTC()},
		}},
	}}
	store := &fakeStore{}
	sink := &fakeSink{}
	p := newTestPoller(source, store, sink, nil)
	ctx := context.Background()

	p.cycle(ctx)
	p.cycle(ctx)

	if len(sink.unreachable) != 0 {
		t.Fatalf("Expected no unreachable event for a quiet realm, got %d", len(sink.unreachable))
	}
	if len(sink.deltas) != 2 || !equalStrings(sink.deltas[1].Left, []string{"p1"}) {
		t.Fatalf("Expected left={p1} delta, got %+v", sink.deltas)
	}
	if len(store.closes) != 1 || store.closes[0].cause != models.CloseCauseLeft {
		t.Errorf("Expected one close with cause left, got %+v", store.closes)
	}
}

func TestPoller_RejoinAfterOutageIsColdStart(t *testing.T) {
	source := &fakeSource{responses: []snapshotResponse{
		{records: []models.PresenceRecord{inGame("p1")}},
		{err: errors.New("upstream down")},
		{records: []models.PresenceRecord{inGame("p1")}},
	}}
	store := &fakeStore{}
	sink := &fakeSink{}
	p := newTestPoller(source, store, sink, nil)
	ctx := context.Background()

	p.cycle(ctx)
	p.cycle(ctx)
	p.cycle(ctx)

	if len(sink.unreachable) != 1 {
		t.Fatalf("Expected one unreachable event, got %d", len(sink.unreachable))
	}
	if len(sink.deltas) != 2 {
		t.Fatalf("Expected 2 deltas, got %d", len(sink.deltas))
	}
	// After the outage closed the streak, the rejoin is a fresh join.
	if !equalStrings(sink.deltas[1].Joined, []string{"p1"}) {
		t.Errorf("Expected rejoin delta joined={p1}, got %v", sink.deltas[1].Joined)
	}
}

func TestPoller_ConsecutiveErrorsEscalate(t *testing.T) {
	source := &fakeSource{responses: []snapshotResponse{
		{err: errors.New("upstream down")},
	}}
	store := &fakeStore{}
	sink := &fakeSink{}
	var invalidatedRealm string
	p := newTestPoller(source, store, sink, func(id string) { invalidatedRealm = id })
	ctx := context.Background()

	if p.cycle(ctx) || p.cycle(ctx) {
		t.Fatal("Expected poller to keep running below the failure limit")
	}
	if !p.cycle(ctx) {
		t.Fatal("Expected poller to stop at the failure limit")
	}

	if invalidatedRealm != "realm-1" {
		t.Errorf("Expected realm-1 invalidated, got %q", invalidatedRealm)
	}
	if len(sink.invalidated) != 1 {
		t.Errorf("Expected one invalidation event, got %d", len(sink.invalidated))
	}
}

func TestPoller_SuccessResetsFailureCount(t *testing.T) {
	source := &fakeSource{responses: []snapshotResponse{
		{err: errors.New("down")},
		{err: errors.New("down")},
		{records: []models.PresenceRecord{inGame("p1")}},
		{err: errors.New("down")},
		{err: errors.New("down")},
	}}
	store := &fakeStore{}
	sink := &fakeSink{}
	p := newTestPoller(source, store, sink, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if p.cycle(ctx) {
			t.Fatalf("Expected no escalation after reset, stopped at cycle %d", i)
		}
	}
	if len(sink.invalidated) != 0 {
		t.Errorf("Expected no invalidation, got %d", len(sink.invalidated))
	}
}

func TestWalkSnapshot(t *testing.T) {
	now := time.Now().UTC()
	cutoff := now.Add(-10 * time.Minute)

	records := []models.PresenceRecord{
		{XUID: "p1", State: models.StateInGame, ObservedAt: now},
		{XUID: "p2", State: models.StateBrowsing, ObservedAt: now},
		{XUID: "p3", State: models.StateNotInRealm, ObservedAt: now.Add(-time.Minute)},
		{XUID: "p4", State: models.StateInGame, ObservedAt: now.Add(-2 * time.Minute)},
		// Past the tracking window: the walk stops here, so p6 is never
		// inspected even though its own timestamp is recent.
		{XUID: "p5", State: models.StateInGame, ObservedAt: now.Add(-time.Hour)},
		{XUID: "p6", State: models.StateInGame, ObservedAt: now},
	}

	online := walkSnapshot(records, cutoff)

	want := []string{"p1", "p4"}
	if !equalStrings(sortedSet(online), want) {
		t.Errorf("Expected online=%v, got %v", want, sortedSet(online))
	}
}

func TestComputeDelta(t *testing.T) {
	set := func(xuids ...string) map[string]struct{} {
		m := make(map[string]struct{}, len(xuids))
		for _, x := range xuids {
			m[x] = struct{}{}
		}
		return m
	}

	tests := []struct {
		name       string
		prev, cur  map[string]struct{}
		joined     []string
		left       []string
	}{
		{"cold start", set(), set("p1", "p2"), []string{"p1", "p2"}, nil},
		{"no change", set("p1"), set("p1"), nil, nil},
		{"swap", set("p1", "p2"), set("p1", "p3"), []string{"p3"}, []string{"p2"}},
		{"all left", set("p1", "p2"), set(), nil, []string{"p1", "p2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			joined, left := computeDelta(tt.prev, tt.cur)
			if !equalStrings(joined, tt.joined) {
				t.Errorf("joined = %v, want %v", joined, tt.joined)
			}
			if !equalStrings(left, tt.left) {
				t.Errorf("left = %v, want %v", left, tt.left)
			}

			// joined and left are always disjoint, and applying the
			// delta to prev reproduces cur.
			for _, j := range joined {
				for _, l := range left {
					if j == l {
						t.Errorf("joined and left both contain %q", j)
					}
				}
			}
			rebuilt := make(map[string]struct{})
			for x := range tt.prev {
				rebuilt[x] = struct{}{}
			}
			for _, l := range left {
				delete(rebuilt, l)
			}
			for _, j := range joined {
				rebuilt[j] = struct{}{}
			}
			if !equalStrings(sortedSet(rebuilt), sortedSet(tt.cur)) {
				t.Errorf("Replaying delta gives %v, want %v", sortedSet(rebuilt), sortedSet(tt.cur))
			}
		})
	}
}

func TestManager_StartStop(t *testing.T) {
	source := &fakeSource{responses: []snapshotResponse{{records: nil}}}
	store := &fakeStore{}
	sink := &fakeSink{}
	m := NewManager(testTrackerConfig(), source, nil, store, sink)

	realms := []config.RealmConfig{
		{ID: "realm-1", Name: "One"},
		{ID: "realm-2", Name: "Two"},
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx, realms); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if got := m.TrackedRealms(); !equalStrings(got, []string{"realm-1", "realm-2"}) {
		t.Errorf("TrackedRealms() = %v", got)
	}

	// Idempotent: a second Start does not duplicate pollers.
	if err := m.Start(ctx, realms); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if got := m.TrackedRealms(); len(got) != 2 {
		t.Errorf("Expected 2 tracked realms after restart, got %d", len(got))
	}

	m.Stop()
}

func TestManager_DropRealm(t *testing.T) {
	source := &fakeSource{responses: []snapshotResponse{{records: nil}}}
	m := NewManager(testTrackerConfig(), source, nil, &fakeStore{}, &fakeSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Start(ctx, []config.RealmConfig{{ID: "realm-1"}}); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	m.dropRealm("realm-1")
	if got := m.TrackedRealms(); len(got) != 0 {
		t.Errorf("Expected no tracked realms after drop, got %v", got)
	}
	m.Stop()
}
