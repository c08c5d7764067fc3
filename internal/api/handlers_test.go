// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tomtom215/realmwatch/internal/config"
	"github.com/tomtom215/realmwatch/internal/identity"
	"github.com/tomtom215/realmwatch/internal/models"
)

type fakeSessions struct {
	open      []models.PlayerSession
	recent    []models.PlayerSession
	intervals []models.Interval

	lastLimit int
}

func (f *fakeSessions) OpenSessions(_ context.Context, _ string) ([]models.PlayerSession, error) {
	return f.open, nil
}

func (f *fakeSessions) RecentActivity(_ context.Context, _ string, limit int) ([]models.PlayerSession, error) {
	f.lastLimit = limit
	return f.recent, nil
}

func (f *fakeSessions) Intervals(_ context.Context, _ string, _ time.Time) ([]models.Interval, error) {
	return f.intervals, nil
}

type fakeRealms struct{ realms []string }

func (f *fakeRealms) TrackedRealms() []string { return f.realms }

type fakeResolver struct{ names map[string]string }

func (f *fakeResolver) Resolve(_ context.Context, xuids []string) (*identity.Result, error) {
	res := &identity.Result{Gamertags: make(map[string]string)}
	for _, x := range xuids {
		if gt, ok := f.names[x]; ok {
			res.Gamertags[x] = gt
		} else {
			res.Unresolved = append(res.Unresolved, x)
		}
	}
	return res, nil
}

func testServer(sessions *fakeSessions, realms *fakeRealms, resolver NameResolver) *httptest.Server {
	cfg := config.ServerConfig{
		Enabled:         true,
		Host:            "127.0.0.1",
		Port:            0,
		Timeout:         10 * time.Second,
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
	}
	srv := NewServer(cfg, NewHandler(sessions, realms, resolver))
	return httptest.NewServer(srv.Routes())
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url) //nolint:gosec // test URL from httptest
	if err != nil {
		t.Fatalf("GET %s error: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestHandler_Health(t *testing.T) {
	ts := testServer(&fakeSessions{}, &fakeRealms{realms: []string{"realm-1"}}, nil)
	defer ts.Close()

	var body struct {
		Status        string `json:"status"`
		RealmsTracked int    `json:"realms_tracked"`
	}
	if code := getJSON(t, ts.URL+"/healthz", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if body.Status != "ok" || body.RealmsTracked != 1 {
		t.Errorf("Unexpected health body: %+v", body)
	}
}

func TestHandler_Online(t *testing.T) {
	joined := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sessions := &fakeSessions{open: []models.PlayerSession{
		{RealmID: "realm-1", XUID: "1000000001", Online: true, JoinedAt: joined, LastSeen: joined.Add(time.Minute)},
		{RealmID: "realm-1", XUID: "1000000002", Online: true, JoinedAt: joined, LastSeen: joined.Add(time.Minute)},
	}}
	resolver := &fakeResolver{names: map[string]string{"1000000001": "Alpha"}}

	ts := testServer(sessions, &fakeRealms{}, resolver)
	defer ts.Close()

	var body struct {
		RealmID string         `json:"realm_id"`
		Online  []OnlinePlayer `json:"online"`
	}
	if code := getJSON(t, ts.URL+"/api/v1/realms/realm-1/online", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if body.RealmID != "realm-1" || len(body.Online) != 2 {
		t.Fatalf("Unexpected body: %+v", body)
	}
	if body.Online[0].Gamertag != "Alpha" {
		t.Errorf("Expected resolved gamertag, got %q", body.Online[0].Gamertag)
	}
	// Unresolved players get a placeholder, never an empty name.
	if body.Online[1].Gamertag != "Player-0002" {
		t.Errorf("Expected placeholder, got %q", body.Online[1].Gamertag)
	}
}

func TestHandler_ActivityLimit(t *testing.T) {
	sessions := &fakeSessions{}
	ts := testServer(sessions, &fakeRealms{}, nil)
	defer ts.Close()

	if code := getJSON(t, ts.URL+"/api/v1/realms/realm-1/activity", nil); code != http.StatusOK {
		t.Errorf("Expected 200 for default limit, got %d", code)
	}
	if sessions.lastLimit != defaultActivityLimit {
		t.Errorf("Expected default limit %d, got %d", defaultActivityLimit, sessions.lastLimit)
	}

	if code := getJSON(t, ts.URL+"/api/v1/realms/realm-1/activity?limit=10", nil); code != http.StatusOK {
		t.Errorf("Expected 200, got %d", code)
	}
	if sessions.lastLimit != 10 {
		t.Errorf("Expected limit 10, got %d", sessions.lastLimit)
	}

	for _, bad := range []string{"0", "-1", "9999", "abc"} {
		if code := getJSON(t, ts.URL+"/api/v1/realms/realm-1/activity?limit="+bad, nil); code != http.StatusBadRequest {
			t.Errorf("Expected 400 for limit=%s, got %d", bad, code)
		}
	}
}

func TestHandler_Leaderboard(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sessions := &fakeSessions{intervals: []models.Interval{
		{XUID: "100", Start: base, End: base.Add(45 * time.Minute)},
		{XUID: "200", Start: base, End: base.Add(90 * time.Minute)},
	}}
	ts := testServer(sessions, &fakeRealms{}, nil)
	defer ts.Close()

	var body struct {
		Leaderboard []LeaderboardRow `json:"leaderboard"`
	}
	if code := getJSON(t, ts.URL+"/api/v1/realms/realm-1/leaderboard", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(body.Leaderboard) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(body.Leaderboard))
	}
	if body.Leaderboard[0].XUID != "200" || body.Leaderboard[0].Minutes != 90 {
		t.Errorf("Expected top entry 200/90, got %+v", body.Leaderboard[0])
	}

	if code := getJSON(t, ts.URL+"/api/v1/realms/realm-1/leaderboard?since=not-a-time", nil); code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad since, got %d", code)
	}
}

func TestHandler_ActiveHours(t *testing.T) {
	base := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC) // a Monday evening
	sessions := &fakeSessions{intervals: []models.Interval{
		{XUID: "100", Start: base, End: base.Add(time.Hour)},
	}}
	ts := testServer(sessions, &fakeRealms{}, nil)
	defer ts.Close()

	var body struct {
		HourOfDay [24]int64 `json:"hour_of_day"`
		DayOfWeek [7]int64  `json:"day_of_week"`
	}
	if code := getJSON(t, ts.URL+"/api/v1/realms/realm-1/hours", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if body.HourOfDay[20] != 60 {
		t.Errorf("Expected 60 minutes at hour 20, got %d", body.HourOfDay[20])
	}
	if body.DayOfWeek[int(time.Monday)] != 60 {
		t.Errorf("Expected 60 minutes on Monday, got %v", body.DayOfWeek)
	}
}

func TestHandler_Realms(t *testing.T) {
	ts := testServer(&fakeSessions{}, &fakeRealms{realms: []string{"realm-1", "realm-2"}}, nil)
	defer ts.Close()

	var body struct {
		Realms []string `json:"realms"`
	}
	if code := getJSON(t, ts.URL+"/api/v1/realms", &body); code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", code)
	}
	if len(body.Realms) != 2 {
		t.Errorf("Expected 2 realms, got %v", body.Realms)
	}
}
