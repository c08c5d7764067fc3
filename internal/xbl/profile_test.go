// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package xbl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestProfileClient_BulkResolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/batch/profile/settings" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		var req bulkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if len(req.UserIDs) != 2 {
			t.Errorf("Expected 2 userIds, got %d", len(req.UserIDs))
		}
		_, _ = w.Write([]byte(`{"profileUsers":[
			{"id":"100","settings":[{"id":"Gamertag","value":"Alpha"}]},
			{"id":"200","settings":[{"id":"Gamertag","value":"Bravo"}]}
		]}`))
	}))
	defer srv.Close()

	client := NewProfileClient(srv.URL, 5*time.Second, StaticTokenProvider("t"))
	resolved, err := client.BulkResolve(context.Background(), []string{"100", "200"})
	if err != nil {
		t.Fatalf("BulkResolve() error: %v", err)
	}
	if resolved["100"] != "Alpha" || resolved["200"] != "Bravo" {
		t.Errorf("Unexpected resolution map: %v", resolved)
	}
}

func TestProfileClient_BulkResolve_Empty(t *testing.T) {
	client := NewProfileClient("http://unused", time.Second, StaticTokenProvider("t"))
	resolved, err := client.BulkResolve(context.Background(), nil)
	if err != nil {
		t.Fatalf("BulkResolve(nil) error: %v", err)
	}
	if len(resolved) != 0 {
		t.Errorf("Expected empty map, got %v", resolved)
	}
}

func TestProfileClient_BulkResolve_OverLimit(t *testing.T) {
	client := NewProfileClient("http://unused", time.Second, StaticTokenProvider("t"))
	xuids := make([]string, MaxBulkLookup+1)
	for i := range xuids {
		xuids[i] = "x"
	}
	if _, err := client.BulkResolve(context.Background(), xuids); err == nil {
		t.Error("Expected error for over-limit batch")
	}
}

func TestProfileClient_BulkResolve_InvalidXUID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"InvalidUserId","xuid":"999"}`))
	}))
	defer srv.Close()

	client := NewProfileClient(srv.URL, 5*time.Second, StaticTokenProvider("t"))
	_, err := client.BulkResolve(context.Background(), []string{"100", "999"})

	xuid, ok := AsInvalidXUID(err)
	if !ok {
		t.Fatalf("Expected InvalidXUIDError, got %v", err)
	}
	if xuid != "999" {
		t.Errorf("Expected offending xuid 999, got %q", xuid)
	}
}

func TestProfileClient_BulkResolve_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewProfileClient(srv.URL, 5*time.Second, StaticTokenProvider("t"))
	_, err := client.BulkResolve(context.Background(), []string{"100"})
	if !IsRateLimited(err) {
		t.Errorf("Expected rate-limit error, got %v", err)
	}
}

func TestProfileClient_ResolveProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/users/xuid(100)/profile/settings" {
			t.Errorf("Unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"profileUsers":[
			{"id":"100","settings":[
				{"id":"Gamertag","value":"Alpha"},
				{"id":"DeviceType","value":"Nintendo"}
			]}
		]}`))
	}))
	defer srv.Close()

	client := NewProfileClient(srv.URL, 5*time.Second, StaticTokenProvider("t"))
	p, err := client.ResolveProfile(context.Background(), "100")
	if err != nil {
		t.Fatalf("ResolveProfile() error: %v", err)
	}
	if p.Gamertag != "Alpha" {
		t.Errorf("Expected gamertag Alpha, got %q", p.Gamertag)
	}
	if p.DeviceType != "Nintendo" {
		t.Errorf("Expected device type Nintendo, got %q", p.DeviceType)
	}
}

func TestProfileClient_Resolve_Unknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewProfileClient(srv.URL, 5*time.Second, StaticTokenProvider("t"))
	_, err := client.Resolve(context.Background(), "404")
	if _, ok := AsInvalidXUID(err); !ok {
		t.Errorf("Expected InvalidXUIDError for 404, got %v", err)
	}
}

func TestProfileClient_Resolve_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewProfileClient(srv.URL, 5*time.Second, StaticTokenProvider("t"))
	_, err := client.Resolve(context.Background(), "100")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Expected ErrUnauthorized, got %v", err)
	}
}
