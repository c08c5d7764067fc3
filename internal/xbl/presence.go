// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package xbl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/realmwatch/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics. Prevents unbounded allocation on large error responses.
const maxErrorBodySize = 64 * 1024 // 64KB

// readBodyForError reads at most maxErrorBodySize bytes for error reporting.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}

// PresenceSource fetches the current presence snapshot for one Realm.
// Implemented by PresenceClient for production and by fakes in tests.
// Records are returned in upstream order: most recent activity first.
type PresenceSource interface {
	GetRealmPlayers(ctx context.Context, realmID string) ([]models.PresenceRecord, error)
}

// PresenceClient talks to the upstream Realm presence API.
// Thread-safe: the underlying http.Client is safe for concurrent use.
type PresenceClient struct {
	baseURL string
	client  *http.Client
	tokens  TokenProvider
}

// NewPresenceClient creates a presence client with a bounded request timeout.
func NewPresenceClient(baseURL string, timeout time.Duration, tokens TokenProvider) *PresenceClient {
	return &PresenceClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// presenceEntry is the upstream wire shape for one player.
type presenceEntry struct {
	XUID       string    `json:"xuid"`
	State      string    `json:"state"`
	ObservedAt time.Time `json:"observed_at"`
}

// GetRealmPlayers fetches the presence snapshot for a Realm.
//
// Error mapping:
//   - 401/403 -> ErrUnauthorized
//   - 404     -> ErrRealmNotFound
//   - 429     -> *RateLimitError with Retry-After hint when present
//   - other non-200 -> generic error, cycle retried next tick
//
// Unknown state strings decode to models.StateUnknown rather than failing
// the snapshot.
func (c *PresenceClient) GetRealmPlayers(ctx context.Context, realmID string) ([]models.PresenceRecord, error) {
	url := fmt.Sprintf("%s/worlds/%s/activities", c.baseURL, realmID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create presence request: %w", err)
	}

	auth, err := c.tokens.Authorization(ctx)
	if err != nil {
		return nil, fmt.Errorf("authorize presence request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("presence request for realm %s: %w", realmID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrRealmNotFound
	case http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	default:
		return nil, fmt.Errorf("presence request for realm %s: status %d: %s",
			realmID, resp.StatusCode, readBodyForError(resp.Body))
	}

	var wire struct {
		Players []presenceEntry `json:"players"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode presence response for realm %s: %w", realmID, err)
	}

	records := make([]models.PresenceRecord, 0, len(wire.Players))
	for _, p := range wire.Players {
		if p.XUID == "" {
			continue
		}
		records = append(records, models.PresenceRecord{
			XUID:       p.XUID,
			State:      models.ParsePresenceState(p.State),
			ObservedAt: p.ObservedAt,
		})
	}
	return records, nil
}

// parseRetryAfter decodes a Retry-After header as delay seconds.
// HTTP-date values are ignored; the tracker falls back to its own schedule.
func parseRetryAfter(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
