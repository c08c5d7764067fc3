// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package xbl

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// MaxBulkLookup is the upstream's limit on identifiers per bulk call.
const MaxBulkLookup = 500

// Profile is the full identity record returned by the per-identifier
// endpoint. Only Gamertag is cached; auxiliary fields are for call sites
// that force a fresh fetch.
type Profile struct {
	XUID       string `json:"xuid"`
	Gamertag   string `json:"gamertag"`
	DeviceType string `json:"device_type,omitempty"`
}

// BulkIdentitySource resolves up to MaxBulkLookup identifiers at once.
type BulkIdentitySource interface {
	BulkResolve(ctx context.Context, xuids []string) (map[string]string, error)
}

// FallbackIdentitySource resolves one identifier at a time. Slower, with
// different rate-limit characteristics; used when the bulk path is down.
type FallbackIdentitySource interface {
	Resolve(ctx context.Context, xuid string) (string, error)
	ResolveProfile(ctx context.Context, xuid string) (*Profile, error)
}

// ProfileClient talks to the upstream identity (profile) service.
// It implements both BulkIdentitySource and FallbackIdentitySource.
type ProfileClient struct {
	baseURL string
	client  *http.Client
	tokens  TokenProvider
}

// NewProfileClient creates a profile client with a bounded request timeout.
func NewProfileClient(baseURL string, timeout time.Duration, tokens TokenProvider) *ProfileClient {
	return &ProfileClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

// bulkRequest is the wire shape of a bulk lookup call.
type bulkRequest struct {
	UserIDs  []string `json:"userIds"`
	Settings []string `json:"settings"`
}

// profileUser is one entry of a bulk response.
type profileUser struct {
	ID       string `json:"id"`
	Settings []struct {
		ID    string `json:"id"`
		Value string `json:"value"`
	} `json:"settings"`
}

// BulkResolve resolves up to MaxBulkLookup identifiers in one call.
//
// Error mapping:
//   - 401/403 -> ErrUnauthorized
//   - 429     -> *RateLimitError (caller falls back to per-identifier tier)
//   - 400 with an offending id -> *InvalidXUIDError (caller drops it and retries)
func (c *ProfileClient) BulkResolve(ctx context.Context, xuids []string) (map[string]string, error) {
	if len(xuids) == 0 {
		return map[string]string{}, nil
	}
	if len(xuids) > MaxBulkLookup {
		return nil, fmt.Errorf("bulk resolve: %d identifiers exceeds limit %d", len(xuids), MaxBulkLookup)
	}

	payload, err := json.Marshal(bulkRequest{UserIDs: xuids, Settings: []string{"Gamertag"}})
	if err != nil {
		return nil, fmt.Errorf("marshal bulk request: %w", err)
	}

	url := c.baseURL + "/users/batch/profile/settings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("create bulk request: %w", err)
	}
	if err := c.setHeaders(ctx, req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk resolve request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case http.StatusBadRequest:
		return nil, decodeInvalidXUID(resp)
	default:
		return nil, fmt.Errorf("bulk resolve: status %d: %s", resp.StatusCode, readBodyForError(resp.Body))
	}

	var wire struct {
		ProfileUsers []profileUser `json:"profileUsers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}

	resolved := make(map[string]string, len(wire.ProfileUsers))
	for _, u := range wire.ProfileUsers {
		for _, s := range u.Settings {
			if s.ID == "Gamertag" && s.Value != "" {
				resolved[u.ID] = s.Value
			}
		}
	}
	return resolved, nil
}

// Resolve resolves a single identifier via the fallback endpoint.
func (c *ProfileClient) Resolve(ctx context.Context, xuid string) (string, error) {
	p, err := c.ResolveProfile(ctx, xuid)
	if err != nil {
		return "", err
	}
	return p.Gamertag, nil
}

// ResolveProfile fetches the full profile for one identifier, including
// auxiliary fields not carried by the identity cache.
func (c *ProfileClient) ResolveProfile(ctx context.Context, xuid string) (*Profile, error) {
	url := fmt.Sprintf("%s/users/xuid(%s)/profile/settings", c.baseURL, xuid)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create profile request: %w", err)
	}
	if err := c.setHeaders(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request for %s: %w", xuid, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case http.StatusBadRequest, http.StatusNotFound:
		return nil, &InvalidXUIDError{XUID: xuid}
	default:
		return nil, fmt.Errorf("profile request for %s: status %d: %s",
			xuid, resp.StatusCode, readBodyForError(resp.Body))
	}

	var wire struct {
		ProfileUsers []struct {
			ID       string `json:"id"`
			Settings []struct {
				ID    string `json:"id"`
				Value string `json:"value"`
			} `json:"settings"`
		} `json:"profileUsers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode profile response for %s: %w", xuid, err)
	}
	if len(wire.ProfileUsers) == 0 {
		return nil, &InvalidXUIDError{XUID: xuid}
	}

	p := &Profile{XUID: wire.ProfileUsers[0].ID}
	for _, s := range wire.ProfileUsers[0].Settings {
		switch s.ID {
		case "Gamertag":
			p.Gamertag = s.Value
		case "DeviceType":
			p.DeviceType = s.Value
		}
	}
	if p.Gamertag == "" {
		return nil, &InvalidXUIDError{XUID: xuid}
	}
	return p, nil
}

func (c *ProfileClient) setHeaders(ctx context.Context, req *http.Request) error {
	auth, err := c.tokens.Authorization(ctx)
	if err != nil {
		return fmt.Errorf("authorize profile request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Accept", "application/json")
	return nil
}

// decodeInvalidXUID extracts the offending identifier from a 400 response.
// When the body does not name one, a generic error is returned and the
// caller treats the whole batch as failed.
func decodeInvalidXUID(resp *http.Response) error {
	var wire struct {
		Code string `json:"code"`
		XUID string `json:"xuid"`
	}
	body := readBodyForError(resp.Body)
	if err := json.Unmarshal(body, &wire); err == nil && wire.XUID != "" {
		return &InvalidXUIDError{XUID: wire.XUID}
	}
	return fmt.Errorf("bulk resolve: status 400: %s", body)
}
