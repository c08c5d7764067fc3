// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package xbl

import "context"

// TokenProvider supplies an Authorization header value for upstream calls.
// Token acquisition and refresh are outside Realmwatch's scope; the provider
// either produces a currently-valid value or fails.
type TokenProvider interface {
	Authorization(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed header value. Intended for tests and
// for wiring pre-issued tokens.
type StaticTokenProvider string

// Authorization implements TokenProvider.
func (s StaticTokenProvider) Authorization(_ context.Context) (string, error) {
	return string(s), nil
}
