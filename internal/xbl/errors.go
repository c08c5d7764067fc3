// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

// Package xbl provides HTTP clients for the upstream presence and identity
// services. Authentication is a black box behind TokenProvider: given a
// request, produce an authorized header value or fail.
package xbl

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnauthorized indicates the upstream rejected our credentials.
// Fatal for the current cycle; logged and retried on the next tick.
var ErrUnauthorized = errors.New("xbl: unauthorized")

// ErrRealmNotFound indicates the upstream no longer knows the Realm.
// The tracker treats this as the Realm being unreachable.
var ErrRealmNotFound = errors.New("xbl: realm not found")

// RateLimitError indicates the upstream throttled the request.
type RateLimitError struct {
	// RetryAfter is the upstream's hint, zero when absent.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("xbl: rate limited, retry after %s", e.RetryAfter)
	}
	return "xbl: rate limited"
}

// IsRateLimited reports whether err is a rate-limit response.
func IsRateLimited(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}

// InvalidXUIDError indicates the upstream rejected one identifier in a
// bulk lookup. The resolver drops that identifier and retries the batch.
type InvalidXUIDError struct {
	XUID string
}

func (e *InvalidXUIDError) Error() string {
	return fmt.Sprintf("xbl: invalid xuid %q", e.XUID)
}

// AsInvalidXUID extracts the offending identifier, if err is an
// identifier-level error.
func AsInvalidXUID(err error) (string, bool) {
	var ive *InvalidXUIDError
	if errors.As(err, &ive) {
		return ive.XUID, true
	}
	return "", false
}
