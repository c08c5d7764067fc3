// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/tomtom215/realmwatch/internal/identity"
	"github.com/tomtom215/realmwatch/internal/logging"
	"github.com/tomtom215/realmwatch/internal/models"
	"github.com/tomtom215/realmwatch/internal/stats"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500

	// defaultStatsWindow bounds leaderboard and active-hours queries when
	// no ?since is given.
	defaultStatsWindow = 31 * 24 * time.Hour
)

// SessionReader is the subset of the session store the API reads from.
type SessionReader interface {
	OpenSessions(ctx context.Context, realmID string) ([]models.PlayerSession, error)
	RecentActivity(ctx context.Context, realmID string, limit int) ([]models.PlayerSession, error)
	Intervals(ctx context.Context, realmID string, since time.Time) ([]models.Interval, error)
}

// RealmLister reports which realms currently have an active poller.
type RealmLister interface {
	TrackedRealms() []string
}

// NameResolver resolves xuids to display names, best effort.
type NameResolver interface {
	Resolve(ctx context.Context, xuids []string) (*identity.Result, error)
}

// Handler implements the API endpoints.
type Handler struct {
	sessions SessionReader
	realms   RealmLister
	resolver NameResolver
	started  time.Time
}

// NewHandler creates the endpoint handler. resolver may be nil; display
// names then fall back to placeholders.
func NewHandler(sessions SessionReader, realms RealmLister, resolver NameResolver) *Handler {
	return &Handler{
		sessions: sessions,
		realms:   realms,
		resolver: resolver,
		started:  time.Now(),
	}
}

// writeJSON encodes data as JSON and writes it to the response. Encode
// errors are logged, not surfaced; headers are already sent.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"realms_tracked": len(h.realms.TrackedRealms()),
	})
}

// Realms lists the realms with an active poller.
func (h *Handler) Realms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"realms": h.realms.TrackedRealms(),
	})
}

// OnlinePlayer is one row of the online-players response.
type OnlinePlayer struct {
	XUID     string    `json:"xuid"`
	Gamertag string    `json:"gamertag"`
	JoinedAt time.Time `json:"joined_at"`
	LastSeen time.Time `json:"last_seen"`
}

// Online returns the players currently online on a Realm.
func (h *Handler) Online(w http.ResponseWriter, r *http.Request) {
	realmID := chi.URLParam(r, "realmID")

	sessions, err := h.sessions.OpenSessions(r.Context(), realmID)
	if err != nil {
		logging.Error().Err(err).Str("realm_id", realmID).Msg("Failed to read open sessions")
		writeError(w, http.StatusInternalServerError, "failed to read sessions")
		return
	}

	xuids := make([]string, len(sessions))
	for i, sess := range sessions {
		xuids[i] = sess.XUID
	}
	names := h.displayNames(r.Context(), xuids)

	players := make([]OnlinePlayer, len(sessions))
	for i, sess := range sessions {
		players[i] = OnlinePlayer{
			XUID:     sess.XUID,
			Gamertag: names[sess.XUID],
			JoinedAt: sess.JoinedAt,
			LastSeen: sess.LastSeen,
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"realm_id": realmID,
		"online":   players,
	})
}

// Activity returns the most recently seen sessions for a Realm, open or
// closed.
func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	realmID := chi.URLParam(r, "realmID")

	limit := defaultActivityLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxActivityLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	sessions, err := h.sessions.RecentActivity(r.Context(), realmID, limit)
	if err != nil {
		logging.Error().Err(err).Str("realm_id", realmID).Msg("Failed to read recent activity")
		writeError(w, http.StatusInternalServerError, "failed to read sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"realm_id": realmID,
		"sessions": sessions,
	})
}

// LeaderboardRow is one leaderboard entry with its resolved display name.
type LeaderboardRow struct {
	XUID     string `json:"xuid"`
	Gamertag string `json:"gamertag"`
	Minutes  int64  `json:"minutes"`
}

// Leaderboard returns total online minutes per player, descending.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	realmID := chi.URLParam(r, "realmID")

	since, ok := h.parseSince(w, r)
	if !ok {
		return
	}

	intervals, err := h.sessions.Intervals(r.Context(), realmID, since)
	if err != nil {
		logging.Error().Err(err).Str("realm_id", realmID).Msg("Failed to read intervals")
		writeError(w, http.StatusInternalServerError, "failed to read sessions")
		return
	}

	entries := stats.Leaderboard(intervals)
	xuids := make([]string, len(entries))
	for i, e := range entries {
		xuids[i] = e.XUID
	}
	names := h.displayNames(r.Context(), xuids)

	rows := make([]LeaderboardRow, len(entries))
	for i, e := range entries {
		rows[i] = LeaderboardRow{XUID: e.XUID, Gamertag: names[e.XUID], Minutes: e.Minutes}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"realm_id":    realmID,
		"since":       since,
		"leaderboard": rows,
	})
}

// ActiveHours returns the hour-of-day and day-of-week activity profiles.
func (h *Handler) ActiveHours(w http.ResponseWriter, r *http.Request) {
	realmID := chi.URLParam(r, "realmID")

	since, ok := h.parseSince(w, r)
	if !ok {
		return
	}

	intervals, err := h.sessions.Intervals(r.Context(), realmID, since)
	if err != nil {
		logging.Error().Err(err).Str("realm_id", realmID).Msg("Failed to read intervals")
		writeError(w, http.StatusInternalServerError, "failed to read sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"realm_id":    realmID,
		"since":       since,
		"hour_of_day": stats.HourOfDayProfile(intervals),
		"day_of_week": stats.DayOfWeekProfile(intervals),
	})
}

// parseSince reads the optional ?since RFC 3339 query parameter. On a parse
// failure it writes the error response and returns ok=false.
func (h *Handler) parseSince(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("since")
	if raw == "" {
		return time.Now().UTC().Add(-defaultStatsWindow), true
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be RFC 3339")
		return time.Time{}, false
	}
	return since.UTC(), true
}

// displayNames maps xuids to gamertags, degrading to placeholders when the
// resolver is unavailable or fails.
func (h *Handler) displayNames(ctx context.Context, xuids []string) map[string]string {
	names := make(map[string]string, len(xuids))

	var res *identity.Result
	if h.resolver != nil && len(xuids) > 0 {
		r, err := h.resolver.Resolve(ctx, xuids)
		if err != nil {
			logging.Warn().Err(err).Msg("Identity resolution failed for API response")
		} else {
			res = r
		}
	}

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
