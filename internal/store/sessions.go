// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/realmwatch/internal/metrics"
	"github.com/tomtom215/realmwatch/internal/models"
)

// UpsertPresence records every currently-online xuid for a Realm after one
// poll cycle. Players with an active streak get their LastSeen advanced in
// place; players without one get a fresh row with joined_at set once.
func (s *Store) UpsertPresence(ctx context.Context, realmID string, online []string, observedAt time.Time) error {
	if len(online) == 0 {
		return nil
	}
	start := time.Now()
	observedAt = observedAt.UTC()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		observe("upsert_presence", start, err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	opened := 0
	for _, xuid := range online {
		key := streakKey(realmID, xuid)

		if sessionID, ok := s.streaks.Get(key); ok {
			res, err := tx.ExecContext(ctx,
				`UPDATE player_sessions SET online = TRUE, last_seen = ?
					WHERE session_id = CAST(? AS UUID)`,
				observedAt, sessionID)
			if err != nil {
				observe("upsert_presence", start, err)
				return fmt.Errorf("failed to update session %s: %w", sessionID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				// Refresh the registry entry's TTL while the streak
				// is alive.
				s.streaks.Add(key, sessionID)
				continue
			}
			// Registry pointed at a pruned row; fall through and open
			// a new streak.
			s.streaks.Remove(key)
		}

		sessionID := uuid.New()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO player_sessions (session_id, realm_id, xuid, online, last_seen, joined_at)
				VALUES (?, ?, ?, TRUE, ?, ?)`,
			sessionID, realmID, xuid, observedAt, observedAt); err != nil {
			observe("upsert_presence", start, err)
			return fmt.Errorf("failed to insert session for %s: %w", xuid, err)
		}
		s.streaks.Add(key, sessionID.String())
		opened++
	}

	if err := tx.Commit(); err != nil {
		observe("upsert_presence", start, err)
		return fmt.Errorf("failed to commit presence upsert: %w", err)
	}

	if opened > 0 {
		metrics.SessionsOpened.WithLabelValues(realmID).Add(float64(opened))
	}
	observe("upsert_presence", start, nil)
	return nil
}

// CloseSessions ends the active streaks for the given xuids. LastSeen stays
// frozen at its last observed value; the streak registry entries are evicted
// so a later rejoin opens a new streak.
func (s *Store) CloseSessions(ctx context.Context, realmID string, xuids []string, cause string) error {
	if len(xuids) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		observe("close_sessions", start, err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	evict := make([]string, 0, len(xuids))
	for _, xuid := range xuids {
		key := streakKey(realmID, xuid)

		if sessionID, ok := s.streaks.Get(key); ok {
			if _, err := tx.ExecContext(ctx,
				`UPDATE player_sessions SET online = FALSE
					WHERE session_id = CAST(? AS UUID)`,
				sessionID); err != nil {
				observe("close_sessions", start, err)
				return fmt.Errorf("failed to close session %s: %w", sessionID, err)
			}
			evict = append(evict, key)
			continue
		}

		// No registry entry (restart raced the TTL backstop, or the
		// entry was evicted): close whatever open row exists directly.
		if _, err := tx.ExecContext(ctx,
			`UPDATE player_sessions SET online = FALSE
				WHERE realm_id = ? AND xuid = ? AND online = TRUE`,
			realmID, xuid); err != nil {
			observe("close_sessions", start, err)
			return fmt.Errorf("failed to close sessions for %s: %w", xuid, err)
		}
	}

	if err := tx.Commit(); err != nil {
		observe("close_sessions", start, err)
		return fmt.Errorf("failed to commit session close: %w", err)
	}

	// Evict only once the rows are durably closed; on a failed commit the
	// registry keeps pointing at the still-open row.
	for _, key := range evict {
		s.streaks.Remove(key)
	}

	metrics.SessionsClosed.WithLabelValues(realmID, cause).Add(float64(len(xuids)))
	observe("close_sessions", start, nil)
	return nil
}

// Sweep force-closes stuck online rows and prunes closed rows past the
// retention window. Run on a schedule by the Sweeper.
func (s *Store) Sweep(ctx context.Context) error {
	if err := s.forceCloseStale(ctx); err != nil {
		return err
	}
	return s.pruneRetention(ctx)
}

// forceCloseStale closes online rows whose last_seen stopped advancing,
// bounding the damage of a missed leave event after a crash or outage.
// last_seen is left as-is so the recorded playtime never inflates.
func (s *Store) forceCloseStale(ctx context.Context) error {
	start := time.Now()
	cutoff := time.Now().UTC().Add(-s.cfg.StaleAfter)

	rows, err := s.conn.QueryContext(ctx,
		`SELECT session_id, realm_id, xuid FROM player_sessions
			WHERE online = TRUE AND last_seen < ?`, cutoff)
	if err != nil {
		observe("force_close_stale", start, err)
		return fmt.Errorf("failed to query stale sessions: %w", err)
	}

	type staleRow struct {
		sessionID uuid.UUID
		realmID   string
		xuid      string
	}
	var stale []staleRow
	for rows.Next() {
		var r staleRow
		if err := rows.Scan(&r.sessionID, &r.realmID, &r.xuid); err != nil {
			_ = rows.Close()
			observe("force_close_stale", start, err)
			return fmt.Errorf("failed to scan stale session: %w", err)
		}
		stale = append(stale, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		observe("force_close_stale", start, err)
		return err
	}
	_ = rows.Close()

	for _, r := range stale {
		if _, err := s.conn.ExecContext(ctx,
			`UPDATE player_sessions SET online = FALSE WHERE session_id = ?`,
			r.sessionID); err != nil {
			observe("force_close_stale", start, err)
			return fmt.Errorf("failed to force-close session %s: %w", r.sessionID, err)
		}
		s.streaks.Remove(streakKey(r.realmID, r.xuid))
		metrics.SweepForcedClosures.Inc()
		metrics.SessionsClosed.WithLabelValues(r.realmID, models.CloseCauseStale).Inc()
	}

	if len(stale) > 0 {
		s.log.Warn().Int("sessions", len(stale)).Msg("Force-closed stale sessions")
	}
	observe("force_close_stale", start, nil)
	return nil
}

// pruneRetention deletes closed rows older than the retention window.
func (s *Store) pruneRetention(ctx context.Context) error {
	start := time.Now()
	cutoff := time.Now().UTC().Add(-s.cfg.Retention)

	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM player_sessions WHERE online = FALSE AND last_seen < ?`, cutoff)
	if err != nil {
		observe("prune_retention", start, err)
		return fmt.Errorf("failed to prune sessions: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		metrics.SweepPrunedRows.Add(float64(n))
		s.log.Info().Int64("rows", n).Msg("Pruned sessions past retention")
	}
	observe("prune_retention", start, nil)
	return nil
}

// OpenSessions returns the sessions currently marked online for a Realm,
// oldest joiner first.
func (s *Store) OpenSessions(ctx context.Context, realmID string) ([]models.PlayerSession, error) {
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT session_id, realm_id, xuid, online, last_seen, joined_at
			FROM player_sessions
			WHERE realm_id = ? AND online = TRUE
			ORDER BY joined_at, xuid`, realmID)
	if err != nil {
		observe("open_sessions", start, err)
		return nil, fmt.Errorf("failed to query open sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions, err := scanSessions(rows)
	observe("open_sessions", start, err)
	return sessions, err
}

// RecentActivity returns the most recently seen sessions for a Realm, open
// or closed, newest first.
func (s *Store) RecentActivity(ctx context.Context, realmID string, limit int) ([]models.PlayerSession, error) {
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT session_id, realm_id, xuid, online, last_seen, joined_at
			FROM player_sessions
			WHERE realm_id = ?
			ORDER BY last_seen DESC, xuid
			LIMIT ?`, realmID, limit)
	if err != nil {
		observe("recent_activity", start, err)
		return nil, fmt.Errorf("failed to query recent activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions, err := scanSessions(rows)
	observe("recent_activity", start, err)
	return sessions, err
}

// Intervals returns the playtime intervals for a Realm since the given
// time, for the stats aggregator. Open sessions extend to now.
func (s *Store) Intervals(ctx context.Context, realmID string, since time.Time) ([]models.Interval, error) {
	start := time.Now()

	rows, err := s.conn.QueryContext(ctx,
		`SELECT xuid, joined_at, last_seen, online
			FROM player_sessions
			WHERE realm_id = ? AND last_seen >= ?
			ORDER BY joined_at, xuid`, realmID, since.UTC())
	if err != nil {
		observe("intervals", start, err)
		return nil, fmt.Errorf("failed to query intervals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	now := time.Now().UTC()
	var intervals []models.Interval
	for rows.Next() {
		var xuid string
		var joinedAt, lastSeen time.Time
		var online bool
		if err := rows.Scan(&xuid, &joinedAt, &lastSeen, &online); err != nil {
			observe("intervals", start, err)
			return nil, fmt.Errorf("failed to scan interval: %w", err)
		}
		end := lastSeen
		if online {
			end = now
		}
		intervals = append(intervals, models.Interval{XUID: xuid, Start: joinedAt.UTC(), End: end.UTC()})
	}
	err = rows.Err()
	observe("intervals", start, err)
	return intervals, err
}

func scanSessions(rows *sql.Rows) ([]models.PlayerSession, error) {
	var sessions []models.PlayerSession
	for rows.Next() {
		var sess models.PlayerSession
		if err := rows.Scan(&sess.SessionID, &sess.RealmID, &sess.XUID, &sess.Online, &sess.LastSeen, &sess.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.LastSeen = sess.LastSeen.UTC()
		sess.JoinedAt = sess.JoinedAt.UTC()
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
