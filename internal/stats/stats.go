// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

// Package stats aggregates playtime intervals into time buckets and
// leaderboards. All functions are pure: output depends only on the input
// interval list, which keeps them directly unit-testable.
//
// Accumulation is integer-second based. Each interval is split at bucket
// boundaries and overlap seconds are summed per bucket before any conversion
// to minutes, so many short sessions never drift the totals the way naive
// per-session duration division would.
package stats

import (
	"sort"
	"time"

	"github.com/tomtom215/realmwatch/internal/models"
)

// hourSeconds splits each interval at hour boundaries and accumulates
// overlap seconds per UTC hour.
func hourSeconds(intervals []models.Interval) map[time.Time]int64 {
	buckets := make(map[time.Time]int64)
	for _, iv := range intervals {
		start, end := iv.Start.UTC(), iv.End.UTC()
		if !end.After(start) {
			continue
		}
		for cur := start; cur.Before(end); {
			hour := cur.Truncate(time.Hour)
			next := hour.Add(time.Hour)
			if next.After(end) {
				next = end
			}
			buckets[hour] += next.Unix() - cur.Unix()
			cur = next
		}
	}
	return buckets
}

// BucketByHour returns accumulated whole minutes keyed by the floored UTC
// hour.
func BucketByHour(intervals []models.Interval) map[time.Time]int64 {
	minutes := make(map[time.Time]int64)
	for hour, secs := range hourSeconds(intervals) {
		if m := secs / 60; m > 0 {
			minutes[hour] = m
		}
	}
	return minutes
}

// BucketByDay returns accumulated whole minutes keyed by the floored UTC
// day. Day buckets are the sum of their hour buckets, so re-aggregating a
// day's per-hour output always reproduces the per-day value exactly.
func BucketByDay(intervals []models.Interval) map[time.Time]int64 {
	minutes := make(map[time.Time]int64)
	for hour, m := range BucketByHour(intervals) {
		day := hour.Truncate(24 * time.Hour)
		minutes[day] += m
	}
	return minutes
}

// HourOfDayProfile returns accumulated minutes keyed by hour-of-day (0-23),
// discarding the absolute date. Answers "what hours is this Realm typically
// active".
func HourOfDayProfile(intervals []models.Interval) [24]int64 {
	var profile [24]int64
	for hour, m := range BucketByHour(intervals) {
		profile[hour.Hour()] += m
	}
	return profile
}

// DayOfWeekProfile returns accumulated minutes keyed by day of week.
func DayOfWeekProfile(intervals []models.Interval) [7]int64 {
	var profile [7]int64
	for hour, m := range BucketByHour(intervals) {
		profile[hour.Weekday()] += m
	}
	return profile
}

// Entry is one leaderboard row.
type Entry struct {
	XUID    string `json:"xuid"`
	Minutes int64  `json:"minutes"`
}

// Leaderboard returns total online minutes per xuid, sorted descending by
// minutes with ties broken ascending by identifier. The order is a total
// order: equal inputs always produce identical output.
func Leaderboard(intervals []models.Interval) []Entry {
	seconds := make(map[string]int64)
	for _, iv := range intervals {
		if !iv.End.After(iv.Start) {
			continue
		}
		seconds[iv.XUID] += iv.End.Unix() - iv.Start.Unix()
	}

	entries := make([]Entry, 0, len(seconds))
	for xuid, secs := range seconds {
		entries = append(entries, Entry{XUID: xuid, Minutes: secs / 60})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Minutes != entries[j].Minutes {
			return entries[i].Minutes > entries[j].Minutes
		}
		return entries[i].XUID < entries[j].XUID
	})
	return entries
}
