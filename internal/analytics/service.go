// Package analytics serves the dashboard's aggregated read models with SQL
// over the events table and an optional Redis cache-aside layer.
package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/jailtonjunior94/streamflow/internal/storage"
)

// Trend bounds.
const (
	MinTrendHours = 1
	MaxTrendHours = 168

	DefaultTrendHours           = 24
	DefaultTrendIntervalMinutes = 60
	DefaultTopSourcesLimit      = 10
)

// TrendBucket is one interval of event volume.
type TrendBucket struct {
	Bucket time.Time        `json:"bucket"`
	Total  int64            `json:"total"`
	ByType map[string]int64 `json:"by_type"`
}

// EventTrends is the trend query result.
type EventTrends struct {
	Hours           int           `json:"hours"`
	IntervalMinutes int           `json:"interval_minutes"`
	Buckets         []TrendBucket `json:"buckets"`
}

// DeviceShare is one device-class bucket of the user distribution.
type DeviceShare struct {
	Device  string  `json:"device"`
	Users   int64   `json:"users"`
	Events  int64   `json:"events"`
	Percent float64 `json:"percent"`
}

// UserDistribution buckets distinct users by device class over seven days.
type UserDistribution struct {
	Days    int           `json:"days"`
	Devices []DeviceShare `json:"devices"`
	Total   int64         `json:"total_users"`
}

// SourceActivity is one entry of the top-sources leaderboard.
type SourceActivity struct {
	Source      string     `json:"source"`
	Events      int64      `json:"event_count"`
	UniqueUsers int64      `json:"unique_users"`
	AvgAgeHours float64    `json:"avg_age_hours"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// TypeShare is one entry of the event-type distribution. AvgProcessingTime
// averages the data.processing_time values of events that carry one.
type TypeShare struct {
	Type              string   `json:"type"`
	Count             int64    `json:"count"`
	Percent           float64  `json:"percent"`
	UniqueUsers       int64    `json:"unique_users"`
	UniqueSources     int64    `json:"unique_sources"`
	AvgProcessingTime *float64 `json:"avg_processing_time,omitempty"`
}

// Service answers the four dashboard analytics queries. Cache misses and a
// disabled cache fall through to SQL transparently.
type Service struct {
	db    *storage.Database
	cache *Cache
}

// NewService creates the analytics read side. cache may be nil.
func NewService(db *storage.Database, cache *Cache) *Service {
	return &Service{db: db, cache: cache}
}

// EventTrends returns bucketed event volume over the trailing window.
// hours clamps to [1, 168]; intervalMinutes defaults to 60.
func (s *Service) EventTrends(ctx context.Context, hours, intervalMinutes int) (*EventTrends, error) {
	if hours < MinTrendHours {
		hours = DefaultTrendHours
	}
	if hours > MaxTrendHours {
		hours = MaxTrendHours
	}
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultTrendIntervalMinutes
	}

	key := fmt.Sprintf("analytics:event_trends:%d:%d", hours, intervalMinutes)
	var cached EventTrends
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	intervalSeconds := int64(intervalMinutes) * 60
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT to_timestamp(floor(extract(epoch FROM timestamp) / $1) * $1) AS bucket,
		       type,
		       count(*)
		FROM events
		WHERE timestamp >= now() - ($2 * interval '1 hour')
		GROUP BY bucket, type
		ORDER BY bucket`,
		intervalSeconds, hours)
	if err != nil {
		return nil, fmt.Errorf("analytics: event trends: %w", err)
	}
	defer rows.Close()

	result := &EventTrends{Hours: hours, IntervalMinutes: intervalMinutes}
	var current *TrendBucket

	for rows.Next() {
		var (
			bucket    time.Time
			eventType string
			count     int64
		)
		if err := rows.Scan(&bucket, &eventType, &count); err != nil {
			return nil, fmt.Errorf("analytics: scan trend: %w", err)
		}
		bucket = bucket.UTC()

		if current == nil || !current.Bucket.Equal(bucket) {
			result.Buckets = append(result.Buckets, TrendBucket{
				Bucket: bucket,
				ByType: make(map[string]int64),
			})
			current = &result.Buckets[len(result.Buckets)-1]
		}

		current.Total += count
		current.ByType[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: iterate trends: %w", err)
	}

	s.cache.Set(ctx, key, result)
	return result, nil
}

// UserDistribution classifies the distinct users of the last seven days by
// the user agent recorded in their events' data payload.
func (s *Service) UserDistribution(ctx context.Context) (*UserDistribution, error) {
	const key = "analytics:user_distribution:7d"
	var cached UserDistribution
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT COALESCE(data->>'user_agent', ''), count(DISTINCT user_id), count(*)
		FROM events
		WHERE timestamp >= now() - interval '7 days' AND user_id IS NOT NULL
		GROUP BY 1`)
	if err != nil {
		return nil, fmt.Errorf("analytics: user distribution: %w", err)
	}
	defer rows.Close()

	type bucket struct{ users, events int64 }
	devices := make(map[string]*bucket)

	result := &UserDistribution{Days: 7}
	for rows.Next() {
		var (
			ua            string
			users, events int64
		)
		if err := rows.Scan(&ua, &users, &events); err != nil {
			return nil, fmt.Errorf("analytics: scan distribution: %w", err)
		}

		device := classifyUserAgent(ua)
		b := devices[device]
		if b == nil {
			b = &bucket{}
			devices[device] = b
		}
		b.users += users
		b.events += events
		result.Total += users
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: iterate distribution: %w", err)
	}

	for device, b := range devices {
		share := DeviceShare{Device: device, Users: b.users, Events: b.events}
		if result.Total > 0 {
			share.Percent = round1(float64(b.users) / float64(result.Total) * 100)
		}
		result.Devices = append(result.Devices, share)
	}
	sort.Slice(result.Devices, func(i, j int) bool {
		if result.Devices[i].Users != result.Devices[j].Users {
			return result.Devices[i].Users > result.Devices[j].Users
		}
		return result.Devices[i].Device < result.Devices[j].Device
	})

	s.cache.Set(ctx, key, result)
	return result, nil
}

// TopSources returns the highest-volume sources of the last 24 hours with
// their distinct users, average event age, and last activity.
func (s *Service) TopSources(ctx context.Context, limit int) ([]SourceActivity, error) {
	if limit <= 0 {
		limit = DefaultTopSourcesLimit
	}

	key := fmt.Sprintf("analytics:top_sources:%d", limit)
	var cached []SourceActivity
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT source,
		       count(*),
		       count(DISTINCT user_id),
		       COALESCE(avg(extract(epoch FROM now() - timestamp))::float8, 0),
		       max(timestamp)
		FROM events
		WHERE timestamp >= now() - interval '24 hours'
		GROUP BY source
		ORDER BY count(*) DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("analytics: top sources: %w", err)
	}
	defer rows.Close()

	sources := make([]SourceActivity, 0, limit)
	for rows.Next() {
		var (
			sa         SourceActivity
			ageSeconds float64
			lastSeen   sql.NullTime
		)
		if err := rows.Scan(&sa.Source, &sa.Events, &sa.UniqueUsers, &ageSeconds, &lastSeen); err != nil {
			return nil, fmt.Errorf("analytics: scan source: %w", err)
		}

		sa.AvgAgeHours = round1(ageSeconds / 3600)
		if lastSeen.Valid {
			t := lastSeen.Time.UTC()
			sa.LastSeen = &t
		}
		sources = append(sources, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: iterate sources: %w", err)
	}

	s.cache.Set(ctx, key, sources)
	return sources, nil
}

// EventTypeDistribution returns per-type shares over the last 24 hours.
func (s *Service) EventTypeDistribution(ctx context.Context) ([]TypeShare, error) {
	const key = "analytics:event_types:24h"
	var cached []TypeShare
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT type,
		       count(*),
		       count(DISTINCT user_id),
		       count(DISTINCT source),
		       avg(CASE WHEN data->>'processing_time' IS NOT NULL
		                THEN (data->>'processing_time')::float8 END)
		FROM events
		WHERE timestamp >= now() - interval '24 hours'
		GROUP BY type
		ORDER BY count(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("analytics: event types: %w", err)
	}
	defer rows.Close()

	var (
		shares []TypeShare
		total  int64
	)
	for rows.Next() {
		var (
			share      TypeShare
			processing sql.NullFloat64
		)
		if err := rows.Scan(&share.Type, &share.Count, &share.UniqueUsers, &share.UniqueSources, &processing); err != nil {
			return nil, fmt.Errorf("analytics: scan type: %w", err)
		}
		if processing.Valid {
			avg := round3(processing.Float64)
			share.AvgProcessingTime = &avg
		}
		shares = append(shares, share)
		total += share.Count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("analytics: iterate types: %w", err)
	}

	for i := range shares {
		if total > 0 {
			shares[i].Percent = round1(float64(shares[i].Count) / float64(total) * 100)
		}
	}

	s.cache.Set(ctx, key, shares)
	return shares, nil
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
