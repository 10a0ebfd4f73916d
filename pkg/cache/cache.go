package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisclient "github.com/aeroride/carpool/pkg/redis"
)

// Manager handles caching operations with JSON serialization. It is strictly
// best-effort: a down or absent backend turns every read into a miss and every
// write into a silent success.
type Manager struct {
	redis *redisclient.Client
}

// NewManager creates a new cache manager
func NewManager(redis *redisclient.Client) *Manager {
	return &Manager{redis: redis}
}

// Get retrieves a cached value and unmarshals it into result. Returns
// redis.Nil on a miss (including degraded mode).
func (m *Manager) Get(ctx context.Context, key string, result interface{}) error {
	data, err := m.redis.GetString(ctx, key)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), result)
}

// Set marshals and caches a value with expiration
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return m.redis.SetWithExpiration(ctx, key, string(data), ttl)
}

// GetOrSet retrieves from cache or executes fn and caches the result
func (m *Manager) GetOrSet(ctx context.Context, key string, ttl time.Duration, result interface{}, fn func() (interface{}, error)) error {
	err := m.Get(ctx, key, result)
	if err == nil {
		return nil // Cache hit
	}

	// Cache miss - execute function
	data, err := fn()
	if err != nil {
		return err
	}

	// Cache the result outside the request path
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Set(cacheCtx, key, data, ttl)
	}()

	// Marshal the result into the result pointer
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return json.Unmarshal(jsonData, result)
}

// Delete removes keys from cache
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	return m.redis.Delete(ctx, keys...)
}

// Invalidate removes keys matching a glob pattern using SCAN.
func (m *Manager) Invalidate(ctx context.Context, pattern string) error {
	var cursor uint64

	for {
		keys, next, err := m.redis.Scan(ctx, cursor, pattern, 100)
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			if err := m.redis.Delete(ctx, keys...); err != nil {
				return fmt.Errorf("failed to delete keys: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return nil
}

// CacheKeys defines common cache key patterns
type CacheKeys struct{}

var Keys = CacheKeys{}

// User returns cache key for user profile data
func (k CacheKeys) User(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// Ride returns cache key for ride detail
func (k CacheKeys) Ride(rideID string) string {
	return fmt.Sprintf("ride:%s", rideID)
}

// RideSearch returns cache key for a ride search result page
func (k CacheKeys) RideSearch(airportID, direction, date string, offset int) string {
	return fmt.Sprintf("ride_search:%s:%s:%s:offset:%d", airportID, direction, date, offset)
}

// Notifications returns cache key for a user's notification list
func (k CacheKeys) Notifications(userID string) string {
	return fmt.Sprintf("notifications:%s", userID)
}

// Wallet returns cache key for wallet balance
func (k CacheKeys) Wallet(userID string) string {
	return fmt.Sprintf("wallet:%s", userID)
}

// Airport returns cache key for an airport record
func (k CacheKeys) Airport(airportID string) string {
	return fmt.Sprintf("airport:%s", airportID)
}

// AirportSearch returns cache key for an airport catalog search
func (k CacheKeys) AirportSearch(query, country string) string {
	return fmt.Sprintf("airport_search:%s:%s", query, country)
}

// RatingStats returns cache key for a user's rating aggregate
func (k CacheKeys) RatingStats(userID string) string {
	return fmt.Sprintf("rating_stats:%s", userID)
}

// TTL defines common cache TTL durations
type CacheTTL struct{}

var TTL = CacheTTL{}

func (t CacheTTL) Short() time.Duration    { return 5 * time.Minute }
func (t CacheTTL) Medium() time.Duration   { return 15 * time.Minute }
func (t CacheTTL) Long() time.Duration     { return 1 * time.Hour }
func (t CacheTTL) VeryLong() time.Duration { return 24 * time.Hour }
