// Package cache provides an optional Redis read-through cache for
// session results. It is wired only when REDIS_URL is set; the API
// serves straight from SQLite otherwise.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/verdantiq/nexus/internal/domain"
)

const resultsPrefix = "nexus:results:"

// ResultsCache caches computed session results in Redis.
type ResultsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultsCache connects to Redis and verifies connectivity.
func NewResultsCache(ctx context.Context, redisURL string, ttl time.Duration) (*ResultsCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	return &ResultsCache{client: client, ttl: ttl}, nil
}

func (c *ResultsCache) key(sessionID string) string {
	return resultsPrefix + sessionID
}

// Get returns cached results for a session, or nil on a miss. Cache
// failures are logged and treated as misses so Redis outages never
// break the results endpoint.
func (c *ResultsCache) Get(ctx context.Context, sessionID string) *domain.Results {
	data, err := c.client.Get(ctx, c.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		slog.Warn("Results cache read failed", "error", err, "session_id", sessionID)
		return nil
	}

	var results domain.Results
	if err := json.Unmarshal(data, &results); err != nil {
		slog.Warn("Results cache held malformed entry", "error", err, "session_id", sessionID)
		return nil
	}
	return &results
}

// Set stores results with the configured TTL.
func (c *ResultsCache) Set(ctx context.Context, results *domain.Results) {
	data, err := json.Marshal(results)
	if err != nil {
		slog.Warn("Failed to marshal results for cache", "error", err, "session_id", results.SessionID)
		return
	}
	if err := c.client.Set(ctx, c.key(results.SessionID), data, c.ttl).Err(); err != nil {
		slog.Warn("Results cache write failed", "error", err, "session_id", results.SessionID)
	}
}

// Invalidate removes a session's cached results.
func (c *ResultsCache) Invalidate(ctx context.Context, sessionID string) {
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		slog.Warn("Results cache invalidation failed", "error", err, "session_id", sessionID)
	}
}

// Close releases the Redis connection.
func (c *ResultsCache) Close() error {
	return c.client.Close()
}
