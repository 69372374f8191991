// Package redisstore is the primary Bucket Store realization: an
// embedded Lua script gives atomic refill-then-consume semantics against
// a shared Redis instance, so multiple gateway replicas cooperate on the
// same bucket state.
package redisstore

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ajiwo/rlgate/bucketstore"
)

//go:embed tryconsume.lua
var tryConsumeSrc string

// Config configures a Redis-backed Store.
type Config struct {
	// Addr is the host:port of the Redis server, as spec'd by
	// rate_limiter.redis_addr.
	Addr     string
	Password string
	DB       int
	// PoolSize is the client-side connection pool size; required for
	// the gateway to serve concurrent requests without queuing on a
	// single connection.
	PoolSize int
	// ConnErrorPatterns overrides the default connectivity-error string
	// patterns used to classify a driver error as a StoreError.
	ConnErrorPatterns []string
}

// Store is a Redis-backed bucketstore.Store.
type Store struct {
	client   redis.UniversalClient
	script   *redis.Script
	patterns []string
	health   *bucketstore.HealthTracker
}

// New dials Redis, verifies connectivity, and prepares the try-consume
// script for use.
func New(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	patterns := cfg.ConnErrorPatterns
	if patterns == nil {
		patterns = bucketstore.DefaultConnErrorPatterns()
	}

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, bucketstore.NewStoreError("", bucketstore.FailureConnectivity, fmt.Errorf("redis ping failed: %w", err))
	}

	return &Store{
		client:   client,
		script:   redis.NewScript(tryConsumeSrc),
		patterns: patterns,
		health:   bucketstore.NewHealthTracker(3, 5*time.Second),
	}, nil
}

// NewWithClient wraps an already-connected universal client (cluster,
// sentinel, or single-node), letting the caller own connection setup.
func NewWithClient(client redis.UniversalClient) *Store {
	return &Store{
		client:   client,
		script:   redis.NewScript(tryConsumeSrc),
		patterns: bucketstore.DefaultConnErrorPatterns(),
		health:   bucketstore.NewHealthTracker(3, 5*time.Second),
	}
}

// TryConsume runs the embedded Lua script, which performs the read,
// refill, decide, and write-back in one atomic server-side evaluation.
// redis.Script.Run evaluates by SHA first and transparently falls back
// to EVAL on a cache miss (e.g. after a FLUSHALL/restart), so callers
// never see a NOSCRIPT error.
func (s *Store) TryConsume(ctx context.Context, key string, capacity int, refillIntervalSeconds int, now time.Time) (bucketstore.Outcome, error) {
	if len(key) > bucketstore.MaxKeyBytes {
		return bucketstore.Denied, bucketstore.ErrKeyTooLong
	}

	result, err := s.script.Run(ctx, s.client, []string{key}, capacity, refillIntervalSeconds, now.Unix()).Result()
	if err != nil {
		s.health.RecordFailure()
		classified := bucketstore.ClassifyTryConsumeError(key, err, s.patterns)
		if bucketstore.IsStoreError(classified) {
			return bucketstore.Denied, classified
		}
		// Not a recognized connectivity pattern (e.g. a Lua runtime
		// error) -- still a StoreError from the caller's point of view.
		return bucketstore.Denied, bucketstore.NewStoreError(key, bucketstore.FailureUnknown, classified)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) < 1 {
		s.health.RecordFailure()
		return bucketstore.Denied, bucketstore.NewStoreError(key, bucketstore.FailureUnknown, fmt.Errorf("unexpected script result shape: %#v", result))
	}

	admitted, ok := values[0].(int64)
	if !ok {
		s.health.RecordFailure()
		return bucketstore.Denied, bucketstore.NewStoreError(key, bucketstore.FailureUnknown, fmt.Errorf("unexpected admitted field type: %#v", values[0]))
	}

	s.health.RecordSuccess()
	if admitted == 1 {
		return bucketstore.Admitted, nil
	}
	return bucketstore.Denied, nil
}

// Healthy reports whether recent TryConsume calls have been succeeding.
func (s *Store) Healthy() bool { return s.health.Healthy() }

// Close releases the underlying Redis client's connection pool.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	return nil
}
