/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps recently built calendar runs in Redis, keyed by plan
// digest. Every method is safe on a nil *Cache and on a cache whose Redis
// connection has failed; both behave as permanent misses.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/rerun_calendar/internal/models"
	"github.com/friendsincode/rerun_calendar/internal/telemetry"
)

// DefaultRunTTL applies when Config.RunTTL is zero.
const DefaultRunTTL = time.Hour

// KeyRun prefixes run entries; the plan digest follows.
const KeyRun = "reruncal:cache:run:"

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RunTTL        time.Duration

	// DisableOnError trips the breaker on the first Redis error.
	DisableOnError bool
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New connects to Redis. An unreachable server yields a disabled cache, not
// an error.
func New(cfg Config, logger zerolog.Logger) *Cache {
	logger = logger.With().Str("component", "cache").Logger()
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = DefaultRunTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, running without calendar cache")
		_ = client.Close()
		return &Cache{logger: logger, config: cfg, disabled: true}
	}

	logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.RunTTL).Msg("calendar cache ready")
	return &Cache{client: client, logger: logger, config: cfg}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable reports whether lookups reach Redis.
func (c *Cache) IsAvailable() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling calendar cache after redis error")
	}
}

// GetRun returns the cached run for digest.
func (c *Cache) GetRun(ctx context.Context, digest string) (*models.CalendarRun, bool) {
	if !c.IsAvailable() {
		return nil, false
	}

	data, err := c.client.Get(ctx, KeyRun+digest).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheOperations.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		telemetry.CacheOperations.WithLabelValues("error").Inc()
		c.handleError(err, "get")
		return nil, false
	}

	var run models.CalendarRun
	if err := json.Unmarshal(data, &run); err != nil {
		c.logger.Debug().Err(err).Str("digest", digest).Msg("discarding undecodable cache entry")
		telemetry.CacheOperations.WithLabelValues("miss").Inc()
		return nil, false
	}
	telemetry.CacheOperations.WithLabelValues("hit").Inc()
	return &run, true
}

// SetRun stores run under its digest.
func (c *Cache) SetRun(ctx context.Context, run *models.CalendarRun) error {
	if !c.IsAvailable() || run == nil || run.Digest == "" {
		return nil
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal calendar run: %w", err)
	}
	if err := c.client.Set(ctx, KeyRun+run.Digest, data, c.config.RunTTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

// InvalidateRun drops the entry for digest.
func (c *Cache) InvalidateRun(ctx context.Context, digest string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, KeyRun+digest).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

// InvalidateAll drops every cached run.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, KeyRun+"*", 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
