/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects one instance to run plan refreshes when
// several replicas share a database.
package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/rerun_calendar/internal/telemetry"
)

const (
	defaultElectionKey   = "reruncal:leader:refresh"
	defaultLeaseDuration = 15 * time.Second
)

// Lease is a single named lock with an expiry.
type Lease interface {
	// Acquire takes or renews the lock for holder.
	Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error)
	// Release drops the lock if holder still owns it.
	Release(ctx context.Context, holder string) error
	// Holder reports the current owner, empty when unowned.
	Holder(ctx context.Context) (string, error)
}

// Config configures an election.
type Config struct {
	LeaseDuration   time.Duration
	RenewalInterval time.Duration
	InstanceID      string
}

func (c Config) withDefaults() Config {
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.RenewalInterval <= 0 || c.RenewalInterval >= c.LeaseDuration {
		c.RenewalInterval = c.LeaseDuration / 3
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	return c
}

// Election campaigns for a lease until stopped.
type Election struct {
	lease  Lease
	config Config
	logger zerolog.Logger

	leader   atomic.Bool
	leaderCh chan bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an election over lease.
func New(lease Lease, config Config, logger zerolog.Logger) *Election {
	config = config.withDefaults()
	return &Election{
		lease:    lease,
		config:   config,
		logger:   logger.With().Str("component", "leader_election").Str("instance_id", config.InstanceID).Logger(),
		leaderCh: make(chan bool, 1),
	}
}

// Start campaigns in the background. The first attempt happens before
// Start returns.
func (e *Election) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	e.logger.Info().Dur("lease_duration", e.config.LeaseDuration).Msg("starting leader election")
	e.attempt(ctx)
	go e.campaign(ctx)
}

// Stop ends the campaign and releases the lease if held.
func (e *Election) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	if !e.leader.Load() {
		return nil
	}
	e.set(false)
	if err := e.lease.Release(ctx, e.config.InstanceID); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	e.logger.Info().Msg("released leadership")
	return nil
}

// IsLeader reports whether this instance holds the lease.
func (e *Election) IsLeader() bool {
	return e.leader.Load()
}

// LeaderCh receives leadership changes. Changes are dropped when nobody
// reads.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// InstanceID identifies this campaigner.
func (e *Election) InstanceID() string {
	return e.config.InstanceID
}

func (e *Election) campaign(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.config.RenewalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attempt(ctx)
		}
	}
}

func (e *Election) attempt(ctx context.Context) {
	acquired, err := e.lease.Acquire(ctx, e.config.InstanceID, e.config.LeaseDuration)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("failed to acquire leadership lease")
		}
		e.set(false)
		return
	}
	e.set(acquired)
}

func (e *Election) set(leader bool) {
	if e.leader.Swap(leader) == leader {
		return
	}
	if leader {
		e.logger.Info().Msg("acquired leadership")
		telemetry.LeaderElectionStatus.Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues("acquired").Inc()
	} else {
		e.logger.Warn().Msg("lost leadership")
		telemetry.LeaderElectionStatus.Set(0)
		telemetry.LeaderElectionChanges.WithLabelValues("lost").Inc()
	}
	select {
	case e.leaderCh <- leader:
	default:
	}
}

// RedisLease keeps the lock in a single Redis key.
type RedisLease struct {
	client *redis.Client
	key    string
}

// renewScript extends the expiry only for the current owner.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// NewRedisLease uses key on client, or the default refresh key when key is
// empty.
func NewRedisLease(client *redis.Client, key string) *RedisLease {
	if key == "" {
		key = defaultElectionKey
	}
	return &RedisLease{client: client, key: key}
}

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set lock: %w", err)
	}
	if ok {
		return true, nil
	}
	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	return renewed == 1, nil
}

// Release implements Lease.
func (l *RedisLease) Release(ctx context.Context, holder string) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, holder).Err()
}

// Holder implements Lease.
func (l *RedisLease) Holder(ctx context.Context) (string, error) {
	holder, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return holder, nil
}

// Connect dials Redis for a lease and checks the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis for leader election: %w", err)
	}
	return client, nil
}
