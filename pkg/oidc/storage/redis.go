// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultConnectTries bounds the startup connectivity check.
	DefaultConnectTries = 5
)

// Key types used to namespace Redis entries.
const (
	KeyTypeClient = "client"
	KeyTypeScope  = "scope"
	KeyTypeReplay = "jti"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is a single-node address. Ignored when SentinelAddrs is set.
	Addr string

	// MasterName and SentinelAddrs select Sentinel failover mode.
	MasterName    string
	SentinelAddrs []string

	DB       int
	Username string
	Password string

	// KeyPrefix namespaces all keys, e.g. "thv:oidc:".
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ConnectTries is how often the initial ping is attempted with
	// exponential backoff. Defaults to DefaultConnectTries.
	ConnectTries uint
}

// RedisStorage implements Store on top of Redis so that several provider
// replicas share clients and replay state.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ Store = (*RedisStorage)(nil)

// NewRedisStorage connects to Redis and verifies the connection.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if err := validateRedisConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	var client redis.UniversalClient
	if len(cfg.SentinelAddrs) > 0 {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			DB:            cfg.DB,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			DB:           cfg.DB,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	if cfg.ConnectTries == 0 {
		cfg.ConnectTries = DefaultConnectTries
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Debugw("redis not reachable yet", "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(cfg.ConnectTries),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func validateRedisConfig(cfg *RedisConfig) error {
	if len(cfg.SentinelAddrs) > 0 {
		if cfg.MasterName == "" {
			return errors.New("sentinel master name is required")
		}
		return nil
	}
	if cfg.Addr == "" {
		return errors.New("either addr or sentinel addresses are required")
	}
	return nil
}

func redisKey(prefix, keyType, id string) string {
	return prefix + keyType + ":" + id
}

// Close closes the Redis client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Ping checks connectivity.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// RegisterClient stores the client as JSON.
func (s *RedisStorage) RegisterClient(ctx context.Context, client *Client) error {
	if client == nil || client.ID == "" {
		return errors.New("client ID is required")
	}
	stored := *client
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(s.keyPrefix, KeyTypeClient, client.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	return nil
}

// GetClient loads a client.
func (s *RedisStorage) GetClient(ctx context.Context, id string) (*Client, error) {
	data, err := s.client.Get(ctx, redisKey(s.keyPrefix, KeyTypeClient, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("Client", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	var client Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

// RegisterScope stores the scope as JSON.
func (s *RedisStorage) RegisterScope(ctx context.Context, scope *Scope) error {
	if scope == nil || scope.ID == "" {
		return errors.New("scope ID is required")
	}
	data, err := json.Marshal(scope)
	if err != nil {
		return fmt.Errorf("failed to marshal scope: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(s.keyPrefix, KeyTypeScope, scope.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store scope: %w", err)
	}
	return nil
}

// GetScope loads a scope.
func (s *RedisStorage) GetScope(ctx context.Context, id string) (*Scope, error) {
	data, err := s.client.Get(ctx, redisKey(s.keyPrefix, KeyTypeScope, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("Scope", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	var scope Scope
	if err := json.Unmarshal(data, &scope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scope: %w", err)
	}
	return &scope, nil
}

// CheckAndSet uses SET NX with the retention as TTL so the check and the
// write happen in one round trip.
func (s *RedisStorage) CheckAndSet(ctx context.Context, id string, expiresAt time.Time) (bool, error) {
	if id == "" {
		return false, errors.New("replay identifier is required")
	}
	now := time.Now()
	until := retainUntil(now, expiresAt)
	set, err := s.client.SetNX(ctx, redisKey(s.keyPrefix, KeyTypeReplay, id), until.Unix(), until.Sub(now)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record replay identifier: %w", err)
	}
	return set, nil
}
