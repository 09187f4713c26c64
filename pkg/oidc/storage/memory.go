// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
)

// MemoryStorage implements Store with in-memory maps. It is safe for
// concurrent use and intended for development, tests and single-replica
// deployments.
type MemoryStorage struct {
	mu sync.RWMutex

	clients map[string]*Client
	scopes  map[string]*Scope

	// replay maps one-time identifiers to their expiry.
	replay map[string]time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	closeOnce       sync.Once

	now func() time.Time
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval. Non-positive values
// keep the default.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		if interval > 0 {
			s.cleanupInterval = interval
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.now = now
	}
}

// NewMemoryStorage creates a MemoryStorage and starts its background cleanup.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		clients:         make(map[string]*Client),
		scopes:          make(map[string]*Scope),
		replay:          make(map[string]time.Time),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
	})
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes expired replay entries. Keys are collected under the
// read lock and deleted under the write lock.
func (s *MemoryStorage) cleanupExpired() {
	now := s.now()

	s.mu.RLock()
	var expired []string
	for id, exp := range s.replay {
		if now.After(exp) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range expired {
		// re-check: the entry may have been refreshed in between
		if exp, ok := s.replay[id]; ok && now.After(exp) {
			delete(s.replay, id)
		}
	}
	logger.Debugw("purged expired replay entries", "count", len(expired))
}

// RegisterClient adds or replaces a client.
func (s *MemoryStorage) RegisterClient(_ context.Context, client *Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("client ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := client.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.clients[client.ID] = stored
	return nil
}

// GetClient returns a copy of the client registered under id.
func (s *MemoryStorage) GetClient(_ context.Context, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		logger.Debugw("client not found", "client_id", id)
		return nil, notFound("Client", id)
	}
	return client.Clone(), nil
}

// RegisterScope adds or replaces a scope.
func (s *MemoryStorage) RegisterScope(_ context.Context, scope *Scope) error {
	if scope == nil || scope.ID == "" {
		return fmt.Errorf("scope ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[scope.ID] = scope.Clone()
	return nil
}

// GetScope returns the scope registered under id.
func (s *MemoryStorage) GetScope(_ context.Context, id string) (*Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope, ok := s.scopes[id]
	if !ok {
		return nil, notFound("Scope", id)
	}
	return scope.Clone(), nil
}

// CheckAndSet records id until expiresAt, or for at least MinReplayRetention,
// unless a live entry already exists.
func (s *MemoryStorage) CheckAndSet(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("replay identifier is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.replay[id]; ok && now.Before(exp) {
		return false, nil
	}
	s.replay[id] = retainUntil(now, expiresAt)
	return true, nil
}

// Stats reports the number of stored entries.
type Stats struct {
	Clients       int
	Scopes        int
	ReplayEntries int
}

// Stats returns current entry counts.
func (s *MemoryStorage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Clients:       len(s.clients),
		Scopes:        len(s.scopes),
		ReplayEntries: len(s.replay),
	}
}
