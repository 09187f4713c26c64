// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStorage_ReplayExpiry(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStorage(WithClock(clock.Now), WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = s.Close() })
	ctx := t.Context()

	ok, err := s.CheckAndSet(ctx, "jti", clock.Now().Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.CheckAndSet(ctx, "jti", clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	clock.Advance(2 * time.Minute)

	ok, err = s.CheckAndSet(ctx, "jti", clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "expired identifiers can be recorded again")
}

func TestMemoryStorage_AlreadyExpiredIsRetained(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStorage(WithClock(clock.Now), WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = s.Close() })
	ctx := t.Context()
	exp := clock.Now().Add(-10 * time.Second)

	ok, err := s.CheckAndSet(ctx, "old", exp)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, s.Stats().ReplayEntries)

	clock.Advance(MinReplayRetention - time.Second)
	ok, err = s.CheckAndSet(ctx, "old", exp)
	require.NoError(t, err)
	assert.False(t, ok, "identifier must be retained for the minimum retention")

	clock.Advance(time.Second)
	s.cleanupExpired()
	assert.Zero(t, s.Stats().ReplayEntries)
}

func TestMemoryStorage_CleanupExpired(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStorage(WithClock(clock.Now), WithCleanupInterval(time.Hour))
	t.Cleanup(func() { _ = s.Close() })
	ctx := t.Context()

	_, err := s.CheckAndSet(ctx, "short", clock.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = s.CheckAndSet(ctx, "long", clock.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, s.Stats().ReplayEntries)

	clock.Advance(5 * time.Minute)
	s.cleanupExpired()

	assert.Equal(t, 1, s.Stats().ReplayEntries)
}

func TestMemoryStorage_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewMemoryStorage()
	t.Cleanup(func() { _ = s.Close() })
	ctx := t.Context()

	registered := &Client{
		ID:           "c1",
		Name:         "before",
		RedirectURIs: []string{"https://rp/cb"},
		Scopes:       []string{"openid"},
		JWKS:         []byte(`{"keys":[]}`),
	}
	require.NoError(t, s.RegisterClient(ctx, registered))
	registered.RedirectURIs[0] = "https://registered.example/cb"

	got, err := s.GetClient(ctx, "c1")
	require.NoError(t, err)
	got.Name = "mutated"
	got.RedirectURIs[0] = "https://evil.example/cb"
	got.Scopes = append(got.Scopes[:0], "admin")
	got.JWKS[0] = 'x'

	again, err := s.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "before", again.Name)
	assert.Equal(t, []string{"https://rp/cb"}, again.RedirectURIs)
	assert.Equal(t, []string{"openid"}, again.Scopes)
	assert.JSONEq(t, `{"keys":[]}`, string(again.JWKS))

	require.NoError(t, s.RegisterScope(ctx, &Scope{ID: "profile", Claims: []string{"name"}}))
	scope, err := s.GetScope(ctx, "profile")
	require.NoError(t, err)
	scope.Claims[0] = "email"

	scope, err = s.GetScope(ctx, "profile")
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, scope.Claims)
}

func TestMemoryStorage_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewMemoryStorage(WithCleanupInterval(10 * time.Millisecond))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
