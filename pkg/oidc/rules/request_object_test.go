// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/clientjwt"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/federation"
	fedmocks "github.com/stacklok/toolhive-oidc/pkg/oidc/federation/mocks"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
	storagemocks "github.com/stacklok/toolhive-oidc/pkg/oidc/storage/mocks"
	"github.com/stacklok/toolhive-oidc/pkg/testkit"
)

const (
	entityID       = "https://rp.federation.example"
	entityCallback = "https://rp.federation.example/cb"
)

func requestObjectClaims(clientID string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":       clientID,
		"aud":       testIssuer,
		"client_id": clientID,
		"exp":       time.Now().Add(5 * time.Minute).Unix(),
		"jti":       "ro-1",
		"nonce":     "n-0S6",
	}
}

func TestRequestObject(t *testing.T) {
	t.Parallel()

	other := testkit.NewSigningKey(t, "other-key")

	tests := []struct {
		name    string
		build   func(f *fixture) string
		wantErr bool
	}{
		{
			name:  "signed with registered key",
			build: func(f *fixture) string { return f.key.Sign(t, requestObjectClaims(publicClientID)) },
		},
		{
			name:    "signed with unknown key",
			build:   func(*fixture) string { return other.Sign(t, requestObjectClaims(publicClientID)) },
			wantErr: true,
		},
		{
			name: "wrong audience",
			build: func(f *fixture) string {
				c := requestObjectClaims(publicClientID)
				c["aud"] = "https://someone-else"
				return f.key.Sign(t, c)
			},
			wantErr: true,
		},
		{
			name: "expired",
			build: func(f *fixture) string {
				c := requestObjectClaims(publicClientID)
				c["exp"] = time.Now().Add(-time.Hour).Unix()
				return f.key.Sign(t, c)
			},
			wantErr: true,
		},
		{
			name:    "client_id mismatch",
			build:   func(f *fixture) string { return f.key.Sign(t, requestObjectClaims(keyClientID)) },
			wantErr: true,
		},
		{
			name:    "unsigned not allowed",
			build:   func(*fixture) string { return testkit.Unsigned(t, requestObjectClaims(publicClientID)) },
			wantErr: true,
		},
		{
			name:    "malformed",
			build:   func(*fixture) string { return "not-a-jwt" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			q := codeRequest()
			q.Set("request", tt.build(f))
			eval, err := f.authorize(t, q)
			if tt.wantErr {
				protoErr := requireProtocolError(t, err, "invalid_request_object")
				assert.Equal(t, string(KeyRequestObject), protoErr.Rule())
				return
			}
			require.NoError(t, err)
			ro, err := Value[*RequestObject](eval.Bag, KeyRequestObject)
			require.NoError(t, err)
			assert.True(t, ro.Signed)
			nonce, ok := ro.String("nonce")
			assert.True(t, ok)
			assert.Equal(t, "n-0S6", nonce)
		})
	}
}

func TestRequestObject_ClaimsTakePrecedence(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	claims := requestObjectClaims(publicClientID)
	claims["scope"] = "openid"
	claims["state"] = "signed-state"
	claims["max_age"] = 600
	claims["claims"] = map[string]any{"id_token": map[string]any{"name": nil}}

	q := codeRequest()
	q.Set("request", f.key.Sign(t, claims))
	q.Set("nonce", "unsigned-nonce")
	f.auth.EXPECT().Session(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()

	eval, err := f.authorize(t, q)
	require.NoError(t, err)

	scopes, err := Value[[]*storage.Scope](eval.Bag, KeyScope)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	assert.Equal(t, ScopeOpenID, scopes[0].ID)

	state, err := Value[string](eval.Bag, KeyState)
	require.NoError(t, err)
	assert.Equal(t, "signed-state", state)

	nonce, err := Value[string](eval.Bag, KeyNonce)
	require.NoError(t, err)
	assert.Equal(t, "n-0S6", nonce)

	maxAge, err := Value[*MaxAge](eval.Bag, KeyMaxAge)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, maxAge.Value)

	assert.True(t, eval.Bag.Has(KeyRequestedClaims))
}

func TestRequestObject_ParamValues(t *testing.T) {
	t.Parallel()

	ro := &RequestObject{Claims: jwt.MapClaims{
		"iss":     "c1",
		"jti":     "j",
		"request": "nested",
		"scope":   "openid",
		"max_age": float64(30),
		"empty":   "",
		"flag":    true,
		"claims":  map[string]any{"userinfo": map[string]any{"email": nil}},
	}}

	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{name: "scope", want: "openid", wantOK: true},
		{name: "max_age", want: "30", wantOK: true},
		{name: "flag", want: "true", wantOK: true},
		{name: "claims", want: `{"userinfo":{"email":null}}`, wantOK: true},
		{name: "iss"},
		{name: "jti"},
		{name: "request"},
		{name: "empty"},
		{name: "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := ro.Param(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestObject_UnsignedAllowed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	require.NoError(t, f.store.RegisterClient(t.Context(), &storage.Client{
		ID:                         "c5",
		Public:                     true,
		RedirectURIs:               []string{rpCallback},
		Scopes:                     []string{ScopeOpenID},
		AllowUnsignedRequestObject: true,
	}))

	claims := jwt.MapClaims{"client_id": "c5", "nonce": "abc"}
	q := url.Values{
		"client_id":      {"c5"},
		"redirect_uri":   {rpCallback},
		"request":        {testkit.Unsigned(t, claims)},
		"code_challenge": {validChallenge},
	}
	eval, err := f.authorize(t, q, KeyClient, KeyRequestObject, KeyRedirectURI)
	require.NoError(t, err)

	ro, err := Value[*RequestObject](eval.Bag, KeyRequestObject)
	require.NoError(t, err)
	assert.False(t, ro.Signed)
}

func TestRequestObject_JWKSURI(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	server := testkit.NewJWKSServer(t, f.key.PublicJWKS(t))
	require.NoError(t, f.store.RegisterClient(t.Context(), &storage.Client{
		ID:           "c6",
		Public:       true,
		RedirectURIs: []string{rpCallback},
		Scopes:       []string{ScopeOpenID},
		JWKSURI:      server.JWKSURI(),
	}))

	q := url.Values{
		"client_id":    {"c6"},
		"redirect_uri": {rpCallback},
		"request":      {f.key.Sign(t, requestObjectClaims("c6"))},
	}
	eval, err := f.authorize(t, q, KeyClient, KeyRequestObject, KeyRedirectURI)
	require.NoError(t, err)
	assert.True(t, eval.Bag.Has(KeyRequestObject))
	assert.Positive(t, server.Fetches())
}

type federationFixture struct {
	*fixture
	resolver *fedmocks.MockTrustChainResolver
	entity   *testkit.SigningKey
}

func newFederationFixture(t *testing.T, replay storage.ReplayCache) *federationFixture {
	t.Helper()
	resolver := fedmocks.NewMockTrustChainResolver(gomock.NewController(t))
	f := newFixture(t, func(c *Collaborators) {
		r := replay
		if r == nil {
			r = c.Replay
		}
		c.Federation = &Federation{
			Resolver: resolver,
			Verifier: clientjwt.NewVerifier(),
			Replay:   r,
			Issuer:   testIssuer,
		}
	})
	return &federationFixture{fixture: f, resolver: resolver, entity: testkit.NewSigningKey(t, "entity-key")}
}

func (f *federationFixture) chain(t *testing.T) *federation.TrustChain {
	t.Helper()
	expiresAt := time.Now().Add(time.Hour)
	return &federation.TrustChain{
		EntityID: entityID,
		Client: &storage.Client{
			ID:                      entityID,
			EntityID:                entityID,
			Public:                  true,
			RedirectURIs:            []string{entityCallback},
			Scopes:                  []string{ScopeOpenID},
			JWKS:                    f.entity.PublicJWKS(t),
			TokenEndpointAuthMethod: storage.AuthMethodPrivateKeyJWT,
			TrustExpiresAt:          expiresAt,
		},
		Keys:      f.entity.PublicSet(t),
		ExpiresAt: expiresAt,
	}
}

func (f *federationFixture) request(t *testing.T, claims jwt.MapClaims) url.Values {
	t.Helper()
	return url.Values{
		"client_id":    {entityID},
		"redirect_uri": {entityCallback},
		"scope":        {"openid"},
		"request":      {f.entity.Sign(t, claims)},
	}
}

var federationKeys = []Key{KeyClient, KeyRequestObject, KeyRedirectURI, KeyState, KeyScope}

func TestClient_FederatedRegistration(t *testing.T) {
	t.Parallel()
	f := newFederationFixture(t, nil)
	f.resolver.EXPECT().Resolve(gomock.Any(), entityID).Return(f.chain(t), nil)

	eval, err := f.authorize(t, f.request(t, requestObjectClaims(entityID)), federationKeys...)
	require.NoError(t, err)

	client, err := Value[*storage.Client](eval.Bag, KeyClient)
	require.NoError(t, err)
	assert.Equal(t, entityID, client.ID)
	assert.True(t, client.IsFederated())

	ro, err := Value[*RequestObject](eval.Bag, KeyRequestObject)
	require.NoError(t, err)
	assert.True(t, ro.Signed)

	stored, err := f.store.GetClient(t.Context(), entityID)
	require.NoError(t, err)
	assert.Equal(t, []string{entityCallback}, stored.RedirectURIs)
}

func TestClient_FederatedReplay(t *testing.T) {
	t.Parallel()

	replay := storagemocks.NewMockReplayCache(gomock.NewController(t))
	replay.EXPECT().CheckAndSet(gomock.Any(), "request_object:"+entityID+":ro-1", gomock.Any()).Return(false, nil)

	f := newFederationFixture(t, replay)
	f.resolver.EXPECT().Resolve(gomock.Any(), entityID).Return(f.chain(t), nil)

	_, err := f.authorize(t, f.request(t, requestObjectClaims(entityID)), federationKeys...)
	protoErr := requireProtocolError(t, err, "invalid_request_object")
	assert.Contains(t, protoErr.Hint(), "already been used")

	_, err = f.store.GetClient(t.Context(), entityID)
	assert.True(t, storage.IsNotFound(err), "a replayed request object must not register the client")
}

func TestClient_FederatedRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		resolve bool
		claims  func() jwt.MapClaims
		code    string
	}{
		{
			name:   "missing jti",
			claims: func() jwt.MapClaims { c := requestObjectClaims(entityID); delete(c, "jti"); return c },
			code:   "invalid_request_object",
		},
		{
			name:   "missing exp",
			claims: func() jwt.MapClaims { c := requestObjectClaims(entityID); delete(c, "exp"); return c },
			code:   "invalid_request_object",
		},
		{
			name:   "issuer mismatch",
			claims: func() jwt.MapClaims { c := requestObjectClaims(entityID); c["iss"] = "https://other"; return c },
			code:   "invalid_request_object",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFederationFixture(t, nil)
			f.resolver.EXPECT().Resolve(gomock.Any(), entityID).Return(f.chain(t), nil)

			_, err := f.authorize(t, f.request(t, tt.claims()), federationKeys...)
			requireProtocolError(t, err, tt.code)
		})
	}
}

func TestClient_FederatedUntrusted(t *testing.T) {
	t.Parallel()
	f := newFederationFixture(t, nil)
	f.resolver.EXPECT().Resolve(gomock.Any(), entityID).
		Return(nil, fmt.Errorf("no anchor: %w", federation.ErrUntrusted))

	_, err := f.authorize(t, f.request(t, requestObjectClaims(entityID)), federationKeys...)
	protoErr := requireProtocolError(t, err, "invalid_client")
	assert.False(t, protoErr.Redirectable())
}

func TestClient_TrustResolutionOutlivesCancelledCaller(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })
	resolver := fedmocks.NewMockTrustChainResolver(gomock.NewController(t))
	rule := NewClientRule(store, WithFederation(&Federation{Resolver: resolver}))
	chain := &federation.TrustChain{EntityID: entityID}

	var startOnce sync.Once
	started := make(chan struct{})
	release := make(chan struct{})
	resolver.EXPECT().Resolve(gomock.Any(), entityID).
		DoAndReturn(func(ctx context.Context, _ string) (*federation.TrustChain, error) {
			startOnce.Do(func() { close(started) })
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return chain, nil
		}).MinTimes(1)

	firstCtx, cancel := context.WithCancel(t.Context())
	firstErr := make(chan error, 1)
	go func() {
		_, err := rule.trust(firstCtx, entityID)
		firstErr <- err
	}()
	<-started

	type result struct {
		chain *federation.TrustChain
		err   error
	}
	second := make(chan result, 1)
	go func() {
		got, err := rule.trust(t.Context(), entityID)
		second <- result{got, err}
	}()

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Same(t, chain, got.chain)
}

func TestClient_FederationNeedsRequestObject(t *testing.T) {
	t.Parallel()
	f := newFederationFixture(t, nil)

	q := f.request(t, requestObjectClaims(entityID))
	q.Del("request")
	_, err := f.authorize(t, q, federationKeys...)
	requireProtocolError(t, err, "invalid_client")
}

func TestClient_ExpiredTrustIsRefreshed(t *testing.T) {
	t.Parallel()
	f := newFederationFixture(t, nil)

	stale := f.chain(t).Client
	stale.TrustExpiresAt = time.Now().Add(-time.Minute)
	stale.RedirectURIs = []string{"https://old/cb"}
	require.NoError(t, f.store.RegisterClient(t.Context(), stale))

	fresh := f.chain(t)
	f.resolver.EXPECT().Resolve(gomock.Any(), entityID).Return(fresh, nil)

	q := url.Values{"client_id": {entityID}, "redirect_uri": {entityCallback}}
	eval, err := f.authorize(t, q, KeyClient, KeyRedirectURI)
	require.NoError(t, err)

	client, err := Value[*storage.Client](eval.Bag, KeyClient)
	require.NoError(t, err)
	assert.Equal(t, []string{entityCallback}, client.RedirectURIs)
	assert.True(t, client.TrustExpiresAt.After(time.Now()))
}
