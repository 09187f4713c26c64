// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the client, scope and replay-prevention stores
// consulted by the request validation rules, with in-memory, Redis and SQLite
// implementations.
package storage

//go:generate mockgen -destination=mocks/mock_storage.go -package=mocks -source=types.go ClientRepository,ScopeRepository,ReplayCache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ory/fosite"
)

// DefaultCleanupInterval is how often in-memory stores purge expired entries.
const DefaultCleanupInterval = 5 * time.Minute

// MinReplayRetention is how long a one-time identifier is remembered when its
// own expiry is sooner, including identifiers that already expired. It must
// exceed the clock leeway of every token verifier.
const MinReplayRetention = 2 * time.Minute

// ErrNotFound is returned when a client or scope does not exist.
var ErrNotFound = errors.New("storage: not found")

// Token endpoint authentication methods.
const (
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
	AuthMethodPrivateKeyJWT     = "private_key_jwt"
	AuthMethodNone              = "none"
)

// Client is a registered relying party. It satisfies fosite.Client so it can be
// shared with fosite-based token issuance.
type Client struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`

	// HashedSecret is the bcrypt hash of the client secret. Empty for public clients.
	HashedSecret []byte `json:"secret,omitempty"`

	RedirectURIs           []string `json:"redirect_uris"`
	PostLogoutRedirectURIs []string `json:"post_logout_redirect_uris,omitempty"`
	GrantTypes             []string `json:"grant_types,omitempty"`
	ResponseTypes          []string `json:"response_types,omitempty"`
	Scopes                 []string `json:"scopes"`

	// Public clients cannot keep a secret and must use PKCE.
	Public bool `json:"public"`

	// Disabled clients are rejected as invalid_client.
	Disabled bool `json:"disabled,omitempty"`

	// AuthSource names the authentication source users of this client log in with.
	AuthSource string `json:"auth_source,omitempty"`

	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method,omitempty"`

	// JWKS is an inline JSON Web Key Set; JWKSURI points at a remote one.
	JWKS    json.RawMessage `json:"jwks,omitempty"`
	JWKSURI string          `json:"jwks_uri,omitempty"`

	// AllowUnsignedRequestObject permits request objects with alg "none".
	AllowUnsignedRequestObject bool `json:"allow_unsigned_request_object,omitempty"`

	// EntityID and TrustExpiresAt are set for clients registered through
	// OpenID Federation trust chain resolution.
	EntityID       string    `json:"entity_id,omitempty"`
	TrustExpiresAt time.Time `json:"trust_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

var _ fosite.Client = (*Client)(nil)

// GetID returns the client ID.
func (c *Client) GetID() string { return c.ID }

// GetHashedSecret returns the hashed secret.
func (c *Client) GetHashedSecret() []byte { return c.HashedSecret }

// GetRedirectURIs returns the registered redirect URIs.
func (c *Client) GetRedirectURIs() []string { return c.RedirectURIs }

// GetGrantTypes returns the allowed grant types, defaulting to authorization_code.
func (c *Client) GetGrantTypes() fosite.Arguments {
	if len(c.GrantTypes) == 0 {
		return fosite.Arguments{"authorization_code"}
	}
	return c.GrantTypes
}

// GetResponseTypes returns the allowed response types, defaulting to code.
func (c *Client) GetResponseTypes() fosite.Arguments {
	if len(c.ResponseTypes) == 0 {
		return fosite.Arguments{"code"}
	}
	return c.ResponseTypes
}

// GetScopes returns the scopes the client may request.
func (c *Client) GetScopes() fosite.Arguments { return c.Scopes }

// IsPublic reports whether the client is public.
func (c *Client) IsPublic() bool { return c.Public }

// GetAudience is unused and always empty.
func (*Client) GetAudience() fosite.Arguments { return nil }

// IsConfidential reports whether the client can authenticate with a secret or key.
func (c *Client) IsConfidential() bool { return !c.Public }

// IsFederated reports whether the client was registered through federation.
func (c *Client) IsFederated() bool { return c.EntityID != "" }

// TrustExpired reports whether a federated client's trust chain must be re-resolved.
func (c *Client) TrustExpired(now time.Time) bool {
	return c.IsFederated() && !c.TrustExpiresAt.IsZero() && now.After(c.TrustExpiresAt)
}

// AllowsScope reports whether scope is registered for the client.
func (c *Client) AllowsScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// AuthMethod returns the token endpoint authentication method, deriving a
// default from the client type when none is registered.
func (c *Client) AuthMethod() string {
	if c.TokenEndpointAuthMethod != "" {
		return c.TokenEndpointAuthMethod
	}
	if c.Public {
		return AuthMethodNone
	}
	return AuthMethodClientSecretBasic
}

// Scope is a resolvable OAuth scope and the claims it releases.
type Scope struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Claims      []string `json:"claims,omitempty"`
}

// Clone returns a deep copy of the client.
func (c *Client) Clone() *Client {
	out := *c
	out.HashedSecret = slices.Clone(c.HashedSecret)
	out.RedirectURIs = slices.Clone(c.RedirectURIs)
	out.PostLogoutRedirectURIs = slices.Clone(c.PostLogoutRedirectURIs)
	out.GrantTypes = slices.Clone(c.GrantTypes)
	out.ResponseTypes = slices.Clone(c.ResponseTypes)
	out.Scopes = slices.Clone(c.Scopes)
	out.JWKS = slices.Clone(c.JWKS)
	return &out
}

// Clone returns a deep copy of the scope.
func (s *Scope) Clone() *Scope {
	out := *s
	out.Claims = slices.Clone(s.Claims)
	return &out
}

// ClientRepository looks up and persists clients.
type ClientRepository interface {
	// GetClient returns the client or an error wrapping ErrNotFound.
	GetClient(ctx context.Context, id string) (*Client, error)

	// RegisterClient adds or replaces a client.
	RegisterClient(ctx context.Context, client *Client) error
}

// ScopeRepository resolves scope identifiers.
type ScopeRepository interface {
	// GetScope returns the scope or an error wrapping ErrNotFound.
	GetScope(ctx context.Context, id string) (*Scope, error)
}

// ReplayCache remembers one-time identifiers such as request object and
// client assertion jti values.
type ReplayCache interface {
	// CheckAndSet atomically records id until expiresAt, or for at least
	// MinReplayRetention. It returns false when id was already recorded and
	// is still retained. Concurrent callers racing on the same id see exactly
	// one true.
	CheckAndSet(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}

// retainUntil is the instant a replay entry may be forgotten.
func retainUntil(now, expiresAt time.Time) time.Time {
	if floor := now.Add(MinReplayRetention); expiresAt.Before(floor) {
		return floor
	}
	return expiresAt
}

// Store bundles every repository a provider needs.
type Store interface {
	ClientRepository
	ScopeRepository
	ReplayCache

	// RegisterScope adds or replaces a scope.
	RegisterScope(ctx context.Context, scope *Scope) error

	// Close releases resources held by the store.
	Close() error
}

// notFound wraps both ErrNotFound and fosite.ErrNotFound so callers on
// either side of the fosite boundary can match it.
func notFound(kind, id string) error {
	return fmt.Errorf("%w: %w", ErrNotFound, fosite.ErrNotFound.WithHintf("%s %q not found", kind, id))
}

// IsNotFound reports whether err signals a missing client or scope.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, fosite.ErrNotFound)
}
