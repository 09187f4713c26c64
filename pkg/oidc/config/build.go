// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/authn"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/federation"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// OpenStore opens the configured storage backend.
func (s *StorageConfig) OpenStore(ctx context.Context) (storage.Store, error) {
	switch s.Type {
	case StorageMemory:
		return storage.NewMemoryStorage(storage.WithCleanupInterval(time.Duration(s.CleanupInterval))), nil
	case StorageRedis:
		store, err := storage.NewRedisStorage(ctx, storage.RedisConfig{
			Addr:          s.Redis.Addr,
			MasterName:    s.Redis.MasterName,
			SentinelAddrs: s.Redis.SentinelAddrs,
			DB:            s.Redis.DB,
			Username:      s.Redis.Username,
			Password:      s.Redis.Password,
			KeyPrefix:     s.Redis.KeyPrefix,
			ConnectTries:  s.Redis.ConnectTries,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorageSQLite:
		store, err := storage.NewSQLiteStorage(ctx, s.SQLite.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", s.Type)
	}
}

// Seed registers the configured scopes and clients in store, replacing
// existing registrations with the same identifiers.
func (c *Config) Seed(ctx context.Context, store storage.Store) error {
	for _, s := range c.Scopes {
		scope := &storage.Scope{ID: s.ID, Description: s.Description, Claims: s.Claims}
		if err := store.RegisterScope(ctx, scope); err != nil {
			return fmt.Errorf("failed to register scope %q: %w", s.ID, err)
		}
	}
	for i := range c.Clients {
		client, err := c.Clients[i].Client()
		if err != nil {
			return err
		}
		if err := store.RegisterClient(ctx, client); err != nil {
			return fmt.Errorf("failed to register client %q: %w", client.ID, err)
		}
	}
	logger.Debugw("seeded storage", "scopes", len(c.Scopes), "clients", len(c.Clients))
	return nil
}

// Client converts the registration into a storage client.
func (c *ClientConfig) Client() (*storage.Client, error) {
	client := &storage.Client{
		ID:                         c.ID,
		Name:                       c.Name,
		RedirectURIs:               c.RedirectURIs,
		PostLogoutRedirectURIs:     c.PostLogoutRedirectURIs,
		GrantTypes:                 c.GrantTypes,
		ResponseTypes:              c.ResponseTypes,
		Scopes:                     c.Scopes,
		Public:                     c.Public,
		Disabled:                   c.Disabled,
		AuthSource:                 c.AuthSource,
		TokenEndpointAuthMethod:    c.TokenEndpointAuthMethod,
		JWKSURI:                    c.JWKSURI,
		AllowUnsignedRequestObject: c.AllowUnsignedRequestObject,
		CreatedAt:                  time.Now(),
	}
	if c.SecretHash != "" {
		client.HashedSecret = []byte(c.SecretHash)
	}
	if c.JWKSFile != "" {
		jwks, err := readJSON(c.JWKSFile)
		if err != nil {
			return nil, fmt.Errorf("client %q: %w", c.ID, err)
		}
		client.JWKS = jwks
	}
	return client, nil
}

// FederationEntities returns the trusted entities keyed by entity ID.
func (c *Config) FederationEntities() (map[string]federation.Entity, error) {
	entities := make(map[string]federation.Entity, len(c.Federation.Entities))
	for _, e := range c.Federation.Entities {
		metadata, err := e.Metadata.Client()
		if err != nil {
			return nil, err
		}
		jwks, err := readJSON(e.JWKSFile)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", e.EntityID, err)
		}
		entities[e.EntityID] = federation.Entity{
			Metadata: *metadata,
			JWKS:     jwks,
			Lifetime: time.Duration(e.Lifetime),
		}
	}
	return entities, nil
}

// ProviderKeys loads the provider's public signing keys. Without a
// configured file the set is empty and every id_token_hint is rejected.
func (c *Config) ProviderKeys() (*jose.JSONWebKeySet, error) {
	keys := &jose.JSONWebKeySet{}
	if c.ProviderJWKSFile == "" {
		return keys, nil
	}
	data, err := readJSON(c.ProviderJWKSFile)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, keys); err != nil {
		return nil, fmt.Errorf("failed to parse provider JWKS: %w", err)
	}
	for _, k := range keys.Keys {
		if !k.IsPublic() {
			return nil, fmt.Errorf("provider JWKS key %q is not a public key", k.KeyID)
		}
	}
	return keys, nil
}

// AuthorizationEndpoint is the absolute URL of the authorize route.
func (c *Config) AuthorizationEndpoint() string {
	return strings.TrimSuffix(c.Issuer, "/") + "/authorize"
}

// ForwardAuth returns the trusted-header authenticator settings.
func (c *Config) ForwardAuth() authn.ForwardAuthConfig {
	return authn.ForwardAuthConfig{
		LoginURL:         c.Authn.LoginURL,
		ResumeURL:        c.AuthorizationEndpoint(),
		UserHeader:       c.Authn.UserHeader,
		AuthTimeHeader:   c.Authn.AuthTimeHeader,
		AuthSourceHeader: c.Authn.AuthSourceHeader,
		ACRHeader:        c.Authn.ACRHeader,
	}
}

func readJSON(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the configuration file
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}
