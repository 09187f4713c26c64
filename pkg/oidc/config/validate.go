// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/pkce"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/rules"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

var authMethods = []string{
	storage.AuthMethodNone,
	storage.AuthMethodClientSecretBasic,
	storage.AuthMethodClientSecretPost,
	storage.AuthMethodPrivateKeyJWT,
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var problems []string
	add := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	add(validateAbsoluteURL("issuer", c.Issuer))
	if c.Listen == "" {
		add(errors.New("listen address is required"))
	}
	add(validateAbsoluteURL("authn.login_url", c.Authn.LoginURL))
	add(c.validateProtocol())
	add(c.Storage.validate())
	add(c.Telemetry.validate())

	scopes := make(map[string]bool, len(c.Scopes))
	for i, s := range c.Scopes {
		if s.ID == "" {
			add(fmt.Errorf("scopes[%d]: id is required", i))
			continue
		}
		if scopes[s.ID] {
			add(fmt.Errorf("scopes[%d]: duplicate scope %q", i, s.ID))
		}
		scopes[s.ID] = true
	}

	clientIDs := make(map[string]bool, len(c.Clients))
	for i, client := range c.Clients {
		if clientIDs[client.ID] {
			add(fmt.Errorf("clients[%d]: duplicate client %q", i, client.ID))
		}
		clientIDs[client.ID] = true
		if err := client.validate(scopes); err != nil {
			add(fmt.Errorf("clients[%d]: %w", i, err))
		}
	}

	for i, e := range c.Federation.Entities {
		if err := e.validate(scopes); err != nil {
			add(fmt.Errorf("federation.entities[%d]: %w", i, err))
		}
		if clientIDs[e.EntityID] {
			add(fmt.Errorf("federation.entities[%d]: entity %q is also a registered client", i, e.EntityID))
		}
	}

	for source, values := range c.ACR {
		if len(values) == 0 {
			add(fmt.Errorf("acr.%s: at least one value is required", source))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidConfig, strings.Join(problems, "\n  - "))
	}
	return nil
}

func (c *Config) validateProtocol() error {
	for _, m := range c.PKCEMethods {
		if m != pkce.MethodPlain && m != pkce.MethodS256 {
			return fmt.Errorf("pkce_methods: unsupported method %q", m)
		}
	}
	for _, rt := range c.ResponseTypes {
		known := slices.ContainsFunc(rules.DefaultResponseTypes, func(s string) bool {
			return rules.ParseResponseType(s).Equal(rules.ParseResponseType(rt))
		})
		if !known {
			return fmt.Errorf("response_types: unsupported response type %q", rt)
		}
	}
	for _, gt := range c.GrantTypes {
		if !slices.Contains(rules.DefaultGrantTypes, gt) {
			return fmt.Errorf("grant_types: unsupported grant type %q", gt)
		}
	}
	return nil
}

func (s *StorageConfig) validate() error {
	switch s.Type {
	case StorageMemory:
		return nil
	case StorageRedis:
		if s.Redis.Addr == "" && (s.Redis.MasterName == "" || len(s.Redis.SentinelAddrs) == 0) {
			return errors.New("storage.redis: addr or master_name with sentinel_addrs is required")
		}
		return nil
	case StorageSQLite:
		if s.SQLite.Path == "" {
			return errors.New("storage.sqlite: path is required")
		}
		return nil
	default:
		return fmt.Errorf("storage.type: unknown backend %q", s.Type)
	}
}

func (c *ClientConfig) validate(scopes map[string]bool) error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if len(c.RedirectURIs) == 0 {
		return fmt.Errorf("client %q: at least one redirect URI is required", c.ID)
	}
	for _, uri := range c.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return fmt.Errorf("client %q: %w", c.ID, err)
		}
	}
	for _, s := range c.Scopes {
		if !scopes[s] {
			return fmt.Errorf("client %q: scope %q is not defined", c.ID, s)
		}
	}

	method := c.authMethod()
	if !slices.Contains(authMethods, method) {
		return fmt.Errorf("client %q: unsupported token_endpoint_auth_method %q", c.ID, method)
	}
	switch method {
	case storage.AuthMethodNone:
		if !c.Public {
			return fmt.Errorf("client %q: only public clients may use auth method none", c.ID)
		}
	case storage.AuthMethodClientSecretBasic, storage.AuthMethodClientSecretPost:
		if _, err := bcrypt.Cost([]byte(c.SecretHash)); err != nil {
			return fmt.Errorf("client %q: secret_hash must be a bcrypt hash: %w", c.ID, err)
		}
	case storage.AuthMethodPrivateKeyJWT:
		if c.JWKSFile == "" && c.JWKSURI == "" {
			return fmt.Errorf("client %q: private_key_jwt requires jwks_file or jwks_uri", c.ID)
		}
	}
	if c.JWKSURI != "" {
		if err := validateAbsoluteURL("jwks_uri", c.JWKSURI); err != nil {
			return fmt.Errorf("client %q: %w", c.ID, err)
		}
	}
	return nil
}

func (c *ClientConfig) authMethod() string {
	if c.TokenEndpointAuthMethod != "" {
		return c.TokenEndpointAuthMethod
	}
	if c.Public {
		return storage.AuthMethodNone
	}
	return storage.AuthMethodClientSecretBasic
}

func (e *EntityConfig) validate(scopes map[string]bool) error {
	if err := validateAbsoluteURL("entity_id", e.EntityID); err != nil {
		return err
	}
	if e.JWKSFile == "" {
		return fmt.Errorf("entity %q: jwks_file is required", e.EntityID)
	}
	for _, s := range e.Metadata.Scopes {
		if !scopes[s] {
			return fmt.Errorf("entity %q: scope %q is not defined", e.EntityID, s)
		}
	}
	for _, uri := range e.Metadata.RedirectURIs {
		if err := validateRedirectURI(uri); err != nil {
			return fmt.Errorf("entity %q: %w", e.EntityID, err)
		}
	}
	return nil
}

func validateAbsoluteURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: %q must be an absolute URL", field, raw)
	}
	return nil
}

// validateRedirectURI requires an absolute URI without fragment. Custom
// schemes used by native apps have no host.
func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("redirect URI %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("redirect URI %q must be absolute", raw)
	}
	if u.Fragment != "" {
		return fmt.Errorf("redirect URI %q must not contain a fragment", raw)
	}
	return nil
}

func (t *TelemetryConfig) validate() error {
	if t.Metrics && !strings.HasPrefix(t.MetricsPath, "/") {
		return fmt.Errorf("telemetry.metrics_path %q must start with /", t.MetricsPath)
	}
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		return fmt.Errorf("telemetry.sampling_rate %v must be between 0 and 1", t.SamplingRate)
	}
	return nil
}
