// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config provides the file-based configuration of the validation
// service: provider identity, storage backend, registered clients and scopes,
// federation entities and authentication policy.
package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Storage backend types.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Config is the root configuration document.
type Config struct {
	// Issuer is the provider identifier, also the audience of request objects.
	Issuer string `yaml:"issuer"`

	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// TokenEndpoint is the audience of client assertions. Defaults to
	// Issuer + "/token".
	TokenEndpoint string `yaml:"token_endpoint,omitempty"`

	ResponseTypes []string `yaml:"response_types,omitempty"`
	GrantTypes    []string `yaml:"grant_types,omitempty"`
	PKCEMethods   []string `yaml:"pkce_methods,omitempty"`

	// DefaultScope applies when a request carries no scope parameter.
	DefaultScope   string `yaml:"default_scope,omitempty"`
	ScopeDelimiter string `yaml:"scope_delimiter,omitempty"`

	// ProviderJWKSFile holds the public keys the provider signs ID tokens
	// with; id_token_hint is verified against them.
	ProviderJWKSFile string `yaml:"provider_jwks_file,omitempty"`

	Storage    StorageConfig    `yaml:"storage"`
	Authn      AuthnConfig      `yaml:"authn"`
	Federation FederationConfig `yaml:"federation,omitempty"`
	Telemetry  TelemetryConfig  `yaml:"telemetry,omitempty"`

	// ACR maps authentication sources to the ACR values they satisfy.
	ACR map[string][]string `yaml:"acr,omitempty"`

	Scopes  []ScopeConfig  `yaml:"scopes,omitempty"`
	Clients []ClientConfig `yaml:"clients,omitempty"`
}

// StorageConfig selects and configures the client, scope and replay store.
type StorageConfig struct {
	Type            string       `yaml:"type"`
	CleanupInterval Duration     `yaml:"cleanup_interval,omitempty"`
	Redis           RedisConfig  `yaml:"redis,omitempty"`
	SQLite          SQLiteConfig `yaml:"sqlite,omitempty"`
}

// RedisConfig configures the redis backend. Either Addr or a sentinel
// master with its addresses must be set.
type RedisConfig struct {
	Addr          string   `yaml:"addr,omitempty"`
	MasterName    string   `yaml:"master_name,omitempty"`
	SentinelAddrs []string `yaml:"sentinel_addrs,omitempty"`
	DB            int      `yaml:"db,omitempty"`
	Username      string   `yaml:"username,omitempty"`
	// Password is normally supplied through THV_OIDC_REDIS_PASSWORD.
	Password  string `yaml:"password,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty"`
	// ConnectTries bounds the startup ping retries.
	ConnectTries uint `yaml:"connect_tries,omitempty"`
}

// SQLiteConfig configures the sqlite backend.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// AuthnConfig configures the trusted-header authenticator.
type AuthnConfig struct {
	LoginURL         string `yaml:"login_url"`
	UserHeader       string `yaml:"user_header,omitempty"`
	AuthTimeHeader   string `yaml:"auth_time_header,omitempty"`
	AuthSourceHeader string `yaml:"auth_source_header,omitempty"`
	ACRHeader        string `yaml:"acr_header,omitempty"`
}

// FederationConfig lists statically trusted relying party entities.
type FederationConfig struct {
	Entities []EntityConfig `yaml:"entities,omitempty"`
}

// EntityConfig is a trusted relying party entity.
type EntityConfig struct {
	EntityID string       `yaml:"entity_id"`
	JWKSFile string       `yaml:"jwks_file"`
	Lifetime Duration     `yaml:"lifetime,omitempty"`
	Metadata ClientConfig `yaml:"metadata"`
}

// TelemetryConfig toggles the metrics endpoint and OTLP trace export.
type TelemetryConfig struct {
	Metrics     bool   `yaml:"metrics,omitempty"`
	MetricsPath string `yaml:"metrics_path,omitempty"`

	// OTLPEndpoint is the host:port of an OTLP/HTTP trace collector. Empty
	// disables tracing.
	OTLPEndpoint string            `yaml:"otlp_endpoint,omitempty"`
	OTLPHeaders  map[string]string `yaml:"otlp_headers,omitempty"`
	Insecure     bool              `yaml:"insecure,omitempty"`
	SamplingRate float64           `yaml:"sampling_rate,omitempty"`
}

// ScopeConfig registers a scope and the claims it releases.
type ScopeConfig struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description,omitempty"`
	Claims      []string `yaml:"claims,omitempty"`
}

// ClientConfig registers a client.
type ClientConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`

	// SecretHash is the bcrypt hash of the client secret.
	SecretHash string `yaml:"secret_hash,omitempty"`

	Public                     bool     `yaml:"public,omitempty"`
	RedirectURIs               []string `yaml:"redirect_uris"`
	PostLogoutRedirectURIs     []string `yaml:"post_logout_redirect_uris,omitempty"`
	GrantTypes                 []string `yaml:"grant_types,omitempty"`
	ResponseTypes              []string `yaml:"response_types,omitempty"`
	Scopes                     []string `yaml:"scopes"`
	AuthSource                 string   `yaml:"auth_source,omitempty"`
	TokenEndpointAuthMethod    string   `yaml:"token_endpoint_auth_method,omitempty"`
	JWKSFile                   string   `yaml:"jwks_file,omitempty"`
	JWKSURI                    string   `yaml:"jwks_uri,omitempty"`
	AllowUnsignedRequestObject bool     `yaml:"allow_unsigned_request_object,omitempty"`
	Disabled                   bool     `yaml:"disabled,omitempty"`
}

// Duration is a time.Duration written as a duration string such as "30s".
type Duration time.Duration

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}
