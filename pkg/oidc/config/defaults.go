// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"slices"
	"strings"

	"dario.cat/mergo"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/authn"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/pkce"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/rules"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

const (
	defaultListen         = ":8080"
	defaultMetricsPath    = "/metrics"
	defaultSamplingRate   = 1.0
	defaultRedisKeyPrefix = "thv:oidc:"
)

// Default returns a configuration with every optional field populated.
func Default() *Config {
	return &Config{
		Listen:         defaultListen,
		ResponseTypes:  slices.Clone(rules.DefaultResponseTypes),
		GrantTypes:     slices.Clone(rules.DefaultGrantTypes),
		PKCEMethods:    []string{pkce.MethodPlain, pkce.MethodS256},
		ScopeDelimiter: rules.DefaultScopeDelimiter,
		Storage: StorageConfig{
			Type:            StorageMemory,
			CleanupInterval: Duration(storage.DefaultCleanupInterval),
			Redis:           RedisConfig{KeyPrefix: defaultRedisKeyPrefix, ConnectTries: storage.DefaultConnectTries},
		},
		Authn: AuthnConfig{
			UserHeader:       authn.DefaultUserHeader,
			AuthTimeHeader:   authn.DefaultAuthTimeHeader,
			AuthSourceHeader: authn.DefaultAuthSourceHeader,
			ACRHeader:        authn.DefaultACRHeader,
		},
		Telemetry: TelemetryConfig{MetricsPath: defaultMetricsPath, SamplingRate: defaultSamplingRate},
	}
}

// EnsureDefaults fills zero fields from Default, keeping configured values.
func (c *Config) EnsureDefaults() error {
	if err := mergo.Merge(c, Default()); err != nil {
		return err
	}
	if c.TokenEndpoint == "" && c.Issuer != "" {
		c.TokenEndpoint = strings.TrimSuffix(c.Issuer, "/") + "/token"
	}
	return nil
}
