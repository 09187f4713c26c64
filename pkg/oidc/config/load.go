// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/stacklok/toolhive-core/env"
	"gopkg.in/yaml.v3"
)

// EnvRedisPassword overrides storage.redis.password.
const EnvRedisPassword = "THV_OIDC_REDIS_PASSWORD"

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, &env.OSReader{})
}

// LoadWithEnv is Load with an injected environment reader.
func LoadWithEnv(path string, envReader env.Reader) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if pw := envReader.Getenv(EnvRedisPassword); pw != "" {
		cfg.Storage.Redis.Password = pw
	}
	cfg.resolvePaths(filepath.Dir(path))

	if err := cfg.EnsureDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// resolvePaths makes relative file references relative to dir.
func (c *Config) resolvePaths(dir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(dir, *p)
		}
	}
	resolve(&c.ProviderJWKSFile)
	resolve(&c.Storage.SQLite.Path)
	for i := range c.Clients {
		resolve(&c.Clients[i].JWKSFile)
	}
	for i := range c.Federation.Entities {
		resolve(&c.Federation.Entities[i].JWKSFile)
	}
}
