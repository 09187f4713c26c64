// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package clientjwt verifies JWTs signed by relying parties: request objects
// (OpenID Connect Core 6.1) and private_key_jwt client assertions (RFC 7523).
package clientjwt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// AlgNone is the JOSE algorithm of unsigned JWTs.
const AlgNone = "none"

// DefaultLeeway tolerates clock skew between provider and client.
const DefaultLeeway = 30 * time.Second

// Algorithms lists the signature algorithms accepted from clients.
var Algorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

var (
	// ErrUnsignedNotAllowed is returned for alg "none" tokens when the client
	// has not opted in to unsigned request objects.
	ErrUnsignedNotAllowed = errors.New("unsigned JWT not allowed for this client")

	// ErrNoKeys is returned when the client registered neither jwks nor jwks_uri.
	ErrNoKeys = errors.New("client has no registered keys")

	// ErrKeyNotFound is returned when no key matches the token's kid.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrMalformed is returned for tokens that cannot be parsed.
	ErrMalformed = errors.New("malformed JWT")
)

// KeySource verifies a compact JWS and returns its claims. Claims are not
// validated.
type KeySource interface {
	Verify(ctx context.Context, raw string) (jwt.MapClaims, error)
}

// Options controls claim validation.
type Options struct {
	// AllowUnsigned accepts alg "none".
	AllowUnsigned bool

	// Audience, when set, must be present in aud.
	Audience string

	// RequireExpiry rejects tokens without exp.
	RequireExpiry bool
}

// Verifier verifies client-signed JWTs. Remote key sets are cached per URI.
type Verifier struct {
	mu     sync.Mutex
	remote map[string]*oidc.RemoteKeySet

	leeway time.Duration
	now    func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLeeway sets the allowed clock skew.
func WithLeeway(d time.Duration) Option {
	return func(v *Verifier) { v.leeway = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		remote: make(map[string]*oidc.RemoteKeySet),
		leeway: DefaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// KeysFor returns the key source registered for client. Inline JWKS take
// precedence over jwks_uri.
func (v *Verifier) KeysFor(client *storage.Client) (KeySource, error) {
	if len(client.JWKS) > 0 {
		set, err := jwk.Parse(client.JWKS)
		if err != nil {
			return nil, fmt.Errorf("failed to parse client JWKS: %w", err)
		}
		return JWKSet(set), nil
	}
	if client.JWKSURI != "" {
		return v.remoteKeys(client.JWKSURI), nil
	}
	return nil, ErrNoKeys
}

func (v *Verifier) remoteKeys(uri string) KeySource {
	v.mu.Lock()
	defer v.mu.Unlock()
	ks, ok := v.remote[uri]
	if !ok {
		// the context only supplies the HTTP client used for later fetches
		ks = oidc.NewRemoteKeySet(context.Background(), uri)
		v.remote[uri] = ks
	}
	return remoteSource{ks: ks}
}

// Verify checks the signature of raw with keys and validates its registered
// claims. Unsigned tokens are accepted only when opts.AllowUnsigned is set,
// in which case keys may be nil.
func (v *Verifier) Verify(ctx context.Context, raw string, keys KeySource, opts Options) (jwt.MapClaims, error) {
	alg, err := Algorithm(raw)
	if err != nil {
		return nil, err
	}

	var claims jwt.MapClaims
	if alg == AlgNone {
		if !opts.AllowUnsigned {
			return nil, ErrUnsignedNotAllowed
		}
		claims, err = parseUnverified(raw)
	} else {
		if keys == nil {
			return nil, ErrNoKeys
		}
		claims, err = keys.Verify(ctx, raw)
	}
	if err != nil {
		return nil, err
	}

	if err := v.ValidateClaims(claims, opts); err != nil {
		return nil, err
	}
	return claims, nil
}

// ValidateClaims checks exp, nbf, iat and optionally aud.
func (v *Verifier) ValidateClaims(claims jwt.MapClaims, opts Options) error {
	parserOpts := []jwt.ParserOption{
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.RequireExpiry {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired())
	}
	if err := jwt.NewValidator(parserOpts...).Validate(claims); err != nil {
		return fmt.Errorf("invalid claims: %w", err)
	}
	return nil
}

// Algorithm returns the alg header of raw without verifying it.
func Algorithm(raw string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	alg, _ := token.Header["alg"].(string)
	if alg == "" {
		return "", fmt.Errorf("%w: missing alg header", ErrMalformed)
	}
	return alg, nil
}

// Peek returns the claims of raw without verifying anything. Use it only to
// find out which client or entity signed the token.
func Peek(raw string) (jwt.MapClaims, error) {
	return parseUnverified(raw)
}

func parseUnverified(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return claims, nil
}

// JWKSet returns a KeySource backed by an in-memory key set.
func JWKSet(set jwk.Set) KeySource {
	return jwkSource{set: set}
}

type jwkSource struct {
	set jwk.Set
}

func (s jwkSource) Verify(_ context.Context, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, s.keyFunc,
		jwt.WithValidMethods(Algorithms),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return nil, fmt.Errorf("failed to verify signature: %w", err)
	}
	return claims, nil
}

func (s jwkSource) keyFunc(token *jwt.Token) (any, error) {
	var key jwk.Key
	if kid, ok := token.Header["kid"].(string); ok && kid != "" {
		k, found := s.set.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("%w: kid %s", ErrKeyNotFound, kid)
		}
		key = k
	} else {
		// without kid, a single-key set is unambiguous
		if s.set.Len() != 1 {
			return nil, fmt.Errorf("%w: token has no kid", ErrKeyNotFound)
		}
		k, _ := s.set.Key(0)
		key = k
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}
	return rawKey, nil
}

type remoteSource struct {
	ks *oidc.RemoteKeySet
}

func (s remoteSource) Verify(ctx context.Context, raw string) (jwt.MapClaims, error) {
	payload, err := s.ks.VerifySignature(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to verify signature: %w", err)
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return claims, nil
}
