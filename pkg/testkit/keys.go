// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package testkit provides signing keys, JWKS servers and token builders for
// tests that exercise JWT-consuming validation rules.
package testkit

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/go-jose/go-jose/v4"
	josejwt "github.com/go-jose/go-jose/v4/jwt"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

// SigningKey is an RSA key pair with a key ID.
type SigningKey struct {
	KID     string
	Private *rsa.PrivateKey
}

// NewSigningKey generates a 2048-bit RSA key.
func NewSigningKey(t testing.TB, kid string) *SigningKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate RSA key: %v", err)
	}
	return &SigningKey{KID: kid, Private: priv}
}

// PublicSet returns the public key as a jwk.Set.
func (k *SigningKey) PublicSet(t testing.TB) jwk.Set {
	t.Helper()
	key, err := jwk.Import(&k.Private.PublicKey)
	if err != nil {
		t.Fatalf("failed to create JWK from public key: %v", err)
	}
	if err := key.Set(jwk.KeyIDKey, k.KID); err != nil {
		t.Fatalf("failed to set key ID: %v", err)
	}
	if err := key.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		t.Fatalf("failed to set algorithm: %v", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		t.Fatalf("failed to set key usage: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		t.Fatalf("failed to add key to set: %v", err)
	}
	return set
}

// PublicJWKS returns the public key set as JSON.
func (k *SigningKey) PublicJWKS(t testing.TB) []byte {
	t.Helper()
	data, err := json.Marshal(k.PublicSet(t))
	if err != nil {
		t.Fatalf("failed to marshal JWKS: %v", err)
	}
	return data
}

// JoseKeySet returns the public key as a go-jose key set.
func (k *SigningKey) JoseKeySet() *jose.JSONWebKeySet {
	return &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &k.Private.PublicKey,
		KeyID:     k.KID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
}

// Sign returns claims as an RS256 JWT carrying the key ID.
func (k *SigningKey) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = k.KID
	signed, err := token.SignedString(k.Private)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// SignJose signs claims with go-jose, the way the provider signs ID tokens.
func (k *SigningKey) SignJose(t testing.TB, claims any) string {
	t.Helper()
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: k.Private},
		(&jose.SignerOptions{}).WithType("JWT").WithHeader("kid", k.KID),
	)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	raw, err := josejwt.Signed(signer).Claims(claims).Serialize()
	if err != nil {
		t.Fatalf("failed to serialize token: %v", err)
	}
	return raw
}

// Unsigned returns claims as an alg "none" JWT.
func Unsigned(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("failed to marshal claims: %v", err)
	}
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + "."
}
