// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package pkce implements the Proof Key for Code Exchange (RFC 7636) code
// challenge methods a provider accepts.
package pkce

import (
	"crypto/subtle"
	"regexp"
	"slices"

	"golang.org/x/oauth2"
)

// Challenge methods defined by RFC 7636 Section 4.2.
const (
	MethodPlain = "plain"
	MethodS256  = "S256"
)

// DefaultMethod is assumed when code_challenge_method is absent.
const DefaultMethod = MethodPlain

// valuePattern matches both code_challenge and code_verifier values:
// 43 to 128 characters of the unreserved URI alphabet.
var valuePattern = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

// ValidValue reports whether v is a well-formed challenge or verifier.
func ValidValue(v string) bool {
	return valuePattern.MatchString(v)
}

// ChallengeFunc derives a code_challenge from a code_verifier.
type ChallengeFunc func(verifier string) string

// Registry holds the supported challenge methods.
type Registry struct {
	methods map[string]ChallengeFunc
	order   []string
}

// NewRegistry returns a registry with the given methods. With no arguments
// both plain and S256 are registered.
func NewRegistry(methods ...string) *Registry {
	if len(methods) == 0 {
		methods = []string{MethodPlain, MethodS256}
	}
	r := &Registry{methods: make(map[string]ChallengeFunc, len(methods))}
	for _, m := range methods {
		switch m {
		case MethodPlain:
			r.Register(MethodPlain, func(v string) string { return v })
		case MethodS256:
			r.Register(MethodS256, oauth2.S256ChallengeFromVerifier)
		}
	}
	return r
}

// Register adds or replaces a challenge method.
func (r *Registry) Register(method string, fn ChallengeFunc) {
	if _, ok := r.methods[method]; !ok {
		r.order = append(r.order, method)
	}
	r.methods[method] = fn
}

// Has reports whether method is supported.
func (r *Registry) Has(method string) bool {
	_, ok := r.methods[method]
	return ok
}

// Methods returns the supported methods in registration order.
func (r *Registry) Methods() []string {
	return slices.Clone(r.order)
}

// Verify checks verifier against challenge using method. Unknown methods and
// malformed verifiers never verify.
func (r *Registry) Verify(method, verifier, challenge string) bool {
	fn, ok := r.methods[method]
	if !ok || !ValidValue(verifier) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(fn(verifier)), []byte(challenge)) == 1
}

// GenerateVerifier returns a random 43 character verifier.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}
