// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/pkce"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

const pkceFormatHint = "The value must be 43 to 128 characters from [A-Za-z0-9-._~]."

// CodeChallengeRule validates code_challenge. It is required for public
// clients; for confidential clients an absent challenge yields a nil result.
type CodeChallengeRule struct {
	base
}

// NewCodeChallengeRule creates a CodeChallengeRule.
func NewCodeChallengeRule() *CodeChallengeRule {
	return &CodeChallengeRule{base: base{key: KeyCodeChallenge, deps: []Key{KeyClient, KeyRedirectURI, KeyState}}}
}

// Check implements Rule.
func (*CodeChallengeRule) Check(_ context.Context, run *Run) (Outcome, error) {
	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}

	challenge, ok := run.Param(params.CodeChallenge)
	if !ok {
		if client.IsPublic() {
			return Outcome{}, oautherr.InvalidRequest(params.CodeChallenge, "PKCE is required for public clients.", run.RedirectOptions()...)
		}
		return Continue(nil), nil
	}
	if !pkce.ValidValue(challenge) {
		return Outcome{}, oautherr.InvalidRequest(params.CodeChallenge, pkceFormatHint, run.RedirectOptions()...)
	}
	return Continue(challenge), nil
}

// CodeChallengeMethodRule validates code_challenge_method, defaulting to
// plain. Without a code challenge its result is nil.
type CodeChallengeMethodRule struct {
	base
	registry *pkce.Registry
}

// NewCodeChallengeMethodRule creates a CodeChallengeMethodRule.
func NewCodeChallengeMethodRule(registry *pkce.Registry) *CodeChallengeMethodRule {
	return &CodeChallengeMethodRule{
		base:     base{key: KeyCodeChallengeMethod, deps: []Key{KeyCodeChallenge, KeyRedirectURI, KeyState}},
		registry: registry,
	}
}

// Check implements Rule.
func (m *CodeChallengeMethodRule) Check(_ context.Context, run *Run) (Outcome, error) {
	if _, ok := Lookup[string](run.Bag, KeyCodeChallenge); !ok {
		return Continue(nil), nil
	}
	method, ok := run.Param(params.CodeChallengeMethod)
	if !ok {
		method = pkce.DefaultMethod
	}
	if !m.registry.Has(method) {
		return Outcome{}, oautherr.InvalidRequest(params.CodeChallengeMethod, "The code challenge method is not supported.", run.RedirectOptions()...)
	}
	return Continue(method), nil
}

// CodeVerifierRule validates code_verifier at the token endpoint. Public
// clients must send one; confidential clients without one yield nil.
type CodeVerifierRule struct {
	base
}

// NewCodeVerifierRule creates a CodeVerifierRule.
func NewCodeVerifierRule() *CodeVerifierRule {
	return &CodeVerifierRule{base: base{key: KeyCodeVerifier, deps: []Key{KeyClient}}}
}

// Check implements Rule.
func (*CodeVerifierRule) Check(_ context.Context, run *Run) (Outcome, error) {
	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}

	verifier, ok := run.Param(params.CodeVerifier)
	if !ok {
		if client.IsConfidential() {
			return Continue(nil), nil
		}
		return Outcome{}, oautherr.InvalidRequest(params.CodeVerifier, "PKCE is required for public clients.")
	}
	if !pkce.ValidValue(verifier) {
		return Outcome{}, oautherr.InvalidRequest(params.CodeVerifier, pkceFormatHint)
	}
	return Continue(verifier), nil
}
