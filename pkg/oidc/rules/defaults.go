// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"github.com/go-jose/go-jose/v4"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/authn"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/clientjwt"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/pkce"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// Collaborators are the dependencies of the built-in rules.
type Collaborators struct {
	Clients       storage.ClientRepository
	Scopes        storage.ScopeRepository
	Replay        storage.ReplayCache
	Authenticator authn.Authenticator
	PKCE          *pkce.Registry
	Verifier      *clientjwt.Verifier

	// Federation is optional; nil disables federated client resolution.
	Federation *Federation

	// ProviderKeys verify id_token_hint.
	ProviderKeys *jose.JSONWebKeySet

	Issuer        string
	TokenEndpoint string

	ResponseTypes []string
	GrantTypes    []string
}

// DefaultRules builds every built-in rule.
func DefaultRules(c Collaborators) []Rule {
	registry := c.PKCE
	if registry == nil {
		registry = pkce.NewRegistry()
	}
	verifier := c.Verifier
	if verifier == nil {
		verifier = clientjwt.NewVerifier()
	}
	providerKeys := c.ProviderKeys
	if providerKeys == nil {
		providerKeys = &jose.JSONWebKeySet{}
	}

	var clientOpts []ClientRuleOption
	if c.Federation != nil {
		clientOpts = append(clientOpts, WithFederation(c.Federation))
	}

	return []Rule{
		NewClientRule(c.Clients, clientOpts...),
		NewRedirectURIRule(),
		NewStateRule(),
		NewNonceRule(),
		NewUILocalesRule(),
		NewClaimsLocalesRule(),
		NewResponseTypeRule(c.ResponseTypes),
		NewRequestObjectRule(verifier, c.Issuer),
		NewScopeRule(c.Scopes),
		NewRequiredOpenIDScopeRule(),
		NewOfflineAccessRule(),
		NewCodeChallengeRule(),
		NewCodeChallengeMethodRule(registry),
		NewCodeVerifierRule(),
		NewRequiredNonceRule(),
		NewPromptRule(c.Authenticator),
		NewMaxAgeRule(c.Authenticator),
		NewRequestedClaimsRule(c.Scopes),
		NewACRValuesRule(),
		NewAddClaimsToIDTokenRule(),
		NewClientAuthenticationRule(verifier, c.Replay, c.TokenEndpoint),
		NewGrantTypeRule(c.GrantTypes),
		NewIDTokenHintRule(providerKeys, c.Issuer),
		NewPostLogoutRedirectURIRule(c.Clients),
	}
}
