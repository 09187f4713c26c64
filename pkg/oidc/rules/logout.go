// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// idTokenAlgorithms are the algorithms the provider signs ID tokens with.
var idTokenAlgorithms = []jose.SignatureAlgorithm{jose.RS256, jose.RS384, jose.RS512, jose.ES256, jose.ES384, jose.ES512, jose.EdDSA}

// IDTokenHint is the verified content of id_token_hint.
type IDTokenHint struct {
	Subject   string
	Audience  []string
	ClientID  string
	SessionID string
}

type idTokenHintClaims struct {
	jwt.Claims
	AuthorizedParty string `json:"azp,omitempty"`
	SessionID       string `json:"sid,omitempty"`
}

// IDTokenHintRule verifies id_token_hint against the provider's own keys.
// Expiry is not enforced: a hint may outlive the token it was issued as.
// Its result is an *IDTokenHint.
type IDTokenHintRule struct {
	base
	keys   *jose.JSONWebKeySet
	issuer string
}

// NewIDTokenHintRule creates an IDTokenHintRule.
func NewIDTokenHintRule(keys *jose.JSONWebKeySet, issuer string) *IDTokenHintRule {
	return &IDTokenHintRule{base: base{key: KeyIDTokenHint}, keys: keys, issuer: issuer}
}

// Check implements Rule.
func (h *IDTokenHintRule) Check(_ context.Context, run *Run) (Outcome, error) {
	raw, ok := run.Param(params.IDTokenHint)
	if !ok {
		return Skip(), nil
	}

	claims, err := h.verify(raw)
	if err != nil {
		run.Logger.Debug("id_token_hint rejected", "error", err)
		return Outcome{}, oautherr.InvalidRequest(params.IDTokenHint, "The ID token hint could not be verified.", oautherr.WithCause(err))
	}

	hint := &IDTokenHint{
		Subject:   claims.Subject,
		Audience:  claims.Audience,
		ClientID:  claims.AuthorizedParty,
		SessionID: claims.SessionID,
	}
	if hint.ClientID == "" && len(claims.Audience) > 0 {
		hint.ClientID = claims.Audience[0]
	}
	return Continue(hint), nil
}

func (h *IDTokenHintRule) verify(raw string) (*idTokenHintClaims, error) {
	tok, err := jwt.ParseSigned(raw, idTokenAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if len(tok.Headers) == 0 {
		return nil, errors.New("token has no signature header")
	}
	kid := tok.Headers[0].KeyID

	candidates := h.keys.Keys
	if kid != "" {
		candidates = h.keys.Key(kid)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no key found for kid %q", kid)
	}

	var claims idTokenHintClaims
	var verifyErr error
	for _, key := range candidates {
		if verifyErr = tok.Claims(key.Public().Key, &claims); verifyErr == nil {
			break
		}
	}
	if verifyErr != nil {
		return nil, fmt.Errorf("failed to verify signature: %w", verifyErr)
	}
	if claims.Issuer != h.issuer {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	return &claims, nil
}

// PostLogoutRedirectURIRule checks post_logout_redirect_uri against the
// client named by id_token_hint or client_id. Its result is the URI.
type PostLogoutRedirectURIRule struct {
	base
	clients storage.ClientRepository
}

// NewPostLogoutRedirectURIRule creates a PostLogoutRedirectURIRule.
func NewPostLogoutRedirectURIRule(clients storage.ClientRepository) *PostLogoutRedirectURIRule {
	return &PostLogoutRedirectURIRule{
		base:    base{key: KeyPostLogoutRedirectURI, deps: []Key{KeyIDTokenHint, KeyState}},
		clients: clients,
	}
}

// Check implements Rule.
func (p *PostLogoutRedirectURIRule) Check(ctx context.Context, run *Run) (Outcome, error) {
	uri, ok := run.Param(params.PostLogoutRedirect)
	if !ok {
		return Skip(), nil
	}

	clientID, _ := run.Param(params.ClientID)
	if hint, ok := Lookup[*IDTokenHint](run.Bag, KeyIDTokenHint); ok {
		if clientID != "" && !slices.Contains(hint.Audience, clientID) {
			return Outcome{}, oautherr.InvalidRequest(params.ClientID, "The client_id does not match the ID token hint.")
		}
		clientID = hint.ClientID
	}
	if clientID == "" {
		return Outcome{}, oautherr.InvalidRequest(params.PostLogoutRedirect, "An id_token_hint or client_id is required.")
	}

	client, err := p.clients.GetClient(ctx, clientID)
	if storage.IsNotFound(err) {
		return Outcome{}, oautherr.InvalidClient("Client not found.")
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to look up client %q: %w", clientID, err)
	}
	if !slices.Contains(client.PostLogoutRedirectURIs, uri) {
		run.Logger.Debug("post logout redirect URI not registered", "client_id", clientID, "uri", uri)
		return Outcome{}, oautherr.InvalidRequest(params.PostLogoutRedirect, "The URI is not registered for the client.")
	}
	return Continue(uri), nil
}
