// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// ScopeOpenID and ScopeOfflineAccess are the scopes with protocol meaning.
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
)

// DefaultScopeDelimiter separates scope tokens.
const DefaultScopeDelimiter = " "

// ScopeRule resolves every requested scope. Its result is a []*storage.Scope
// in request order without duplicates.
type ScopeRule struct {
	base
	scopes storage.ScopeRepository
}

// NewScopeRule creates a ScopeRule.
func NewScopeRule(scopes storage.ScopeRepository) *ScopeRule {
	return &ScopeRule{
		base:   base{key: KeyScope, deps: []Key{KeyClient, KeyRedirectURI, KeyState}},
		scopes: scopes,
	}
}

// Check implements Rule.
func (s *ScopeRule) Check(ctx context.Context, run *Run) (Outcome, error) {
	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}

	raw, ok := run.Param(params.Scope)
	if !ok {
		raw = run.Data.String(DataDefaultScope, "")
	}
	tokens := SplitScope(raw, run.Data.String(DataScopeDelimiter, DefaultScopeDelimiter))

	resolved := make([]*storage.Scope, 0, len(tokens))
	for _, token := range tokens {
		scope, err := s.scopes.GetScope(ctx, token)
		if storage.IsNotFound(err) {
			run.Logger.Debug("unknown scope", "scope", token)
			return Outcome{}, oautherr.InvalidScope(token, run.RedirectOptions()...)
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to resolve scope %q: %w", token, err)
		}
		if !client.AllowsScope(token) {
			run.Logger.Debug("scope not allowed for client", "scope", token, "client_id", client.ID)
			return Outcome{}, oautherr.InvalidScope(token, run.RedirectOptions()...)
		}
		resolved = append(resolved, scope)
	}
	return Continue(resolved), nil
}

// SplitScope splits raw on delimiter, dropping empty and repeated tokens.
func SplitScope(raw, delimiter string) []string {
	if delimiter == "" {
		delimiter = DefaultScopeDelimiter
	}
	var tokens []string
	for _, t := range strings.Split(raw, delimiter) {
		t = strings.TrimSpace(t)
		if t != "" && !slices.Contains(tokens, t) {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// ScopeIDs returns the identifiers of scopes.
func ScopeIDs(scopes []*storage.Scope) []string {
	ids := make([]string, len(scopes))
	for i, s := range scopes {
		ids[i] = s.ID
	}
	return ids
}

// hasScope reports whether the bag's scope result contains id.
func hasScope(bag *ResultBag, id string) bool {
	scopes, _ := Lookup[[]*storage.Scope](bag, KeyScope)
	return slices.ContainsFunc(scopes, func(s *storage.Scope) bool { return s.ID == id })
}

// RequiredOpenIDScopeRule fails unless openid was requested.
type RequiredOpenIDScopeRule struct {
	base
}

// NewRequiredOpenIDScopeRule creates a RequiredOpenIDScopeRule.
func NewRequiredOpenIDScopeRule() *RequiredOpenIDScopeRule {
	return &RequiredOpenIDScopeRule{base: base{key: KeyRequiredOpenIDScope, deps: []Key{KeyScope, KeyRedirectURI, KeyState}}}
}

// Check implements Rule.
func (*RequiredOpenIDScopeRule) Check(_ context.Context, run *Run) (Outcome, error) {
	if !hasScope(run.Bag, ScopeOpenID) {
		return Outcome{}, oautherr.InvalidRequest(params.Scope, "The openid scope is required.", run.RedirectOptions()...)
	}
	return Continue(true), nil
}

// OfflineAccessRule reports whether a refresh token may be issued: the
// offline_access scope was requested and the client may use refresh tokens.
type OfflineAccessRule struct {
	base
}

// NewOfflineAccessRule creates an OfflineAccessRule.
func NewOfflineAccessRule() *OfflineAccessRule {
	return &OfflineAccessRule{base: base{key: KeyOfflineAccess, deps: []Key{KeyClient, KeyScope}}}
}

// Check implements Rule.
func (*OfflineAccessRule) Check(_ context.Context, run *Run) (Outcome, error) {
	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}
	if !hasScope(run.Bag, ScopeOfflineAccess) {
		return Continue(false), nil
	}
	if !client.GetGrantTypes().Has(GrantRefreshToken) {
		run.Logger.Info("offline_access requested by client without refresh_token grant", "client_id", client.ID)
		return Continue(false), nil
	}
	return Continue(true), nil
}
