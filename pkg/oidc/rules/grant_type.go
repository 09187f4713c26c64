// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"slices"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// Grant types.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
	GrantClientCredentials = "client_credentials"
)

// DefaultGrantTypes are the grant types served when none are configured.
var DefaultGrantTypes = []string{GrantAuthorizationCode, GrantRefreshToken, GrantClientCredentials}

// GrantTypeRule validates grant_type at the token endpoint. Its result is
// the grant type string.
type GrantTypeRule struct {
	base
	supported []string
}

// NewGrantTypeRule creates a GrantTypeRule. A nil supported list means
// DefaultGrantTypes.
func NewGrantTypeRule(supported []string) *GrantTypeRule {
	if len(supported) == 0 {
		supported = DefaultGrantTypes
	}
	return &GrantTypeRule{base: base{key: KeyGrantType, deps: []Key{KeyClient}}, supported: supported}
}

// Check implements Rule.
func (g *GrantTypeRule) Check(_ context.Context, run *Run) (Outcome, error) {
	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}
	grantType, ok := run.Param(params.GrantType)
	if !ok {
		return Outcome{}, oautherr.InvalidRequest(params.GrantType, "")
	}
	if !slices.Contains(g.supported, grantType) {
		return Outcome{}, oautherr.UnsupportedGrantType(grantType)
	}
	if !client.GetGrantTypes().Has(grantType) {
		return Outcome{}, oautherr.UnauthorizedClient("The client is not allowed to use this grant type.")
	}
	return Continue(grantType), nil
}
