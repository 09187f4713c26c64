// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"slices"
	"strings"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// Response type components.
const (
	ResponseTypeCode    = "code"
	ResponseTypeIDToken = "id_token"
	ResponseTypeToken   = "token"
)

// DefaultResponseTypes are the response types served when none are configured.
var DefaultResponseTypes = []string{
	"code",
	"id_token",
	"id_token token",
	"code id_token",
	"code token",
	"code id_token token",
}

// ResponseType is a space-separated set of response type components.
type ResponseType []string

// ParseResponseType normalizes raw into a sorted component set.
func ParseResponseType(raw string) ResponseType {
	parts := strings.Fields(raw)
	slices.Sort(parts)
	return ResponseType(slices.Compact(parts))
}

// String returns the normalized form.
func (rt ResponseType) String() string { return strings.Join(rt, " ") }

// Has reports whether component is part of the response type.
func (rt ResponseType) Has(component string) bool { return slices.Contains(rt, component) }

// Equal reports whether both sets hold the same components.
func (rt ResponseType) Equal(other ResponseType) bool { return slices.Equal(rt, other) }

// UsesFragment reports whether responses travel in the URI fragment, which
// is the default for every response type that returns a token from the
// authorization endpoint.
func (rt ResponseType) UsesFragment() bool {
	return rt.Has(ResponseTypeIDToken) || rt.Has(ResponseTypeToken)
}

// IsImplicitOrHybrid reports whether an ID token or access token is issued
// from the authorization endpoint.
func (rt ResponseType) IsImplicitOrHybrid() bool { return rt.UsesFragment() }

// IsIDTokenOnly reports whether only an ID token is returned.
func (rt ResponseType) IsIDTokenOnly() bool {
	return len(rt) == 1 && rt[0] == ResponseTypeIDToken
}

func containsResponseType(list []string, rt ResponseType) bool {
	return slices.ContainsFunc(list, func(s string) bool { return ParseResponseType(s).Equal(rt) })
}

// ResponseTypeRule validates response_type. Its result is a ResponseType.
type ResponseTypeRule struct {
	base
	supported []string
}

// NewResponseTypeRule creates a ResponseTypeRule. A nil supported list means
// DefaultResponseTypes.
func NewResponseTypeRule(supported []string) *ResponseTypeRule {
	if len(supported) == 0 {
		supported = DefaultResponseTypes
	}
	return &ResponseTypeRule{
		base:      base{key: KeyResponseType, deps: []Key{KeyClient, KeyRedirectURI, KeyState}},
		supported: supported,
	}
}

// Check implements Rule.
func (r *ResponseTypeRule) Check(_ context.Context, run *Run) (Outcome, error) {
	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}

	raw, ok := run.Param(params.ResponseType)
	if !ok {
		return Outcome{}, oautherr.InvalidRequest(params.ResponseType, "", run.RedirectOptions()...)
	}
	rt := ParseResponseType(raw)
	if !containsResponseType(r.supported, rt) {
		return Outcome{}, oautherr.UnsupportedResponseType(raw, run.RedirectOptions()...)
	}
	if !containsResponseType(client.GetResponseTypes(), rt) {
		return Outcome{}, oautherr.UnauthorizedClient("The client is not allowed to use this response type.", run.RedirectOptions()...)
	}
	return Continue(rt), nil
}

// RequiredNonceRule requires nonce for implicit and hybrid flows. Its result
// is the nonce string, or nil when absent and optional.
type RequiredNonceRule struct {
	base
}

// NewRequiredNonceRule creates a RequiredNonceRule.
func NewRequiredNonceRule() *RequiredNonceRule {
	return &RequiredNonceRule{base: base{key: KeyRequiredNonce, deps: []Key{KeyResponseType, KeyRedirectURI, KeyState}}}
}

// Check implements Rule.
func (*RequiredNonceRule) Check(_ context.Context, run *Run) (Outcome, error) {
	rt, err := Value[ResponseType](run.Bag, KeyResponseType)
	if err != nil {
		return Outcome{}, err
	}
	nonce, ok := run.Param(params.Nonce)
	if ok {
		return Continue(nonce), nil
	}
	if rt.IsImplicitOrHybrid() {
		return Outcome{}, oautherr.InvalidRequest(params.Nonce, "A nonce is required for this response type.", run.RedirectOptions()...)
	}
	return Continue(nil), nil
}

// AddClaimsToIDTokenRule reports whether user claims must be placed in the ID
// token because no access token is issued to fetch them from userinfo.
type AddClaimsToIDTokenRule struct {
	base
}

// NewAddClaimsToIDTokenRule creates an AddClaimsToIDTokenRule.
func NewAddClaimsToIDTokenRule() *AddClaimsToIDTokenRule {
	return &AddClaimsToIDTokenRule{base: base{key: KeyAddClaimsToIDToken, deps: []Key{KeyResponseType}}}
}

// Check implements Rule.
func (*AddClaimsToIDTokenRule) Check(_ context.Context, run *Run) (Outcome, error) {
	rt, err := Value[ResponseType](run.Bag, KeyResponseType)
	if err != nil {
		return Outcome{}, err
	}
	return Continue(rt.IsIDTokenOnly()), nil
}
