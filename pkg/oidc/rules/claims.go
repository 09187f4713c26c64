// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"fmt"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// Claims that may always be requested regardless of scope.
const (
	ClaimACR      = "acr"
	ClaimAuthTime = "auth_time"
)

var alwaysReleasable = []string{ClaimACR, ClaimAuthTime}

// ClaimRequest is an individual claim request (OpenID Connect Core 5.5.1).
type ClaimRequest struct {
	Essential bool
	Value     string
	Values    []string
}

// AllValues returns Value followed by Values.
func (c ClaimRequest) AllValues() []string {
	if c.Value == "" {
		return c.Values
	}
	return append([]string{c.Value}, c.Values...)
}

// RequestedClaims holds the claims parameter members the client may receive.
type RequestedClaims struct {
	UserInfo map[string]ClaimRequest
	IDToken  map[string]ClaimRequest
}

// RequestedClaimsRule parses the claims parameter and keeps only the claims
// released by the client's registered scopes. Its result is a
// *RequestedClaims, or nil when the parameter is absent.
type RequestedClaimsRule struct {
	base
	scopes storage.ScopeRepository
}

// NewRequestedClaimsRule creates a RequestedClaimsRule.
func NewRequestedClaimsRule(scopes storage.ScopeRepository) *RequestedClaimsRule {
	return &RequestedClaimsRule{
		base:   base{key: KeyRequestedClaims, deps: []Key{KeyClient}},
		scopes: scopes,
	}
}

// Check implements Rule.
func (c *RequestedClaimsRule) Check(ctx context.Context, run *Run) (Outcome, error) {
	raw, ok := run.Param(params.Claims)
	if !ok {
		return Continue(nil), nil
	}
	if !gjson.Valid(raw) || !gjson.Parse(raw).IsObject() {
		return Outcome{}, oautherr.InvalidRequest(params.Claims, "The value must be a JSON object.", run.RedirectOptions()...)
	}

	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}
	allowed, err := c.releasable(ctx, client)
	if err != nil {
		return Outcome{}, err
	}

	parsed := gjson.Parse(raw)
	requested := &RequestedClaims{
		UserInfo: filterClaims(run, parsed.Get("userinfo"), allowed),
		IDToken:  filterClaims(run, parsed.Get("id_token"), allowed),
	}
	return Continue(requested), nil
}

// releasable returns the claims the client's scopes release.
func (c *RequestedClaimsRule) releasable(ctx context.Context, client *storage.Client) ([]string, error) {
	allowed := slices.Clone(alwaysReleasable)
	for _, id := range client.Scopes {
		scope, err := c.scopes.GetScope(ctx, id)
		if storage.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve scope %q: %w", id, err)
		}
		allowed = appendUnique(allowed, scope.Claims...)
	}
	return allowed, nil
}

func filterClaims(run *Run, member gjson.Result, allowed []string) map[string]ClaimRequest {
	out := make(map[string]ClaimRequest)
	if !member.IsObject() {
		return out
	}
	member.ForEach(func(name, spec gjson.Result) bool {
		if !slices.Contains(allowed, name.String()) {
			run.Logger.Debug("dropping claim not released to client", "claim", name.String())
			return true
		}
		req := ClaimRequest{}
		if spec.IsObject() {
			req.Essential = spec.Get("essential").Bool()
			if v := spec.Get("value"); v.Exists() {
				req.Value = v.String()
			}
			for _, v := range spec.Get("values").Array() {
				req.Values = append(req.Values, v.String())
			}
		}
		out[name.String()] = req
		return true
	})
	return out
}
