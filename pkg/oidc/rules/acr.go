// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
)

// ACRValues is the merged authentication context class request.
type ACRValues struct {
	// Essential is set when the acr claim was requested as essential.
	Essential bool
	// Values are the candidates in preference order.
	Values []string
}

// ACRValuesRule merges the acr claim request from the claims parameter with
// acr_values. Its result is an *ACRValues, or nil when neither is present.
type ACRValuesRule struct {
	base
}

// NewACRValuesRule creates an ACRValuesRule.
func NewACRValuesRule() *ACRValuesRule {
	return &ACRValuesRule{base: base{key: KeyACRValues, deps: []Key{KeyRequestedClaims}}}
}

// Check implements Rule.
func (*ACRValuesRule) Check(_ context.Context, run *Run) (Outcome, error) {
	acr := &ACRValues{}

	if claims, ok := Lookup[*RequestedClaims](run.Bag, KeyRequestedClaims); ok {
		if req, ok := claims.IDToken[ClaimACR]; ok {
			acr.Essential = req.Essential
			acr.Values = appendUnique(acr.Values, req.AllValues()...)
		}
	}
	if raw, ok := run.Param(params.ACRValues); ok {
		acr.Values = appendUnique(acr.Values, strings.Fields(raw)...)
	}

	if !acr.Essential && len(acr.Values) == 0 {
		return Continue(nil), nil
	}
	return Continue(acr), nil
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v != "" && !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}

// ErrACRUnsatisfiable is returned by SelectACR when an essential ACR request
// cannot be met by the authentication source.
var ErrACRUnsatisfiable = errors.New("essential acr cannot be satisfied")

// ACRPolicy maps authentication sources to the ACRs they can satisfy, in
// preference order.
type ACRPolicy map[string][]string

// SelectACR picks the ACR to assert for a user authenticated by authSource.
// The first requested value the source supports wins; otherwise the source's
// first ACR is used. A source without ACRs is logged and yields "".
func (p ACRPolicy) SelectACR(log *slog.Logger, authSource string, requested *ACRValues) (string, error) {
	supported := p[authSource]
	if len(supported) == 0 {
		log.Warn("no ACR values configured for auth source", "auth_source", authSource)
		return "", nil
	}
	if requested != nil {
		for _, v := range requested.Values {
			if slices.Contains(supported, v) {
				return v, nil
			}
		}
		if requested.Essential {
			return "", ErrACRUnsatisfiable
		}
	}
	return supported[0], nil
}
