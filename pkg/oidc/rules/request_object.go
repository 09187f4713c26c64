// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/clientjwt"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// RequestObject is a validated request parameter payload.
type RequestObject struct {
	Claims jwt.MapClaims
	// Signed is false for alg "none" objects.
	Signed bool
}

// String returns a string claim.
func (o *RequestObject) String(name string) (string, bool) {
	v, ok := o.Claims[name].(string)
	return v, ok && v != ""
}

// jwtClaims are request object members that are not authorization parameters.
var jwtClaims = []string{"iss", "aud", "exp", "iat", "nbf", "jti", "sub", params.Request}

// Param returns claim name as an authorization parameter value. Numbers and
// booleans are formatted; objects such as claims are encoded as JSON.
func (o *RequestObject) Param(name string) (string, bool) {
	if slices.Contains(jwtClaims, name) {
		return "", false
	}
	switch v := o.Claims[name].(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(data), true
	}
}

// RequestObjectRule validates the request parameter against the client's
// keys. It skips when the parameter is absent or when the client rule has
// already stored a verified payload.
type RequestObjectRule struct {
	base
	verifier *clientjwt.Verifier
	issuer   string
}

// NewRequestObjectRule creates a RequestObjectRule. issuer, when set, must be
// among the object's audiences.
func NewRequestObjectRule(verifier *clientjwt.Verifier, issuer string) *RequestObjectRule {
	return &RequestObjectRule{
		base:     base{key: KeyRequestObject, deps: []Key{KeyClient}},
		verifier: verifier,
		issuer:   issuer,
	}
}

// Check implements Rule.
func (o *RequestObjectRule) Check(ctx context.Context, run *Run) (Outcome, error) {
	if run.Bag.Has(KeyRequestObject) {
		run.Logger.Debug("request object already verified")
		return Skip(), nil
	}
	raw, ok := run.Param(params.Request)
	if !ok {
		return Skip(), nil
	}

	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}

	alg, err := clientjwt.Algorithm(raw)
	if err != nil {
		return Outcome{}, oautherr.InvalidRequestObject("The Request Object is malformed.", append(run.RedirectOptions(), oautherr.WithCause(err))...)
	}

	var keys clientjwt.KeySource
	if alg != clientjwt.AlgNone {
		keys, err = o.verifier.KeysFor(client)
		if errors.Is(err, clientjwt.ErrNoKeys) {
			return Outcome{}, oautherr.InvalidRequestObject("The client has no registered keys.", run.RedirectOptions()...)
		}
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to load client keys: %w", err)
		}
	}

	claims, err := o.verifier.Verify(ctx, raw, keys, clientjwt.Options{
		AllowUnsigned: client.AllowUnsignedRequestObject,
		Audience:      o.audience(alg),
	})
	if err != nil {
		run.Logger.Debug("request object rejected", "client_id", client.ID, "error", err)
		return Outcome{}, oautherr.InvalidRequestObject("The Request Object could not be verified.", append(run.RedirectOptions(), oautherr.WithCause(err))...)
	}
	if err := checkRequestObjectClient(claims, client.ID); err != nil {
		return Outcome{}, err
	}

	return Continue(&RequestObject{Claims: claims, Signed: alg != clientjwt.AlgNone}), nil
}

// audience is not enforced for unsigned objects, which carry no aud.
func (o *RequestObjectRule) audience(alg string) string {
	if alg == clientjwt.AlgNone {
		return ""
	}
	return o.issuer
}
