// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const claimsParam = `{
  "userinfo": {"name": null, "email": {"essential": true}},
  "id_token": {
    "acr": {"essential": true, "values": ["urn:gold", "urn:silver"]},
    "auth_time": {"essential": true},
    "given_name": {"value": "Alice"}
  }
}`

func TestRequestedClaims(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	q := codeRequest()
	q.Set("claims", claimsParam)
	q.Set("acr_values", "urn:silver urn:bronze")

	eval, err := f.authorize(t, q)
	require.NoError(t, err)

	claims, err := Value[*RequestedClaims](eval.Bag, KeyRequestedClaims)
	require.NoError(t, err)
	assert.Equal(t, map[string]ClaimRequest{"name": {}}, claims.UserInfo, "email is not released by the client's scopes")
	assert.Equal(t, map[string]ClaimRequest{
		"acr":        {Essential: true, Values: []string{"urn:gold", "urn:silver"}},
		"auth_time":  {Essential: true},
		"given_name": {Value: "Alice"},
	}, claims.IDToken)

	acr, err := Value[*ACRValues](eval.Bag, KeyACRValues)
	require.NoError(t, err)
	assert.True(t, acr.Essential)
	assert.Equal(t, []string{"urn:gold", "urn:silver", "urn:bronze"}, acr.Values)
}

func TestRequestedClaims_Invalid(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, raw := range []string{`{"userinfo":`, `["acr"]`, `"acr"`} {
		q := codeRequest()
		q.Set("claims", raw)
		_, err := f.authorize(t, q)
		protoErr := requireProtocolError(t, err, "invalid_request")
		assert.Equal(t, string(KeyRequestedClaims), protoErr.Rule())
		assert.True(t, protoErr.Redirectable())
	}
}

func TestACRValues_OnlyParameter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	q := codeRequest()
	q.Set("acr_values", "urn:a urn:b urn:a")
	eval, err := f.authorize(t, q)
	require.NoError(t, err)

	acr, err := Value[*ACRValues](eval.Bag, KeyACRValues)
	require.NoError(t, err)
	assert.Equal(t, &ACRValues{Values: []string{"urn:a", "urn:b"}}, acr)
}

func TestACRPolicy_SelectACR(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.DiscardHandler)
	policy := ACRPolicy{
		"ldap":     {"urn:password"},
		"webauthn": {"urn:mfa", "urn:password"},
	}

	tests := []struct {
		name      string
		source    string
		requested *ACRValues
		want      string
		wantErr   error
	}{
		{name: "nothing requested", source: "webauthn", want: "urn:mfa"},
		{name: "first supported request wins", source: "webauthn", requested: &ACRValues{Values: []string{"urn:gold", "urn:password"}}, want: "urn:password"},
		{name: "voluntary unsatisfied falls back", source: "ldap", requested: &ACRValues{Values: []string{"urn:mfa"}}, want: "urn:password"},
		{name: "essential unsatisfied", source: "ldap", requested: &ACRValues{Essential: true, Values: []string{"urn:mfa"}}, wantErr: ErrACRUnsatisfiable},
		{name: "unknown source", source: "saml", requested: &ACRValues{Essential: true, Values: []string{"urn:mfa"}}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := policy.SelectACR(log, tt.source, tt.requested)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
