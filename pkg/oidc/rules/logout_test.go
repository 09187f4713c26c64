// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-oidc/pkg/testkit"
)

func TestLogout(t *testing.T) {
	t.Parallel()

	provider := testkit.NewSigningKey(t, "op-key")
	hint := func(issuer string) string {
		return provider.SignJose(t, map[string]any{
			"iss": issuer,
			"sub": "alice",
			"aud": []string{publicClientID},
			"sid": "session-1",
			// expired hints are still accepted
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
	}

	tests := []struct {
		name    string
		query   url.Values
		code    string
		wantURI string
	}{
		{
			name:    "hint and registered uri",
			query:   url.Values{"id_token_hint": {hint(testIssuer)}, "post_logout_redirect_uri": {rpLoggedOut}, "state": {"bye"}},
			wantURI: rpLoggedOut,
		},
		{
			name:    "client_id without hint",
			query:   url.Values{"client_id": {publicClientID}, "post_logout_redirect_uri": {rpLoggedOut}},
			wantURI: rpLoggedOut,
		},
		{
			name:  "hint from another issuer",
			query: url.Values{"id_token_hint": {hint("https://evil.example")}},
			code:  "invalid_request",
		},
		{
			name:  "client_id not in hint audience",
			query: url.Values{"id_token_hint": {hint(testIssuer)}, "client_id": {confidentialClientID}, "post_logout_redirect_uri": {rpLoggedOut}},
			code:  "invalid_request",
		},
		{
			name:  "unregistered uri",
			query: url.Values{"client_id": {publicClientID}, "post_logout_redirect_uri": {"https://evil/out"}},
			code:  "invalid_request",
		},
		{
			name:  "uri without client",
			query: url.Values{"post_logout_redirect_uri": {rpLoggedOut}},
			code:  "invalid_request",
		},
		{
			name:  "unknown client",
			query: url.Values{"client_id": {"ghost"}, "post_logout_redirect_uri": {rpLoggedOut}},
			code:  "invalid_client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, func(c *Collaborators) { c.ProviderKeys = provider.JoseKeySet() })

			eval, err := f.logout(t, tt.query)
			if tt.code != "" {
				protoErr := requireProtocolError(t, err, tt.code)
				assert.False(t, protoErr.Redirectable())
				return
			}
			require.NoError(t, err)
			uri, err := Value[string](eval.Bag, KeyPostLogoutRedirectURI)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURI, uri)
		})
	}
}

func TestLogout_HintResult(t *testing.T) {
	t.Parallel()

	provider := testkit.NewSigningKey(t, "op-key")
	f := newFixture(t, func(c *Collaborators) { c.ProviderKeys = provider.JoseKeySet() })

	raw := provider.SignJose(t, map[string]any{
		"iss": testIssuer,
		"sub": "alice",
		"aud": []string{publicClientID, "api"},
		"azp": publicClientID,
		"sid": "session-1",
	})
	eval, err := f.logout(t, url.Values{"id_token_hint": {raw}})
	require.NoError(t, err)

	hint, err := Value[*IDTokenHint](eval.Bag, KeyIDTokenHint)
	require.NoError(t, err)
	assert.Equal(t, &IDTokenHint{
		Subject:   "alice",
		Audience:  []string{publicClientID, "api"},
		ClientID:  publicClientID,
		SessionID: "session-1",
	}, hint)
	assert.False(t, eval.Bag.Has(KeyPostLogoutRedirectURI))
}
