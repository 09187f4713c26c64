// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

func TestAuthorize_PublicClientScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	q := url.Values{
		"client_id":      {publicClientID},
		"redirect_uri":   {rpCallback},
		"scope":          {"openid profile"},
		"code_challenge": {validChallenge},
	}
	eval, err := f.authorize(t, q, KeyClient, KeyRedirectURI, KeyState, KeyScope, KeyCodeChallenge)
	require.NoError(t, err)
	require.False(t, eval.Suspended())

	client, err := Value[*storage.Client](eval.Bag, KeyClient)
	require.NoError(t, err)
	assert.Equal(t, publicClientID, client.ID)

	uri, err := Value[string](eval.Bag, KeyRedirectURI)
	require.NoError(t, err)
	assert.Equal(t, rpCallback, uri)

	scopes, err := Value[[]*storage.Scope](eval.Bag, KeyScope)
	require.NoError(t, err)
	assert.Equal(t, []string{"openid", "profile"}, ScopeIDs(scopes))

	challenge, err := Value[string](eval.Bag, KeyCodeChallenge)
	require.NoError(t, err)
	assert.Equal(t, validChallenge, challenge)

	assert.False(t, eval.Bag.Has(KeyState), "absent state produces no result")
}

func TestAuthorize_UnknownScopeRedirects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	q := url.Values{
		"client_id":      {publicClientID},
		"redirect_uri":   {rpCallback},
		"scope":          {"openid unknown_scope"},
		"code_challenge": {validChallenge},
	}
	eval, err := f.authorize(t, q, KeyClient, KeyRedirectURI, KeyState, KeyScope, KeyCodeChallenge)
	assert.Nil(t, eval)

	protoErr := requireProtocolError(t, err, "invalid_scope")
	assert.Contains(t, protoErr.Hint(), "unknown_scope")
	assert.True(t, protoErr.Redirectable())
	assert.Equal(t, rpCallback, protoErr.RedirectURI())
	assert.Equal(t, string(KeyScope), protoErr.Rule())

	location, err := protoErr.RedirectLocation()
	require.NoError(t, err)
	parsed, err := url.Parse(location)
	require.NoError(t, err)
	assert.Equal(t, "invalid_scope", parsed.Query().Get("error"))
}

func TestAuthorize_FullCodeFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	q := codeRequest()
	q.Set("code_challenge_method", "S256")
	q.Set("ui_locales", "de-CH en")

	eval, err := f.authorize(t, q)
	require.NoError(t, err)

	state, err := Value[string](eval.Bag, KeyState)
	require.NoError(t, err)
	assert.Equal(t, "xyz", state)

	method, err := Value[string](eval.Bag, KeyCodeChallengeMethod)
	require.NoError(t, err)
	assert.Equal(t, "S256", method)

	rt, err := Value[ResponseType](eval.Bag, KeyResponseType)
	require.NoError(t, err)
	assert.Equal(t, "code", rt.String())

	locales, err := Value[[]string](eval.Bag, KeyUILocales)
	require.NoError(t, err)
	assert.Equal(t, []string{"de-CH", "en"}, locales)

	for _, k := range []Key{KeyPrompt, KeyMaxAge, KeyRequestedClaims, KeyACRValues, KeyRequiredNonce} {
		assert.Truef(t, eval.Bag.Has(k), "%s must be registered", k)
		r, _ := eval.Bag.Get(k)
		assert.Nilf(t, r.Value(), "%s has nothing to report", k)
	}
	for _, k := range []Key{KeyNonce, KeyClaimsLocales, KeyRequestObject} {
		assert.Falsef(t, eval.Bag.Has(k), "%s was not requested", k)
	}

	offline, err := Value[bool](eval.Bag, KeyOfflineAccess)
	require.NoError(t, err)
	assert.False(t, offline)

	idTokenOnly, err := Value[bool](eval.Bag, KeyAddClaimsToIDToken)
	require.NoError(t, err)
	assert.False(t, idTokenOnly)
}

func TestAuthorize_ClientErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name     string
		clientID string
		code     string
	}{
		{name: "missing client_id", clientID: "", code: "invalid_request"},
		{name: "unknown client", clientID: "nope", code: "invalid_client"},
		{name: "disabled client", clientID: disabledClientID, code: "invalid_client"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := codeRequest()
			if tt.clientID == "" {
				q.Del("client_id")
			} else {
				q.Set("client_id", tt.clientID)
			}
			_, err := f.authorize(t, q)
			protoErr := requireProtocolError(t, err, tt.code)
			assert.False(t, protoErr.Redirectable(), "client errors are rendered to the user agent")
			assert.Equal(t, string(KeyClient), protoErr.Rule())
		})
	}
}

func TestAuthorize_RedirectURI(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name     string
		clientID string
		uri      string
		wantErr  bool
	}{
		{name: "single registered exact", clientID: publicClientID, uri: rpCallback},
		{name: "single registered trailing slash", clientID: publicClientID, uri: rpCallback + "/", wantErr: true},
		{name: "single registered with query", clientID: publicClientID, uri: rpCallback + "?x=1", wantErr: true},
		{name: "missing", clientID: publicClientID, uri: "", wantErr: true},
		{name: "set member", clientID: confidentialClientID, uri: "https://rp2/alt"},
		{name: "not in set", clientID: confidentialClientID, uri: "https://evil/cb", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := url.Values{"client_id": {tt.clientID}, "state": {"s"}}
			if tt.uri != "" {
				q.Set("redirect_uri", tt.uri)
			}
			eval, err := f.authorize(t, q, KeyClient, KeyRedirectURI)
			if !tt.wantErr {
				require.NoError(t, err)
				uri, err := Value[string](eval.Bag, KeyRedirectURI)
				require.NoError(t, err)
				assert.Equal(t, tt.uri, uri)
				return
			}
			protoErr := requireProtocolError(t, err, "invalid_request")
			assert.False(t, protoErr.Redirectable(), "an untrusted redirect URI is never redirected to")
		})
	}
}

func TestAuthorize_Scope(t *testing.T) {
	t.Parallel()

	t.Run("not allowed for client", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := codeRequest()
		q.Set("scope", "openid email")
		_, err := f.authorize(t, q)
		protoErr := requireProtocolError(t, err, "invalid_scope")
		assert.Contains(t, protoErr.Hint(), "email")
		assert.Equal(t, "xyz", protoErr.State())
	})

	t.Run("openid required", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := codeRequest()
		q.Set("scope", "profile")
		_, err := f.authorize(t, q)
		protoErr := requireProtocolError(t, err, "invalid_request")
		assert.Equal(t, string(KeyRequiredOpenIDScope), protoErr.Rule())
		assert.True(t, protoErr.Redirectable())
	})

	t.Run("default scope and delimiter", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := codeRequest()
		q.Del("scope")
		plan, err := f.manager.Plan(KeyClient, KeyRedirectURI, KeyState, KeyScope)
		require.NoError(t, err)

		r := newGetRequest("/authorize", q)
		eval, err := plan.Execute(t.Context(), r, RunOptions{
			AllowedMethods: []string{"GET"},
			Data:           Data{DataDefaultScope: "openid,profile,openid", DataScopeDelimiter: ","},
		})
		require.NoError(t, err)
		scopes, err := Value[[]*storage.Scope](eval.Bag, KeyScope)
		require.NoError(t, err)
		assert.Equal(t, []string{"openid", "profile"}, ScopeIDs(scopes))
	})

	t.Run("offline access", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		q := url.Values{
			"client_id":     {confidentialClientID},
			"redirect_uri":  {"https://rp2/cb"},
			"response_type": {"code"},
			"scope":         {"openid offline_access"},
		}
		eval, err := f.authorize(t, q)
		require.NoError(t, err)
		offline, err := Value[bool](eval.Bag, KeyOfflineAccess)
		require.NoError(t, err)
		assert.True(t, offline)
	})
}

func TestSplitScope(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, SplitScope(" a  b a ", " "))
	assert.Equal(t, []string{"a", "b c"}, SplitScope("a,b c,", ","))
	assert.Nil(t, SplitScope("", " "))
}

func TestAuthorize_PKCE(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name       string
		clientID   string
		redirect   string
		challenge  string
		method     string
		wantErr    bool
		wantMethod any
	}{
		{name: "public without challenge", clientID: publicClientID, redirect: rpCallback, wantErr: true},
		{name: "short challenge", clientID: publicClientID, redirect: rpCallback, challenge: "abc", wantErr: true},
		{name: "unsupported method", clientID: publicClientID, redirect: rpCallback, challenge: validChallenge, method: "S512", wantErr: true},
		{name: "default plain", clientID: publicClientID, redirect: rpCallback, challenge: validChallenge, wantMethod: "plain"},
		{name: "confidential without challenge", clientID: confidentialClientID, redirect: "https://rp2/cb", wantMethod: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := url.Values{"client_id": {tt.clientID}, "redirect_uri": {tt.redirect}, "state": {"st"}}
			if tt.challenge != "" {
				q.Set("code_challenge", tt.challenge)
			}
			if tt.method != "" {
				q.Set("code_challenge_method", tt.method)
			}
			eval, err := f.authorize(t, q, KeyClient, KeyRedirectURI, KeyState, KeyCodeChallenge, KeyCodeChallengeMethod)
			if tt.wantErr {
				protoErr := requireProtocolError(t, err, "invalid_request")
				assert.Equal(t, tt.redirect, protoErr.RedirectURI())
				assert.Equal(t, "st", protoErr.State())
				return
			}
			require.NoError(t, err)
			r, ok := eval.Bag.Get(KeyCodeChallengeMethod)
			require.True(t, ok)
			assert.Equal(t, tt.wantMethod, r.Value())
		})
	}
}

func TestAuthorize_ResponseType(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	tests := []struct {
		name         string
		clientID     string
		redirect     string
		responseType string
		nonce        string
		code         string
		fragment     bool
	}{
		{name: "missing", clientID: publicClientID, redirect: rpCallback, code: "invalid_request"},
		{name: "unsupported", clientID: publicClientID, redirect: rpCallback, responseType: "code foo", code: "unsupported_response_type"},
		{name: "not allowed for client", clientID: publicClientID, redirect: rpCallback, responseType: "id_token", code: "unauthorized_client", fragment: true},
		{name: "implicit without nonce", clientID: confidentialClientID, redirect: "https://rp2/cb", responseType: "id_token token", code: "invalid_request", fragment: true},
		{name: "hybrid with nonce", clientID: confidentialClientID, redirect: "https://rp2/cb", responseType: "token code id_token", nonce: "n-0S6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q := url.Values{
				"client_id":      {tt.clientID},
				"redirect_uri":   {tt.redirect},
				"scope":          {"openid"},
				"code_challenge": {validChallenge},
			}
			if tt.responseType != "" {
				q.Set("response_type", tt.responseType)
			}
			if tt.nonce != "" {
				q.Set("nonce", tt.nonce)
			}
			eval, err := f.authorize(t, q)
			if tt.code != "" {
				protoErr := requireProtocolError(t, err, tt.code)
				assert.Equal(t, tt.fragment, protoErr.UseFragment())
				return
			}
			require.NoError(t, err)
			rt, err := Value[ResponseType](eval.Bag, KeyResponseType)
			require.NoError(t, err)
			assert.Equal(t, "code id_token token", rt.String())
			nonce, err := Value[string](eval.Bag, KeyRequiredNonce)
			require.NoError(t, err)
			assert.Equal(t, tt.nonce, nonce)
		})
	}
}

func TestResponseType(t *testing.T) {
	t.Parallel()

	assert.True(t, ParseResponseType("id_token").IsIDTokenOnly())
	assert.False(t, ParseResponseType("code").UsesFragment())
	assert.True(t, ParseResponseType("code id_token").IsImplicitOrHybrid())
	assert.True(t, ParseResponseType("token id_token").Equal(ParseResponseType("id_token  token")))
}
