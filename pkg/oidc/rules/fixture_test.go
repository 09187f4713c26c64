// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	authnmocks "github.com/stacklok/toolhive-oidc/pkg/oidc/authn/mocks"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
	"github.com/stacklok/toolhive-oidc/pkg/testkit"
)

const (
	publicClientID       = "c1"
	confidentialClientID = "c2"
	keyClientID          = "c3"
	disabledClientID     = "c4"

	rpCallback     = "https://rp/cb"
	rpLoggedOut    = "https://rp/logged-out"
	testIssuer     = "https://op.example.com"
	testTokenURL   = testIssuer + "/token"
	testSecret     = "s3cret"
	validChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cME9Melhoa2OwvFrEMTJguC"
)

// authorizeKeys is the authorization endpoint rule list in fail-fast order.
var authorizeKeys = []Key{
	KeyClient, KeyRequestObject, KeyRedirectURI, KeyState, KeyResponseType,
	KeyScope, KeyRequiredOpenIDScope, KeyCodeChallenge, KeyCodeChallengeMethod,
	KeyNonce, KeyRequiredNonce, KeyPrompt, KeyMaxAge, KeyRequestedClaims, KeyACRValues,
	KeyUILocales, KeyClaimsLocales, KeyOfflineAccess, KeyAddClaimsToIDToken,
}

var tokenKeys = []Key{KeyClient, KeyClientAuthentication, KeyGrantType, KeyCodeVerifier}

var logoutKeys = []Key{KeyIDTokenHint, KeyState, KeyPostLogoutRedirectURI}

type fixture struct {
	store   *storage.MemoryStorage
	auth    *authnmocks.MockAuthenticator
	key     *testkit.SigningKey
	manager *Manager
}

func newFixture(t *testing.T, configure ...func(*Collaborators)) *fixture {
	t.Helper()

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store: store,
		auth:  authnmocks.NewMockAuthenticator(gomock.NewController(t)),
		key:   testkit.NewSigningKey(t, "rp-key"),
	}

	ctx := t.Context()
	for _, s := range []*storage.Scope{
		{ID: ScopeOpenID, Claims: []string{"sub"}},
		{ID: "profile", Claims: []string{"name", "given_name"}},
		{ID: "email", Claims: []string{"email", "email_verified"}},
		{ID: ScopeOfflineAccess},
	} {
		require.NoError(t, store.RegisterScope(ctx, s))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testSecret), bcrypt.MinCost)
	require.NoError(t, err)

	for _, c := range []*storage.Client{
		{
			ID:                     publicClientID,
			Public:                 true,
			RedirectURIs:           []string{rpCallback},
			PostLogoutRedirectURIs: []string{rpLoggedOut},
			Scopes:                 []string{ScopeOpenID, "profile"},
			JWKS:                   f.key.PublicJWKS(t),
		},
		{
			ID:            confidentialClientID,
			HashedSecret:  hash,
			RedirectURIs:  []string{"https://rp2/cb", "https://rp2/alt"},
			Scopes:        []string{ScopeOpenID, "profile", "email", ScopeOfflineAccess},
			GrantTypes:    []string{GrantAuthorizationCode, GrantRefreshToken},
			ResponseTypes: DefaultResponseTypes,
		},
		{
			ID:                      keyClientID,
			RedirectURIs:            []string{"https://rp3/cb"},
			Scopes:                  []string{ScopeOpenID},
			TokenEndpointAuthMethod: storage.AuthMethodPrivateKeyJWT,
			JWKS:                    f.key.PublicJWKS(t),
		},
		{
			ID:           disabledClientID,
			Public:       true,
			Disabled:     true,
			RedirectURIs: []string{rpCallback},
		},
	} {
		require.NoError(t, store.RegisterClient(ctx, c))
	}

	collaborators := Collaborators{
		Clients:       store,
		Scopes:        store,
		Replay:        store,
		Authenticator: f.auth,
		Issuer:        testIssuer,
		TokenEndpoint: testTokenURL,
	}
	for _, fn := range configure {
		fn(&collaborators)
	}

	m, err := NewManager()
	require.NoError(t, err)
	require.NoError(t, m.Register(DefaultRules(collaborators)...))
	f.manager = m
	return f
}

func (f *fixture) run(t *testing.T, r *http.Request, opts RunOptions, keys ...Key) (*Evaluation, error) {
	t.Helper()
	plan, err := f.manager.Plan(keys...)
	require.NoError(t, err)
	return plan.Execute(t.Context(), r, opts)
}

// authorize runs keys, or every authorization rule, against a GET request.
func (f *fixture) authorize(t *testing.T, q url.Values, keys ...Key) (*Evaluation, error) {
	t.Helper()
	if len(keys) == 0 {
		keys = authorizeKeys
	}
	r := httptest.NewRequest(http.MethodGet, "/authorize?"+q.Encode(), nil)
	return f.run(t, r, RunOptions{
		AllowedMethods:      []string{http.MethodGet, http.MethodPost},
		UseFragmentEncoding: ParseResponseType(q.Get("response_type")).UsesFragment(),
	}, keys...)
}

// token runs the token endpoint rules against a form POST.
func (f *fixture) token(t *testing.T, form url.Values, prepare ...func(*http.Request)) (*Evaluation, error) {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, p := range prepare {
		p(r)
	}
	return f.run(t, r, RunOptions{AllowedMethods: []string{http.MethodPost}}, tokenKeys...)
}

func (f *fixture) logout(t *testing.T, q url.Values) (*Evaluation, error) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/logout?"+q.Encode(), nil)
	return f.run(t, r, RunOptions{AllowedMethods: []string{http.MethodGet, http.MethodPost}}, logoutKeys...)
}

// codeRequest is a valid authorization code request for the public client.
func codeRequest() url.Values {
	return url.Values{
		"client_id":      {publicClientID},
		"redirect_uri":   {rpCallback},
		"response_type":  {"code"},
		"scope":          {"openid profile"},
		"state":          {"xyz"},
		"code_challenge": {validChallenge},
	}
}

func requireProtocolError(t *testing.T, err error, code string) *oautherr.Error {
	t.Helper()
	require.Error(t, err)
	protoErr, ok := oautherr.As(err)
	require.Truef(t, ok, "expected protocol error, got %v", err)
	require.Equal(t, code, protoErr.Code())
	return protoErr
}

func newGetRequest(path string, q url.Values) *http.Request {
	return httptest.NewRequest(http.MethodGet, path+"?"+q.Encode(), nil)
}
