// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/rules"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// JSONResponder answers validated requests with a JSON description of the
// results, for deployments where token issuance happens downstream.
// Logout requests with a registered post-logout URI are redirected there.
type JSONResponder struct{}

var _ Responder = JSONResponder{}

// AuthorizationResult is the JSON body written for a validated
// authorization request.
type AuthorizationResult struct {
	RunID               string                 `json:"run_id"`
	ClientID            string                 `json:"client_id"`
	RedirectURI         string                 `json:"redirect_uri"`
	ResponseType        string                 `json:"response_type"`
	Scope               []string               `json:"scope"`
	State               string                 `json:"state,omitempty"`
	Nonce               string                 `json:"nonce,omitempty"`
	CodeChallenge       string                 `json:"code_challenge,omitempty"`
	CodeChallengeMethod string                 `json:"code_challenge_method,omitempty"`
	Subject             string                 `json:"sub"`
	AuthTime            int64                  `json:"auth_time"`
	ACR                 string                 `json:"acr,omitempty"`
	OfflineAccess       bool                   `json:"offline_access"`
	ClaimsInIDToken     bool                   `json:"claims_in_id_token"`
	Claims              *rules.RequestedClaims `json:"claims,omitempty"`
	UILocales           []string               `json:"ui_locales,omitempty"`
}

// TokenResult is the JSON body written for a validated token request.
type TokenResult struct {
	RunID        string `json:"run_id"`
	ClientID     string `json:"client_id"`
	GrantType    string `json:"grant_type"`
	AuthMethod   string `json:"auth_method"`
	CodeVerifier string `json:"code_verifier,omitempty"`
}

// Authorize implements Responder.
func (JSONResponder) Authorize(w http.ResponseWriter, _ *http.Request, authz *Authorization) {
	bag := authz.Bag
	client, _ := rules.Lookup[*storage.Client](bag, rules.KeyClient)
	scopes, _ := rules.Lookup[[]*storage.Scope](bag, rules.KeyScope)
	rt, _ := rules.Lookup[rules.ResponseType](bag, rules.KeyResponseType)

	res := AuthorizationResult{
		RunID:           authz.RunID,
		ClientID:        client.ID,
		ResponseType:    rt.String(),
		Scope:           rules.ScopeIDs(scopes),
		Subject:         authz.Session.Subject,
		AuthTime:        authz.Session.AuthTime.Unix(),
		ACR:             authz.ACR,
		OfflineAccess:   lookupBool(bag, rules.KeyOfflineAccess),
		ClaimsInIDToken: lookupBool(bag, rules.KeyAddClaimsToIDToken),
	}
	res.RedirectURI, _ = rules.Lookup[string](bag, rules.KeyRedirectURI)
	res.State, _ = rules.Lookup[string](bag, rules.KeyState)
	res.Nonce, _ = rules.Lookup[string](bag, rules.KeyNonce)
	res.CodeChallenge, _ = rules.Lookup[string](bag, rules.KeyCodeChallenge)
	res.CodeChallengeMethod, _ = rules.Lookup[string](bag, rules.KeyCodeChallengeMethod)
	res.Claims, _ = rules.Lookup[*rules.RequestedClaims](bag, rules.KeyRequestedClaims)
	res.UILocales, _ = rules.Lookup[[]string](bag, rules.KeyUILocales)

	writeJSON(w, http.StatusOK, res)
}

// Token implements Responder.
func (JSONResponder) Token(w http.ResponseWriter, _ *http.Request, eval *rules.Evaluation) {
	client, _ := rules.Lookup[*storage.Client](eval.Bag, rules.KeyClient)
	res := TokenResult{RunID: eval.RunID, ClientID: client.ID}
	res.GrantType, _ = rules.Lookup[string](eval.Bag, rules.KeyGrantType)
	res.AuthMethod, _ = rules.Lookup[string](eval.Bag, rules.KeyClientAuthentication)
	res.CodeVerifier, _ = rules.Lookup[string](eval.Bag, rules.KeyCodeVerifier)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}

// Logout implements Responder.
func (JSONResponder) Logout(w http.ResponseWriter, r *http.Request, eval *rules.Evaluation) {
	uri, ok := rules.Lookup[string](eval.Bag, rules.KeyPostLogoutRedirectURI)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"run_id": eval.RunID, "logged_out": true})
		return
	}
	target, err := url.Parse(uri)
	if err != nil {
		logger.Errorw("invalid post logout redirect URI", "uri", uri, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if state, ok := rules.Lookup[string](eval.Bag, rules.KeyState); ok {
		q := target.Query()
		q.Set("state", state)
		target.RawQuery = q.Encode()
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func lookupBool(bag *rules.ResultBag, key rules.Key) bool {
	v, _ := rules.Lookup[bool](bag, key)
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorw("failed to encode response", "error", err)
	}
}
