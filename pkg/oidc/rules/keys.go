// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

// Rule keys. Each is also the key of the result the rule produces.
const (
	KeyClient                Key = "client"
	KeyRedirectURI           Key = "redirect_uri"
	KeyScope                 Key = "scope"
	KeyCodeChallenge         Key = "code_challenge"
	KeyCodeChallengeMethod   Key = "code_challenge_method"
	KeyCodeVerifier          Key = "code_verifier"
	KeyState                 Key = "state"
	KeyNonce                 Key = "nonce"
	KeyRequiredNonce         Key = "required_nonce"
	KeyPrompt                Key = "prompt"
	KeyMaxAge                Key = "max_age"
	KeyACRValues             Key = "acr_values"
	KeyResponseType          Key = "response_type"
	KeyRequiredOpenIDScope   Key = "required_openid_scope"
	KeyOfflineAccess         Key = "offline_access"
	KeyRequestedClaims       Key = "requested_claims"
	KeyAddClaimsToIDToken    Key = "add_claims_to_id_token"
	KeyUILocales             Key = "ui_locales"
	KeyClaimsLocales         Key = "claims_locales"
	KeyRequestObject         Key = "request_object"
	KeyClientAuthentication  Key = "client_authentication"
	KeyGrantType             Key = "grant_type"
	KeyIDTokenHint           Key = "id_token_hint"
	KeyPostLogoutRedirectURI Key = "post_logout_redirect_uri"
)
