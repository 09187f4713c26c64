// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package params resolves OAuth 2.0 / OIDC request parameters from an HTTP
// request according to the HTTP methods an endpoint accepts.
//
// The query string is the GET source and the form body is the POST source.
// Sources are consulted in the order of the allowed methods, so the first
// allowed method carrying a non-empty value wins. A request whose own method is
// not allowed yields no parameters at all.
package params

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
)

// Common parameter names.
const (
	ClientID            = "client_id"
	ClientSecret        = "client_secret"
	ClientAssertion     = "client_assertion"
	ClientAssertionType = "client_assertion_type"
	RedirectURI         = "redirect_uri"
	ResponseType        = "response_type"
	ResponseMode        = "response_mode"
	Scope               = "scope"
	State               = "state"
	Nonce               = "nonce"
	Prompt              = "prompt"
	MaxAge              = "max_age"
	ACRValues           = "acr_values"
	Claims              = "claims"
	UILocales           = "ui_locales"
	ClaimsLocales       = "claims_locales"
	Request             = "request"
	CodeChallenge       = "code_challenge"
	CodeChallengeMethod = "code_challenge_method"
	CodeVerifier        = "code_verifier"
	GrantType           = "grant_type"
	IDTokenHint         = "id_token_hint"
	PostLogoutRedirect  = "post_logout_redirect_uri"
)

// Resolver reads parameters from requests. It holds no per-request state and
// is safe for concurrent use.
type Resolver struct {
	maxMemory int64
}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{maxMemory: 1 << 20}
}

// All returns every parameter visible for the allowed methods. Where a name is
// present in more than one source the first allowed method wins.
func (p *Resolver) All(r *http.Request, allowed []string) url.Values {
	out := url.Values{}
	if !slices.Contains(allowed, r.Method) {
		return out
	}

	// iterate in reverse so earlier methods overwrite later ones
	for i := len(allowed) - 1; i >= 0; i-- {
		for name, values := range p.source(r, allowed[i]) {
			if len(values) > 0 {
				out[name] = slices.Clone(values)
			}
		}
	}
	return out
}

// String returns the first non-empty value of name across the allowed methods.
func (p *Resolver) String(name string, r *http.Request, allowed []string) (string, bool) {
	if !slices.Contains(allowed, r.Method) {
		return "", false
	}
	for _, method := range allowed {
		if v := p.source(r, method).Get(name); v != "" {
			return v, true
		}
	}
	return "", false
}

func (p *Resolver) source(r *http.Request, method string) url.Values {
	switch method {
	case http.MethodGet:
		return r.URL.Query()
	case http.MethodPost:
		if r.Method != http.MethodPost {
			return nil
		}
		if r.PostForm == nil {
			if err := r.ParseMultipartForm(p.maxMemory); err != nil && err != http.ErrNotMultipart {
				slog.Debug("failed to parse request body", "error", err)
			}
		}
		return r.PostForm
	default:
		return nil
	}
}
