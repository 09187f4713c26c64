// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authn

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// Default headers set by the authenticating proxy.
const (
	DefaultUserHeader       = "X-Forwarded-User"
	DefaultAuthTimeHeader   = "X-Forwarded-Auth-Time"
	DefaultAuthSourceHeader = "X-Forwarded-Auth-Source"
	DefaultACRHeader        = "X-Forwarded-Acr"
)

// ReturnToParam carries the URL to resume at after login.
const ReturnToParam = "return_to"

// ForwardAuthConfig configures ForwardAuth.
type ForwardAuthConfig struct {
	// LoginURL is where users are sent to (re)authenticate.
	LoginURL string

	// ResumeURL is the absolute authorization endpoint URL that replayed
	// parameters are appended to.
	ResumeURL string

	UserHeader       string
	AuthTimeHeader   string
	AuthSourceHeader string
	ACRHeader        string
}

// ForwardAuth trusts identity headers injected by a reverse proxy.
// Only deploy it where clients cannot reach the provider directly.
type ForwardAuth struct {
	loginURL  *url.URL
	resumeURL *url.URL
	cfg       ForwardAuthConfig
}

var _ Authenticator = (*ForwardAuth)(nil)

// NewForwardAuth validates cfg and applies header defaults.
func NewForwardAuth(cfg ForwardAuthConfig) (*ForwardAuth, error) {
	if cfg.LoginURL == "" {
		return nil, errors.New("login URL is required")
	}
	if cfg.ResumeURL == "" {
		return nil, errors.New("resume URL is required")
	}
	loginURL, err := url.Parse(cfg.LoginURL)
	if err != nil {
		return nil, err
	}
	resumeURL, err := url.Parse(cfg.ResumeURL)
	if err != nil {
		return nil, err
	}
	if !resumeURL.IsAbs() {
		return nil, errors.New("resume URL must be absolute")
	}

	if cfg.UserHeader == "" {
		cfg.UserHeader = DefaultUserHeader
	}
	if cfg.AuthTimeHeader == "" {
		cfg.AuthTimeHeader = DefaultAuthTimeHeader
	}
	if cfg.AuthSourceHeader == "" {
		cfg.AuthSourceHeader = DefaultAuthSourceHeader
	}
	if cfg.ACRHeader == "" {
		cfg.ACRHeader = DefaultACRHeader
	}

	return &ForwardAuth{loginURL: loginURL, resumeURL: resumeURL, cfg: cfg}, nil
}

// Middleware reads the identity headers and stores the resulting Session in
// the request context.
func (f *ForwardAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session := f.fromHeaders(r); session != nil {
			r = r.WithContext(WithSession(r.Context(), session))
		}
		next.ServeHTTP(w, r)
	})
}

func (f *ForwardAuth) fromHeaders(r *http.Request) *Session {
	subject := r.Header.Get(f.cfg.UserHeader)
	if subject == "" {
		return nil
	}
	session := &Session{
		Subject:    subject,
		AuthSource: r.Header.Get(f.cfg.AuthSourceHeader),
		ACR:        r.Header.Get(f.cfg.ACRHeader),
	}
	if raw := r.Header.Get(f.cfg.AuthTimeHeader); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			logger.Warnw("ignoring malformed auth time header", "header", f.cfg.AuthTimeHeader, "error", err)
		} else {
			session.AuthTime = time.Unix(secs, 0)
		}
	}
	return session
}

// Session returns the session from the request context, falling back to the
// request headers when the middleware was not installed.
func (f *ForwardAuth) Session(ctx context.Context, r *http.Request, _ *storage.Client) (*Session, error) {
	if session, ok := SessionFromContext(ctx); ok {
		return session, nil
	}
	return f.fromHeaders(r), nil
}

// Reauthenticate builds the login redirect. The resume URL carries replay so
// the authorization request restarts once the user has logged in again.
func (f *ForwardAuth) Reauthenticate(
	_ context.Context, _ *http.Request, client *storage.Client, replay url.Values,
) (string, error) {
	resume := *f.resumeURL
	resume.RawQuery = replay.Encode()

	login := *f.loginURL
	q := login.Query()
	q.Set(ReturnToParam, resume.String())
	if client != nil && client.AuthSource != "" {
		q.Set("auth_source", client.AuthSource)
	}
	login.RawQuery = q.Encode()

	logger.Debugw("starting re-authentication", "login_url", f.loginURL.String())
	return login.String(), nil
}
