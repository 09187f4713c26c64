// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authn defines how the validation rules observe and restart end-user
// authentication, and provides a header-based reference implementation for
// deployments behind an authenticating reverse proxy.
package authn

//go:generate mockgen -destination=mocks/mock_authn.go -package=mocks -source=authn.go Authenticator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// Session describes the currently authenticated end user.
type Session struct {
	// Subject is the stable user identifier.
	Subject string

	// AuthTime is when the user last actively authenticated.
	AuthTime time.Time

	// AuthSource names the authentication source that authenticated the user.
	AuthSource string

	// ACR is the authentication context class that was satisfied.
	ACR string
}

// String returns a representation safe for logging.
func (s *Session) String() string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Session{Subject:%q}", s.Subject)
}

// Elapsed reports whether more than maxAge has passed since AuthTime.
func (s *Session) Elapsed(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.AuthTime) > maxAge
}

// Authenticator is the boundary to session management.
type Authenticator interface {
	// Session returns the current session, or nil when the user agent is not
	// authenticated.
	Session(ctx context.Context, r *http.Request, client *storage.Client) (*Session, error)

	// Reauthenticate starts a fresh login for client. replay holds the
	// authorization parameters to resubmit after login. The returned location
	// is where the user agent must be redirected.
	Reauthenticate(ctx context.Context, r *http.Request, client *storage.Client, replay url.Values) (string, error)
}

// SessionContextKey is the key used to store a Session in the request context.
type SessionContextKey struct{}

// WithSession stores session in ctx. A nil session leaves ctx unchanged.
func WithSession(ctx context.Context, session *Session) context.Context {
	if session == nil {
		return ctx
	}
	return context.WithValue(ctx, SessionContextKey{}, session)
}

// SessionFromContext retrieves the Session stored by WithSession.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(SessionContextKey{}).(*Session)
	return session, ok
}
