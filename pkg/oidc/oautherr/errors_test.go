// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oautherr

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorVocabulary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    *Error
		code   string
		status int
		kind   *fosite.RFC6749Error
	}{
		{"invalid request", InvalidRequest("client_id", ""), "invalid_request", http.StatusBadRequest, fosite.ErrInvalidRequest},
		{"invalid client", InvalidClient("unknown client"), "invalid_client", http.StatusUnauthorized, fosite.ErrInvalidClient},
		{"invalid scope", InvalidScope("unknown_scope"), "invalid_scope", http.StatusBadRequest, fosite.ErrInvalidScope},
		{"login required", LoginRequired(), "login_required", http.StatusBadRequest, fosite.ErrLoginRequired},
		{"invalid request object", InvalidRequestObject("bad signature"), "invalid_request_object", http.StatusBadRequest, fosite.ErrInvalidRequestObject},
		{"unsupported response type", UnsupportedResponseType("token"), "unsupported_response_type", http.StatusBadRequest, fosite.ErrUnsupportedResponseType},
		{"unsupported grant type", UnsupportedGrantType("password"), "unsupported_grant_type", http.StatusBadRequest, fosite.ErrUnsupportedGrantType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.code, tt.err.Code())
			assert.Equal(t, tt.status, tt.err.StatusCode())
			assert.ErrorIs(t, tt.err, tt.kind)
		})
	}
}

func TestInvalidRequestNamesParameter(t *testing.T) {
	t.Parallel()

	err := InvalidRequest("client_id", "")
	assert.Contains(t, err.Description(), "`client_id`")

	err = InvalidRequest("max_age", "must be a non-negative integer")
	assert.Contains(t, err.Hint(), "`max_age`")
	assert.Contains(t, err.Hint(), "non-negative integer")
}

func TestInvalidScopeNamesScope(t *testing.T) {
	t.Parallel()

	err := InvalidScope("unknown_scope", WithRedirect("https://rp/cb", "xyz"))
	assert.Contains(t, err.Description(), "unknown_scope")
	assert.Equal(t, "https://rp/cb", err.RedirectURI())
	assert.Equal(t, "xyz", err.State())
}

func TestWithCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("redis down")
	err := InvalidClient("lookup failed", WithCause(cause), WithRule("client"))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Cause())
	assert.Equal(t, "client", err.Rule())
	assert.NotContains(t, err.Description(), "redis down")
}

func TestAs(t *testing.T) {
	t.Parallel()

	wrapped := errors.Join(errors.New("context"), LoginRequired())
	pe, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "login_required", pe.Code())

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}

func TestRedirectLocation(t *testing.T) {
	t.Parallel()

	t.Run("query encoding keeps existing parameters", func(t *testing.T) {
		t.Parallel()
		err := InvalidScope("unknown_scope", WithRedirect("https://rp/cb?tenant=a", "s1"))

		location, locErr := err.RedirectLocation()
		require.NoError(t, locErr)

		u, parseErr := url.Parse(location)
		require.NoError(t, parseErr)
		assert.Equal(t, "a", u.Query().Get("tenant"))
		assert.Equal(t, "invalid_scope", u.Query().Get("error"))
		assert.Equal(t, "s1", u.Query().Get("state"))
		assert.Empty(t, u.Fragment)
	})

	t.Run("fragment encoding", func(t *testing.T) {
		t.Parallel()
		err := LoginRequired(WithRedirect("https://rp/cb", "s2"), WithFragment(true))

		location, locErr := err.RedirectLocation()
		require.NoError(t, locErr)

		u, parseErr := url.Parse(location)
		require.NoError(t, parseErr)
		assert.Empty(t, u.RawQuery)
		fragment, fragErr := url.ParseQuery(u.Fragment)
		require.NoError(t, fragErr)
		assert.Equal(t, "login_required", fragment.Get("error"))
		assert.Equal(t, "s2", fragment.Get("state"))
	})

	t.Run("no state omitted", func(t *testing.T) {
		t.Parallel()
		err := InvalidRequest("scope", "", WithRedirect("https://rp/cb", ""))
		location, locErr := err.RedirectLocation()
		require.NoError(t, locErr)
		assert.NotContains(t, location, "state=")
	})

	t.Run("not redirectable", func(t *testing.T) {
		t.Parallel()
		_, locErr := InvalidClient("nope").RedirectLocation()
		assert.Error(t, locErr)
	})
}

func TestWrite(t *testing.T) {
	t.Parallel()

	t.Run("redirect", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/authorize", nil)

		Write(rec, req, InvalidScope("unknown_scope", WithRedirect("https://rp/cb", "st")))

		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "error=invalid_scope")
		assert.Contains(t, rec.Header().Get("Location"), "state=st")
	})

	t.Run("json body", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/token", nil)

		Write(rec, req, InvalidClient("unknown client"))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "invalid_client", body["error"])
		assert.Contains(t, body["error_description"], "unknown client")
	})

	t.Run("server error hides details", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()

		WriteServerError(rec)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "server_error", body["error"])
	})
}
