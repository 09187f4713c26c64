// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oautherr

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ory/fosite"
)

// Values returns the error parameters as defined by RFC 6749 Section 4.1.2.1.
func (e *Error) Values() url.Values {
	v := url.Values{}
	v.Set("error", e.Code())
	if d := e.Description(); d != "" {
		v.Set("error_description", d)
	}
	if e.state != "" {
		v.Set("state", e.state)
	}
	return v
}

// RedirectLocation builds the redirect URL carrying the error. Parameters go in
// the fragment when fragment encoding is set, otherwise they are merged into
// the redirect URI query string.
func (e *Error) RedirectLocation() (string, error) {
	if !e.Redirectable() {
		return "", fmt.Errorf("error %q has no redirect target", e.Code())
	}

	u, err := url.Parse(e.redirectURI)
	if err != nil {
		return "", fmt.Errorf("invalid redirect target: %w", err)
	}

	if e.fragment {
		u.Fragment = ""
		u.RawFragment = ""
		return u.String() + "#" + e.Values().Encode(), nil
	}

	q := u.Query()
	for k, vs := range e.Values() {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type jsonError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Write renders err to the client. Redirectable errors become a 302 to the
// client redirect URI; everything else is a JSON body using the fosite status
// code for the error kind.
func Write(w http.ResponseWriter, r *http.Request, err *Error) {
	if err.Redirectable() {
		location, locErr := err.RedirectLocation()
		if locErr == nil {
			http.Redirect(w, r, location, http.StatusFound)
			return
		}
		slog.Warn("falling back to JSON error response", "error", locErr)
	}

	writeJSON(w, err.StatusCode(), jsonError{
		Error:            err.Code(),
		ErrorDescription: err.Description(),
	}, err.Code() == fosite.ErrInvalidClient.ErrorField)
}

// WriteServerError renders an opaque server_error. Internal details, including
// rule ordering faults, are never exposed to the client.
func WriteServerError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, jsonError{
		Error:            fosite.ErrServerError.ErrorField,
		ErrorDescription: fosite.ErrServerError.DescriptionField,
	}, false)
}

func writeJSON(w http.ResponseWriter, status int, body jsonError, challenge bool) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if challenge && status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="oidc"`)
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
