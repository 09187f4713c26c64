// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oautherr defines the client-facing OAuth 2.0 / OpenID Connect protocol
// errors produced while validating requests, and how they are transported back
// to the client: either as a JSON body or as a redirect carrying error
// parameters in the query string or the URI fragment.
//
// The error vocabulary is ory/fosite's RFC6749Error catalogue, so codes,
// descriptions and HTTP status codes stay aligned with the rest of the
// authorization server.
package oautherr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ory/fosite"
)

// ErrInvalidRequestObjectReplay is returned when a signed request object
// identifier (jti) has already been used.
var ErrInvalidRequestObjectReplay = &fosite.RFC6749Error{
	ErrorField:       "invalid_request_object",
	DescriptionField: "The request parameter contains an invalid Request Object.",
	HintField:        "The Request Object identifier has already been used.",
	CodeField:        http.StatusBadRequest,
}

// Error is a protocol error. It is a pure value: building one never performs
// any I/O; the endpoint decides how to transport it.
type Error struct {
	base        *fosite.RFC6749Error
	redirectURI string
	state       string
	fragment    bool
	ruleKey     string
}

// Option customises an Error.
type Option func(*Error)

// WithRedirect makes the error redirectable to uri, echoing state when set.
func WithRedirect(uri, state string) Option {
	return func(e *Error) {
		e.redirectURI = uri
		e.state = state
	}
}

// WithFragment selects fragment encoding of the redirect parameters.
func WithFragment(fragment bool) Option {
	return func(e *Error) {
		e.fragment = fragment
	}
}

// WithCause attaches an underlying error for logging. It is never rendered.
func WithCause(cause error) Option {
	return func(e *Error) {
		if cause != nil {
			e.base = e.base.WithWrap(cause)
		}
	}
}

// WithRule labels the error with the rule that produced it.
func WithRule(key string) Option {
	return func(e *Error) {
		e.ruleKey = key
	}
}

// New builds an Error of the given fosite kind.
func New(kind *fosite.RFC6749Error, opts ...Option) *Error {
	e := &Error{base: kind}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InvalidRequest reports a missing or malformed parameter.
func InvalidRequest(param, hint string, opts ...Option) *Error {
	if hint == "" {
		hint = fmt.Sprintf("Check the `%s` parameter.", param)
	} else {
		hint = fmt.Sprintf("Check the `%s` parameter: %s", param, hint)
	}
	return New(fosite.ErrInvalidRequest.WithHint(hint), opts...)
}

// InvalidClient reports failed client identification or authentication.
func InvalidClient(hint string, opts ...Option) *Error {
	return New(fosite.ErrInvalidClient.WithHint(hint), opts...)
}

// InvalidScope names the first scope that could not be resolved.
func InvalidScope(scope string, opts ...Option) *Error {
	return New(fosite.ErrInvalidScope.WithHintf("The scope `%s` is not supported.", scope), opts...)
}

// LoginRequired reports that prompt=none was requested without a session.
func LoginRequired(opts ...Option) *Error {
	return New(fosite.ErrLoginRequired, opts...)
}

// InvalidRequestObject reports a request object that failed validation.
func InvalidRequestObject(hint string, opts ...Option) *Error {
	return New(fosite.ErrInvalidRequestObject.WithHint(hint), opts...)
}

// UnsupportedResponseType reports a response_type the server does not serve.
func UnsupportedResponseType(responseType string, opts ...Option) *Error {
	return New(fosite.ErrUnsupportedResponseType.WithHintf("The response type `%s` is not supported.", responseType), opts...)
}

// UnauthorizedClient reports a client not allowed to use the requested flow.
func UnauthorizedClient(hint string, opts ...Option) *Error {
	return New(fosite.ErrUnauthorizedClient.WithHint(hint), opts...)
}

// UnsupportedGrantType reports a grant_type the server does not serve.
func UnsupportedGrantType(grantType string, opts ...Option) *Error {
	return New(fosite.ErrUnsupportedGrantType.WithHintf("The grant type `%s` is not supported.", grantType), opts...)
}

// AccessDenied reports that the end user or the provider policy refused the
// request.
func AccessDenied(hint string, opts ...Option) *Error {
	return New(fosite.ErrAccessDenied.WithHint(hint), opts...)
}

// Attribute returns e labelled with key unless it already names a rule.
func (e *Error) Attribute(key string) *Error {
	if e.ruleKey != "" || key == "" {
		return e
	}
	c := *e
	c.ruleKey = key
	return &c
}

// Error implements error.
func (e *Error) Error() string {
	return e.Code() + ": " + e.Description()
}

// Unwrap exposes the fosite error so errors.Is(err, fosite.ErrInvalidScope) holds.
func (e *Error) Unwrap() error {
	return e.base
}

// Code is the machine-readable error code, e.g. "invalid_request".
func (e *Error) Code() string {
	return e.base.ErrorField
}

// Description is the human readable description including the hint.
func (e *Error) Description() string {
	parts := make([]string, 0, 2)
	if e.base.DescriptionField != "" {
		parts = append(parts, e.base.DescriptionField)
	}
	if e.base.HintField != "" {
		parts = append(parts, e.base.HintField)
	}
	return strings.Join(parts, " ")
}

// Hint returns only the hint portion of the description.
func (e *Error) Hint() string {
	return e.base.HintField
}

// StatusCode is the HTTP status used when the error is rendered as JSON.
func (e *Error) StatusCode() int {
	if e.base.CodeField == 0 {
		return http.StatusBadRequest
	}
	return e.base.CodeField
}

// RedirectURI is the redirect target, empty when the error is not redirectable.
func (e *Error) RedirectURI() string {
	return e.redirectURI
}

// State is the client state echoed back with the error.
func (e *Error) State() string {
	return e.state
}

// UseFragment reports whether redirect parameters go in the fragment.
func (e *Error) UseFragment() bool {
	return e.fragment
}

// Rule is the key of the rule that raised the error, if known.
func (e *Error) Rule() string {
	return e.ruleKey
}

// Cause returns the wrapped cause, if any.
func (e *Error) Cause() error {
	return errors.Unwrap(e.base)
}

// Redirectable reports whether the error carries a redirect target.
func (e *Error) Redirectable() bool {
	return e.redirectURI != ""
}

// As reports whether err is or wraps a protocol error and returns it.
func As(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
