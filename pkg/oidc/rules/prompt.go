// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/authn"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// prompt values defined by OpenID Connect Core 3.1.2.1.
const (
	PromptNone          = "none"
	PromptLogin         = "login"
	PromptConsent       = "consent"
	PromptSelectAccount = "select_account"
)

var knownPrompts = []string{PromptNone, PromptLogin, PromptConsent, PromptSelectAccount}

// Suspension reasons.
const (
	ReasonPromptLogin = "prompt_login"
	ReasonMaxAge      = "max_age"
)

// PromptRule evaluates prompt. prompt=none without a session fails with
// login_required; prompt=login with a session suspends the run and restarts
// authentication. Its result is the list of prompt values.
type PromptRule struct {
	base
	authenticator authn.Authenticator
}

// NewPromptRule creates a PromptRule.
func NewPromptRule(authenticator authn.Authenticator) *PromptRule {
	return &PromptRule{
		base:          base{key: KeyPrompt, deps: []Key{KeyClient, KeyRedirectURI, KeyState}},
		authenticator: authenticator,
	}
}

// Check implements Rule.
func (p *PromptRule) Check(ctx context.Context, run *Run) (Outcome, error) {
	raw, ok := run.Param(params.Prompt)
	if !ok {
		return Continue(nil), nil
	}
	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}

	values := strings.Fields(raw)
	for _, v := range values {
		if !slices.Contains(knownPrompts, v) {
			return Outcome{}, oautherr.InvalidRequest(params.Prompt, fmt.Sprintf("Unknown prompt value `%s`.", v), run.RedirectOptions()...)
		}
	}
	if slices.Contains(values, PromptNone) && len(values) > 1 {
		return Outcome{}, oautherr.InvalidRequest(params.Prompt, "`none` must not be combined with other values.", run.RedirectOptions()...)
	}

	session, err := p.authenticator.Session(ctx, run.Request, client)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read session: %w", err)
	}

	switch {
	case slices.Contains(values, PromptNone) && session == nil:
		run.Logger.Debug("prompt=none without session")
		return Outcome{}, oautherr.LoginRequired(run.RedirectOptions()...)
	case slices.Contains(values, PromptLogin) && session != nil:
		run.Logger.Debug("prompt=login with existing session, re-authenticating", "subject", session.Subject)
		return reauthenticate(ctx, run, p.authenticator, client, ReasonPromptLogin)
	}
	return Continue(values), nil
}

// reauthenticate suspends the run with a redirect into a fresh login.
func reauthenticate(
	ctx context.Context, run *Run, authenticator authn.Authenticator, client *storage.Client, reason string,
) (Outcome, error) {
	replay := ReplayParams(run.Params())
	location, err := authenticator.Reauthenticate(ctx, run.Request, client, replay)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to start re-authentication: %w", err)
	}
	return Suspend(&Suspension{Location: location, Reason: reason}), nil
}

// ReplayParams returns the authorization parameters to resubmit after a
// login, without prompt and max_age so the resumed request does not trigger
// another one.
func ReplayParams(v url.Values) url.Values {
	replay := url.Values{}
	for k, vs := range v {
		if k == params.Prompt || k == params.MaxAge {
			continue
		}
		replay[k] = slices.Clone(vs)
	}
	return replay
}

// MaxAge is the result of MaxAgeRule.
type MaxAge struct {
	// Value is the requested maximum authentication age.
	Value time.Duration
	// AuthTime is the session's authentication instant, zero without a session.
	AuthTime time.Time
}

// MaxAgeRule evaluates max_age. When the session is older than requested the
// run is suspended and authentication restarts.
type MaxAgeRule struct {
	base
	authenticator authn.Authenticator
	now           func() time.Time
}

// NewMaxAgeRule creates a MaxAgeRule.
func NewMaxAgeRule(authenticator authn.Authenticator) *MaxAgeRule {
	return &MaxAgeRule{
		base:          base{key: KeyMaxAge, deps: []Key{KeyClient, KeyRedirectURI, KeyState}},
		authenticator: authenticator,
		now:           time.Now,
	}
}

// Check implements Rule.
func (m *MaxAgeRule) Check(ctx context.Context, run *Run) (Outcome, error) {
	raw, ok := run.Param(params.MaxAge)
	if !ok {
		return Continue(nil), nil
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return Outcome{}, oautherr.InvalidRequest(params.MaxAge, "The value must be a non-negative integer.", run.RedirectOptions()...)
	}
	maxAge := time.Duration(seconds) * time.Second

	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}
	session, err := m.authenticator.Session(ctx, run.Request, client)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to read session: %w", err)
	}
	if session == nil {
		return Continue(&MaxAge{Value: maxAge}), nil
	}
	if session.Elapsed(m.now(), maxAge) {
		run.Logger.Debug("max_age elapsed, re-authenticating", "subject", session.Subject, "auth_time", session.AuthTime)
		return reauthenticate(ctx, run, m.authenticator, client, ReasonMaxAge)
	}
	return Continue(&MaxAge{Value: maxAge, AuthTime: session.AuthTime}), nil
}
