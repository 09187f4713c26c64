// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
)

// Rule validates or extracts one aspect of a protocol request.
//
// Rules are constructed once and shared across requests; all per-request
// state lives in the Run. A rule returns either an Outcome or an error. A
// *oautherr.Error is reported to the client, a *DependencyError signals a
// wiring defect, and any other error is an internal fault.
type Rule interface {
	// Key identifies the rule and the result it produces.
	Key() Key

	// DependsOn lists the rules whose results this rule reads. They must be
	// part of every plan that includes this rule and always run first.
	DependsOn() []Key

	// Check evaluates the rule for the current run.
	Check(ctx context.Context, run *Run) (Outcome, error)
}

type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeSkip
	outcomeSuspend
)

// Outcome is the non-error result of a rule check.
type Outcome struct {
	kind       outcomeKind
	value      any
	suspension *Suspension
}

// Continue registers value, possibly nil, under the rule's key.
func Continue(value any) Outcome {
	return Outcome{kind: outcomeContinue, value: value}
}

// Skip registers nothing. Dependents observe the key as absent.
func Skip() Outcome {
	return Outcome{kind: outcomeSkip}
}

// Suspend stops the run without error: the user agent must be sent to
// s.Location and the request resumes afterwards.
func Suspend(s *Suspension) Outcome {
	return Outcome{kind: outcomeSuspend, suspension: s}
}

// Suspension describes a redirect that interrupts validation, such as a
// forced re-authentication.
type Suspension struct {
	// Location is where the user agent must be redirected.
	Location string
	// Reason is a short machine-readable cause, e.g. "prompt_login".
	Reason string
	// Rule is the rule that suspended the run.
	Rule Key
}

// Data holds free-form per-run configuration.
type Data map[string]any

// Well-known Data keys.
const (
	DataDefaultScope   = "default_scope"
	DataScopeDelimiter = "scope_delimiter"
)

// String returns the string stored under key or def.
func (d Data) String(key, def string) string {
	if v, ok := d[key].(string); ok && v != "" {
		return v
	}
	return def
}

// RunOptions configures one execution of a plan.
type RunOptions struct {
	// AllowedMethods lists the HTTP methods parameters may be read from, in
	// precedence order.
	AllowedMethods []string

	// UseFragmentEncoding places redirected error parameters in the fragment.
	UseFragmentEncoding bool

	// Data carries free-form configuration such as DataDefaultScope.
	Data Data

	// Logger overrides the manager's logger for this run.
	Logger *slog.Logger
}

// Run is the per-request context handed to every rule.
type Run struct {
	// ID correlates the log lines of one run.
	ID string

	Request *http.Request
	Bag     *ResultBag
	Logger  *slog.Logger
	Data    Data

	UseFragmentEncoding bool
	AllowedMethods      []string

	resolver *params.Resolver
}

// Param returns the named request parameter from the allowed methods. Once a
// request object is in the bag its claims take precedence.
func (r *Run) Param(name string) (string, bool) {
	if ro, ok := Lookup[*RequestObject](r.Bag, KeyRequestObject); ok {
		if v, ok := ro.Param(name); ok {
			return v, true
		}
	}
	return r.resolver.String(name, r.Request, r.AllowedMethods)
}

// Params returns all request parameters from the allowed methods, overlaid
// with the request object claims.
func (r *Run) Params() url.Values {
	v := r.resolver.All(r.Request, r.AllowedMethods)
	if ro, ok := Lookup[*RequestObject](r.Bag, KeyRequestObject); ok {
		for name := range ro.Claims {
			if s, ok := ro.Param(name); ok {
				v.Set(name, s)
			}
		}
	}
	return v
}

// RedirectOptions returns the options that make a protocol error redirect to
// the already validated redirect URI with the request state. Before the
// redirect URI is known it returns nil, so the error is rendered directly.
func (r *Run) RedirectOptions() []oautherr.Option {
	return RedirectOptions(r.Bag, r.UseFragmentEncoding)
}

// RedirectOptions is Run.RedirectOptions for a completed bag.
func RedirectOptions(bag *ResultBag, fragment bool) []oautherr.Option {
	uri, ok := Lookup[string](bag, KeyRedirectURI)
	if !ok {
		return nil
	}
	state, _ := Lookup[string](bag, KeyState)
	return []oautherr.Option{
		oautherr.WithRedirect(uri, state),
		oautherr.WithFragment(fragment),
	}
}

// base is embedded by rules to implement Key and DependsOn.
type base struct {
	key  Key
	deps []Key
}

func (b base) Key() Key { return b.key }

func (b base) DependsOn() []Key { return b.deps }
