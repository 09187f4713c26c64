// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"slices"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// RedirectURIRule checks redirect_uri against the client registration. Its
// result is the URI string. Errors are never redirected since the URI is not
// trusted yet.
type RedirectURIRule struct {
	base
}

// NewRedirectURIRule creates a RedirectURIRule.
func NewRedirectURIRule() *RedirectURIRule {
	return &RedirectURIRule{base: base{key: KeyRedirectURI, deps: []Key{KeyClient}}}
}

// Check implements Rule.
func (*RedirectURIRule) Check(_ context.Context, run *Run) (Outcome, error) {
	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}

	uri, ok := run.Param(params.RedirectURI)
	if !ok {
		return Outcome{}, oautherr.InvalidRequest(params.RedirectURI, "")
	}

	if !redirectURIRegistered(client.GetRedirectURIs(), uri) {
		run.Logger.Debug("redirect URI not registered", "client_id", client.ID, "redirect_uri", uri)
		return Outcome{}, oautherr.InvalidRequest(params.RedirectURI, "The redirect URI is not registered for the client.")
	}
	return Continue(uri), nil
}

// redirectURIRegistered compares exactly: a single registered URI must equal
// uri, otherwise uri must be a member of the registered set.
func redirectURIRegistered(registered []string, uri string) bool {
	if len(registered) == 1 {
		return registered[0] == uri
	}
	return slices.Contains(registered, uri)
}
