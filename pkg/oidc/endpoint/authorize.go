// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/authn"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/rules"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// AuthorizeHandler validates an authorization request. Without a session the
// user agent is sent to login and the request is replayed afterwards.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	rt, _ := h.resolver.String(params.ResponseType, r, authorizeMethods)
	fragment := rules.ParseResponseType(rt).UsesFragment()

	eval, err := h.authorize.Execute(r.Context(), r, rules.RunOptions{
		AllowedMethods:      authorizeMethods,
		UseFragmentEncoding: fragment,
		Data:                h.cfg.Data,
		Logger:              h.log,
	})
	if err != nil {
		h.fail(w, r, h.log, err)
		return
	}
	log := h.log.With("run_id", eval.RunID)
	if eval.Suspended() {
		h.suspend(w, r, log, eval.Suspension)
		return
	}

	client, err := rules.Value[*storage.Client](eval.Bag, rules.KeyClient)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}

	session, err := h.cfg.Authenticator.Session(r.Context(), r, client)
	if err != nil {
		h.fail(w, r, log, fmt.Errorf("failed to read session: %w", err))
		return
	}
	if session == nil {
		replay := rules.ReplayParams(h.resolver.All(r, authorizeMethods))
		location, err := h.cfg.Authenticator.Reauthenticate(r.Context(), r, client, replay)
		if err != nil {
			h.fail(w, r, log, fmt.Errorf("failed to start authentication: %w", err))
			return
		}
		h.suspend(w, r, log, &rules.Suspension{Location: location, Reason: "login"})
		return
	}

	acr, err := h.selectACR(log, eval.Bag, client, session, fragment)
	if err != nil {
		h.fail(w, r, log, err)
		return
	}

	log.Debug("authorization request validated", "client_id", client.ID, "subject", session.Subject)
	h.cfg.Responder.Authorize(w, r.WithContext(authn.WithSession(r.Context(), session)), &Authorization{
		RunID:   eval.RunID,
		Bag:     eval.Bag,
		Session: session,
		ACR:     acr,
	})
}

// selectACR applies the ACR policy to the requested values. Without a policy
// the session's own ACR is asserted.
func (h *Handler) selectACR(
	log *slog.Logger, bag *rules.ResultBag, client *storage.Client, session *authn.Session, fragment bool,
) (string, error) {
	if len(h.cfg.ACRPolicy) == 0 {
		return session.ACR, nil
	}
	source := session.AuthSource
	if source == "" {
		source = client.AuthSource
	}
	requested, _ := rules.Lookup[*rules.ACRValues](bag, rules.KeyACRValues)

	acr, err := h.cfg.ACRPolicy.SelectACR(log, source, requested)
	if errors.Is(err, rules.ErrACRUnsatisfiable) {
		return "", oautherr.AccessDenied(
			"The requested authentication context cannot be satisfied.",
			rules.RedirectOptions(bag, fragment)...,
		).Attribute(string(rules.KeyACRValues))
	}
	return acr, err
}
