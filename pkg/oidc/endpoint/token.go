// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"net/http"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/rules"
)

// TokenHandler validates a token request. Errors are always JSON.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	eval, err := h.token.Execute(r.Context(), r, rules.RunOptions{
		AllowedMethods: tokenMethods,
		Data:           h.cfg.Data,
		Logger:         h.log,
	})
	if err != nil {
		h.fail(w, r, h.log, err)
		return
	}
	log := h.log.With("run_id", eval.RunID)
	if eval.Suspended() {
		// token rules do not suspend
		log.Error("token request suspended", "rule", string(eval.Suspension.Rule))
		h.fail(w, r, log, errSuspendedTokenRequest)
		return
	}
	h.cfg.Responder.Token(w, r, eval)
}

// LogoutHandler validates an RP-initiated logout request.
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	eval, err := h.logout.Execute(r.Context(), r, rules.RunOptions{
		AllowedMethods: logoutMethods,
		Data:           h.cfg.Data,
		Logger:         h.log,
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
	h.cfg.Responder.Logout(w, r, eval)
}
