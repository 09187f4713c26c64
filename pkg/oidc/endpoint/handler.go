// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package endpoint

//go:generate mockgen -destination=mocks/mock_responder.go -package=mocks -source=handler.go Responder

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/authn"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/rules"
)

// Rule lists per endpoint, in fail-fast order. Rules that can only fail
// without a redirect target come first. The request object is verified
// before any rule reads a parameter it may carry.
var (
	AuthorizeRules = []rules.Key{
		rules.KeyClient,
		rules.KeyRequestObject,
		rules.KeyRedirectURI,
		rules.KeyState,
		rules.KeyResponseType,
		rules.KeyScope,
		rules.KeyRequiredOpenIDScope,
		rules.KeyCodeChallenge,
		rules.KeyCodeChallengeMethod,
		rules.KeyNonce,
		rules.KeyRequiredNonce,
		rules.KeyPrompt,
		rules.KeyMaxAge,
		rules.KeyRequestedClaims,
		rules.KeyACRValues,
		rules.KeyUILocales,
		rules.KeyClaimsLocales,
		rules.KeyOfflineAccess,
		rules.KeyAddClaimsToIDToken,
	}

	TokenRules = []rules.Key{
		rules.KeyClient,
		rules.KeyClientAuthentication,
		rules.KeyGrantType,
		rules.KeyCodeVerifier,
	}

	LogoutRules = []rules.Key{
		rules.KeyIDTokenHint,
		rules.KeyState,
		rules.KeyPostLogoutRedirectURI,
	}
)

var (
	authorizeMethods = []string{http.MethodGet, http.MethodPost}
	tokenMethods     = []string{http.MethodPost}
	logoutMethods    = []string{http.MethodGet, http.MethodPost}
)

// Authorization is a validated authorization request with the authenticated
// end user.
type Authorization struct {
	RunID   string
	Bag     *rules.ResultBag
	Session *authn.Session
	// ACR is the authentication context class to assert, possibly empty.
	ACR string
}

// Responder completes flows whose requests passed validation.
type Responder interface {
	Authorize(w http.ResponseWriter, r *http.Request, authz *Authorization)
	Token(w http.ResponseWriter, r *http.Request, eval *rules.Evaluation)
	Logout(w http.ResponseWriter, r *http.Request, eval *rules.Evaluation)
}

// Config holds the Handler dependencies.
type Config struct {
	Manager       *rules.Manager
	Authenticator authn.Authenticator
	Responder     Responder

	// ACRPolicy selects the asserted ACR per authentication source.
	ACRPolicy rules.ACRPolicy

	// Data is passed to every run, e.g. the default scope.
	Data rules.Data

	// Discovery, when set, is served at /.well-known/openid-configuration.
	Discovery *Metadata

	Logger *slog.Logger
}

// Handler serves the authorization, token and logout endpoints.
type Handler struct {
	cfg      Config
	log      *slog.Logger
	resolver *params.Resolver

	authorize *rules.Plan
	token     *rules.Plan
	logout    *rules.Plan
}

// NewHandler builds the per-endpoint plans. Every rule they name must be
// registered with the manager.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Manager == nil {
		return nil, errors.New("rule manager is required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("authenticator is required")
	}
	if cfg.Responder == nil {
		return nil, errors.New("responder is required")
	}

	h := &Handler{
		cfg:      cfg,
		log:      logger.OrDefault(cfg.Logger),
		resolver: params.NewResolver(),
	}

	var err error
	if h.authorize, err = cfg.Manager.Plan(AuthorizeRules...); err != nil {
		return nil, fmt.Errorf("failed to plan authorization rules: %w", err)
	}
	if h.token, err = cfg.Manager.Plan(TokenRules...); err != nil {
		return nil, fmt.Errorf("failed to plan token rules: %w", err)
	}
	if h.logout, err = cfg.Manager.Plan(LogoutRules...); err != nil {
		return nil, fmt.Errorf("failed to plan logout rules: %w", err)
	}
	return h, nil
}

// Routes returns a router with every endpoint registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.OIDCRoutes(r)
	if h.cfg.Discovery != nil {
		r.Get(DiscoveryPath, h.DiscoveryHandler)
	}
	return r
}

// OIDCRoutes registers the protocol endpoints on r.
func (h *Handler) OIDCRoutes(r chi.Router) {
	r.Get(AuthorizePath, h.AuthorizeHandler)
	r.Post(AuthorizePath, h.AuthorizeHandler)
	r.Post(TokenPath, h.TokenHandler)
	r.Get(LogoutPath, h.LogoutHandler)
	r.Post(LogoutPath, h.LogoutHandler)
}

var errSuspendedTokenRequest = errors.New("token request cannot be suspended")

// Endpoint paths.
const (
	AuthorizePath = "/authorize"
	TokenPath     = "/token"
	LogoutPath    = "/logout"
	DiscoveryPath = "/.well-known/openid-configuration"
)

// fail renders err. Protocol errors go to the client; anything else is an
// internal fault answered with an opaque server_error.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	if protoErr, ok := oautherr.As(err); ok {
		log.Debug("request rejected",
			"error", protoErr.Code(),
			"rule", protoErr.Rule(),
			"redirect", protoErr.Redirectable(),
		)
		oautherr.Write(w, r, protoErr)
		return
	}
	if rules.IsDependencyError(err) {
		log.Error("rule dependency fault", "error", err)
	} else {
		log.Error("request validation failed", "error", err)
	}
	oautherr.WriteServerError(w)
}

// suspend follows a suspension with a redirect.
func (*Handler) suspend(w http.ResponseWriter, r *http.Request, log *slog.Logger, s *rules.Suspension) {
	log.Debug("following suspension", "reason", s.Reason, "rule", string(s.Rule))
	http.Redirect(w, r, s.Location, http.StatusFound)
}
