// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/clientjwt"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/federation"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// Federation enables resolving unknown clients through OpenID Federation.
type Federation struct {
	Resolver federation.TrustChainResolver
	Verifier *clientjwt.Verifier
	Replay   storage.ReplayCache

	// Issuer is the provider identifier request objects must be addressed to.
	Issuer string
}

// ClientRule resolves the client identified by client_id or the HTTP Basic
// username. Its result is a *storage.Client.
type ClientRule struct {
	base
	clients    storage.ClientRepository
	federation *Federation
	now        func() time.Time

	// resolving collapses concurrent trust chain resolutions per entity.
	resolving singleflight.Group
}

// ClientRuleOption configures a ClientRule.
type ClientRuleOption func(*ClientRule)

// WithFederation enables the federation path.
func WithFederation(f *Federation) ClientRuleOption {
	return func(c *ClientRule) { c.federation = f }
}

// NewClientRule creates a ClientRule.
func NewClientRule(clients storage.ClientRepository, opts ...ClientRuleOption) *ClientRule {
	c := &ClientRule{
		base:    base{key: KeyClient},
		clients: clients,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check implements Rule.
func (c *ClientRule) Check(ctx context.Context, run *Run) (Outcome, error) {
	id := clientID(run)
	if id == "" {
		return Outcome{}, oautherr.InvalidRequest(params.ClientID, "")
	}

	client, err := c.clients.GetClient(ctx, id)
	switch {
	case err == nil:
		if c.federation != nil && client.TrustExpired(c.now()) {
			run.Logger.Debug("federated client trust expired, resolving again", "client_id", id)
			client, err = c.refresh(ctx, id)
			if err != nil {
				return Outcome{}, err
			}
		}
	case storage.IsNotFound(err):
		raw, hasRequest := run.Param(params.Request)
		if c.federation == nil || !hasRequest {
			run.Logger.Debug("client not found", "client_id", id)
			return Outcome{}, oautherr.InvalidClient("Client not found.")
		}
		client, err = c.resolveFederated(ctx, run, id, raw)
		if err != nil {
			return Outcome{}, err
		}
	default:
		return Outcome{}, fmt.Errorf("failed to look up client %q: %w", id, err)
	}

	if client.Disabled {
		run.Logger.Debug("client is disabled", "client_id", id)
		return Outcome{}, oautherr.InvalidClient("Client is disabled.")
	}
	return Continue(client), nil
}

// clientID reads client_id, falling back to the Basic username.
func clientID(run *Run) string {
	if id, ok := run.Param(params.ClientID); ok {
		return id
	}
	if user, _, ok := run.Request.BasicAuth(); ok {
		// RFC 6749 Section 2.3.1 form-encodes the credentials
		if decoded, err := url.QueryUnescape(user); err == nil {
			return decoded
		}
		return user
	}
	return ""
}

// trust resolves the trust chain of id. Concurrent callers share one
// resolution that outlives the cancellation of any single caller; each caller
// still stops waiting when its own context ends.
func (c *ClientRule) trust(ctx context.Context, id string) (*federation.TrustChain, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.resolving.DoChan(id, func() (any, error) {
		return c.federation.Resolver.Resolve(shared, id)
	})
	var (
		v   any
		err error
	)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		v, err = res.Val, res.Err
	}
	if errors.Is(err, federation.ErrUntrusted) {
		return nil, oautherr.InvalidClient("Client is not trusted.", oautherr.WithCause(err))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve trust chain for %q: %w", id, err)
	}
	return v.(*federation.TrustChain), nil
}

func (c *ClientRule) refresh(ctx context.Context, id string) (*storage.Client, error) {
	chain, err := c.trust(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.clients.RegisterClient(ctx, chain.Client); err != nil {
		return nil, fmt.Errorf("failed to store federated client: %w", err)
	}
	return chain.Client, nil
}

// resolveFederated trusts an unknown client through federation, provided its
// request object verifies against the entity keys and was not seen before.
// The verified payload is stored under KeyRequestObject.
func (c *ClientRule) resolveFederated(ctx context.Context, run *Run, id, raw string) (*storage.Client, error) {
	chain, err := c.trust(ctx, id)
	if err != nil {
		return nil, err
	}

	claims, err := c.federation.Verifier.Verify(ctx, raw, clientjwt.JWKSet(chain.Keys), clientjwt.Options{
		Audience:      c.federation.Issuer,
		RequireExpiry: true,
	})
	if err != nil {
		return nil, oautherr.InvalidRequestObject("The Request Object could not be verified.", oautherr.WithCause(err))
	}
	if err := checkRequestObjectClient(claims, id); err != nil {
		return nil, err
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, oautherr.InvalidRequestObject("The Request Object must carry a jti claim.")
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, oautherr.InvalidRequestObject("The Request Object must carry an exp claim.")
	}
	first, err := c.federation.Replay.CheckAndSet(ctx, "request_object:"+id+":"+jti, exp.Time.Add(clientjwt.DefaultLeeway))
	if err != nil {
		return nil, fmt.Errorf("failed to check request object replay: %w", err)
	}
	if !first {
		run.Logger.Warn("replayed request object", "client_id", id, "jti", jti)
		return nil, oautherr.New(oautherr.ErrInvalidRequestObjectReplay)
	}

	if err := c.clients.RegisterClient(ctx, chain.Client); err != nil {
		return nil, fmt.Errorf("failed to store federated client: %w", err)
	}
	run.Logger.Info("registered federated client", "client_id", id, "trust_expires_at", chain.ExpiresAt)

	run.Bag.AddOrReplace(NewResult(KeyRequestObject, &RequestObject{Claims: claims, Signed: true}))
	return chain.Client, nil
}

// checkRequestObjectClient requires iss and client_id, when present, to name
// the requesting client.
func checkRequestObjectClient(claims jwt.MapClaims, id string) error {
	if cid, ok := claims["client_id"].(string); ok && cid != id {
		return oautherr.InvalidRequestObject("The Request Object client_id does not match the request.")
	}
	if iss, err := claims.GetIssuer(); err == nil && iss != "" && iss != id {
		return oautherr.InvalidRequestObject("The Request Object issuer does not match the client.")
	}
	return nil
}
