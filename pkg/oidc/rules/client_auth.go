// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/ory/fosite"
	"golang.org/x/crypto/bcrypt"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/clientjwt"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// ClientAssertionTypeJWTBearer is the only supported client_assertion_type.
const ClientAssertionTypeJWTBearer = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// defaultAssertionLifetime bounds replay tracking of assertions without exp.
const defaultAssertionLifetime = 10 * time.Minute

// ClientAuthenticationRule authenticates the client at the token endpoint
// with its registered method. Its result is the method used.
type ClientAuthenticationRule struct {
	base
	verifier *clientjwt.Verifier
	replay   storage.ReplayCache
	audience string
}

// NewClientAuthenticationRule creates a ClientAuthenticationRule. audience is
// the token endpoint URL client assertions must be addressed to.
func NewClientAuthenticationRule(
	verifier *clientjwt.Verifier, replay storage.ReplayCache, audience string,
) *ClientAuthenticationRule {
	return &ClientAuthenticationRule{
		base:     base{key: KeyClientAuthentication, deps: []Key{KeyClient}},
		verifier: verifier,
		replay:   replay,
		audience: audience,
	}
}

// Check implements Rule.
func (a *ClientAuthenticationRule) Check(ctx context.Context, run *Run) (Outcome, error) {
	client, err := Value[*storage.Client](run.Bag, KeyClient)
	if err != nil {
		return Outcome{}, err
	}

	method := client.AuthMethod()
	switch method {
	case storage.AuthMethodNone:
		if !client.IsPublic() {
			return Outcome{}, oautherr.InvalidClient("The client must authenticate.")
		}
	case storage.AuthMethodClientSecretBasic, storage.AuthMethodClientSecretPost:
		used, err := a.checkSecret(run, client)
		if err != nil {
			return Outcome{}, err
		}
		method = used
	case storage.AuthMethodPrivateKeyJWT:
		if err := a.checkAssertion(ctx, run, client); err != nil {
			return Outcome{}, err
		}
	default:
		return Outcome{}, fmt.Errorf("client %q has unsupported auth method %q", client.ID, method)
	}

	run.Logger.Debug("client authenticated", "client_id", client.ID, "method", method)
	return Continue(method), nil
}

// checkSecret accepts the secret from Basic credentials or the request body.
func (*ClientAuthenticationRule) checkSecret(run *Run, client *storage.Client) (string, error) {
	method := storage.AuthMethodClientSecretBasic
	_, secret, ok := run.Request.BasicAuth()
	if ok {
		if decoded, err := url.QueryUnescape(secret); err == nil {
			secret = decoded
		}
	} else {
		secret, ok = run.Param(params.ClientSecret)
		method = storage.AuthMethodClientSecretPost
	}
	if !ok || secret == "" {
		return "", oautherr.InvalidClient("Client authentication is required.")
	}
	if err := bcrypt.CompareHashAndPassword(client.GetHashedSecret(), []byte(secret)); err != nil {
		run.Logger.Debug("client secret mismatch", "client_id", client.ID)
		return "", oautherr.InvalidClient("Client authentication failed.")
	}
	return method, nil
}

func (a *ClientAuthenticationRule) checkAssertion(ctx context.Context, run *Run, client *storage.Client) error {
	assertionType, _ := run.Param(params.ClientAssertionType)
	assertion, ok := run.Param(params.ClientAssertion)
	if !ok || assertionType != ClientAssertionTypeJWTBearer {
		return oautherr.InvalidClient("A client assertion of type jwt-bearer is required.")
	}

	keys, err := a.verifier.KeysFor(client)
	if errors.Is(err, clientjwt.ErrNoKeys) {
		return oautherr.InvalidClient("The client has no registered keys.")
	}
	if err != nil {
		return fmt.Errorf("failed to load client keys: %w", err)
	}

	claims, err := a.verifier.Verify(ctx, assertion, keys, clientjwt.Options{Audience: a.audience, RequireExpiry: true})
	if err != nil {
		return oautherr.InvalidClient("The client assertion could not be verified.", oautherr.WithCause(err))
	}
	iss, _ := claims.GetIssuer()
	sub, _ := claims.GetSubject()
	if iss != client.ID || sub != client.ID {
		return oautherr.InvalidClient("The client assertion iss and sub must be the client_id.")
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return oautherr.InvalidClient("The client assertion must carry a jti claim.")
	}
	expiresAt := time.Now().Add(defaultAssertionLifetime)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}
	// the verifier accepts exp within its leeway, so remember the jti that long
	expiresAt = expiresAt.Add(clientjwt.DefaultLeeway)
	first, err := a.replay.CheckAndSet(ctx, "client_assertion:"+client.ID+":"+jti, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to check client assertion replay: %w", err)
	}
	if !first {
		return oautherr.InvalidClient("The client assertion has already been used.", oautherr.WithCause(fosite.ErrJTIKnown))
	}
	return nil
}
