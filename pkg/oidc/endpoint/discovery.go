// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
)

// DefaultDiscoveryCacheMaxAge is the Cache-Control max-age of the discovery
// document in seconds.
const DefaultDiscoveryCacheMaxAge = 3600

// Metadata is the subset of OpenID Provider Metadata describing what the
// validation rules accept.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ClaimsSupported                   []string `json:"claims_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ACRValuesSupported                []string `json:"acr_values_supported,omitempty"`
	ClaimsParameterSupported          bool     `json:"claims_parameter_supported"`
	RequestParameterSupported         bool     `json:"request_parameter_supported"`
	RequestURIParameterSupported      bool     `json:"request_uri_parameter_supported"`
}

// NewMetadata returns the metadata for issuer with the endpoint URLs derived
// from the route paths.
func NewMetadata(issuer string) *Metadata {
	base := strings.TrimSuffix(issuer, "/")
	return &Metadata{
		Issuer:                issuer,
		AuthorizationEndpoint: base + AuthorizePath,
		TokenEndpoint:         base + TokenPath,
		EndSessionEndpoint:    base + LogoutPath,
		TokenEndpointAuthMethodsSupported: []string{
			storage.AuthMethodNone,
			storage.AuthMethodClientSecretBasic,
			storage.AuthMethodClientSecretPost,
			storage.AuthMethodPrivateKeyJWT,
		},
		ClaimsParameterSupported:  true,
		RequestParameterSupported: true,
	}
}

// DiscoveryHandler serves the provider metadata.
func (h *Handler) DiscoveryHandler(w http.ResponseWriter, _ *http.Request) {
	data, err := json.Marshal(h.cfg.Discovery)
	if err != nil {
		logger.Errorw("failed to encode provider metadata", "error", err.Error())
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", DefaultDiscoveryCacheMaxAge))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write(data)
}
