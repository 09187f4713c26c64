// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package rules implements the request validation engine of the OpenID
// Provider.
//
// Each protocol concern (client identification, redirect URI, scope, PKCE,
// prompt and max_age re-authentication, ACR selection, ...) is a Rule. An
// endpoint asks the Manager for a Plan over the rule keys that apply to its
// flow and executes it once per request. Rules read the results of the rules
// they depend on from the run's ResultBag and either add their own result,
// add nothing, suspend the run with a redirect, or fail.
//
// Failures come in two disjoint families. A *oautherr.Error is a protocol
// error for the client. A *DependencyError means rules were wired in an order
// that cannot work and must surface as an internal fault.
package rules
