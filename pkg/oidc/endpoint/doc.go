// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package endpoint exposes the validation engine over HTTP. Each endpoint
// runs its own ordered rule plan and then either renders the protocol error,
// follows a suspension with a redirect, or hands the validated results to a
// Responder that completes the flow.
package endpoint
