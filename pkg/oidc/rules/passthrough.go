// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"strings"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/params"
)

// passthroughRule copies one optional parameter into the bag. Absent
// parameters produce no result.
type passthroughRule struct {
	base
	param string
	split bool
}

// NewStateRule extracts state. Its result is a string.
func NewStateRule() Rule {
	return &passthroughRule{base: base{key: KeyState}, param: params.State}
}

// NewNonceRule extracts nonce. Its result is a string.
func NewNonceRule() Rule {
	return &passthroughRule{base: base{key: KeyNonce}, param: params.Nonce}
}

// NewUILocalesRule extracts ui_locales. Its result is a []string.
func NewUILocalesRule() Rule {
	return &passthroughRule{base: base{key: KeyUILocales}, param: params.UILocales, split: true}
}

// NewClaimsLocalesRule extracts claims_locales. Its result is a []string.
func NewClaimsLocalesRule() Rule {
	return &passthroughRule{base: base{key: KeyClaimsLocales}, param: params.ClaimsLocales, split: true}
}

func (p *passthroughRule) Check(_ context.Context, run *Run) (Outcome, error) {
	v, ok := run.Param(p.param)
	if !ok {
		return Skip(), nil
	}
	if p.split {
		return Continue(strings.Fields(v)), nil
	}
	return Continue(v), nil
}
