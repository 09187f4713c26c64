// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/toolhive-oidc/pkg/oidc/oautherr"
)

const instrumentationName = "github.com/stacklok/toolhive-oidc/pkg/oidc/rules"

var (
	attrRule      = attribute.Key("oidc.rule")
	attrOutcome   = attribute.Key("oidc.rule.outcome")
	attrErrorCode = attribute.Key("oidc.error.code")
)

// Outcome labels recorded on rule metrics.
const (
	outcomeLabelContinue = "continue"
	outcomeLabelSkip     = "skip"
	outcomeLabelSuspend  = "suspend"
	outcomeLabelProtocol = "protocol_error"
	outcomeLabelInternal = "internal_error"
)

type telemetry struct {
	tracer   trace.Tracer
	checks   metric.Int64Counter
	duration metric.Float64Histogram
}

// WithTelemetry records a span per rule check, a counter of outcomes and a
// histogram of check durations.
func WithTelemetry(meterProvider metric.MeterProvider, tracerProvider trace.TracerProvider) ManagerOption {
	return func(m *Manager) error {
		t, err := newTelemetry(meterProvider, tracerProvider)
		if err != nil {
			return err
		}
		m.telemetry = t
		return nil
	}
}

func newTelemetry(meterProvider metric.MeterProvider, tracerProvider trace.TracerProvider) (*telemetry, error) {
	meter := meterProvider.Meter(instrumentationName)

	checks, err := meter.Int64Counter(
		"toolhive_oidc_rule_checks",
		metric.WithDescription("Total number of rule checks by outcome"))
	if err != nil {
		return nil, fmt.Errorf("failed to create rule checks counter: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"toolhive_oidc_rule_check_duration",
		metric.WithDescription("Duration of rule checks in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule duration histogram: %w", err)
	}

	return &telemetry{
		tracer:   tracerProvider.Tracer(instrumentationName),
		checks:   checks,
		duration: duration,
	}, nil
}

// record starts a span for one rule check. The returned function must be
// deferred; it reads the outcome and error the check produced.
func (t *telemetry) record(ctx context.Context, key Key, outcome *Outcome, err *error) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "rule "+string(key),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrRule.String(string(key))),
	)
	start := time.Now()

	return ctx, func() {
		label := outcomeLabel(*outcome, *err)
		attrs := []attribute.KeyValue{attrRule.String(string(key)), attrOutcome.String(label)}

		if *err != nil {
			if protoErr, ok := oautherr.As(*err); ok {
				attrs = append(attrs, attrErrorCode.String(protoErr.Code()))
			} else {
				span.RecordError(*err)
				span.SetStatus(codes.Error, (*err).Error())
			}
		}
		span.SetAttributes(attrs...)

		metricAttrs := metric.WithAttributes(attrs...)
		t.checks.Add(ctx, 1, metricAttrs)
		t.duration.Record(ctx, time.Since(start).Seconds(), metricAttrs)
		span.End()
	}
}

func outcomeLabel(outcome Outcome, err error) string {
	if err != nil {
		if _, ok := oautherr.As(err); ok {
			return outcomeLabelProtocol
		}
		return outcomeLabelInternal
	}
	switch outcome.kind {
	case outcomeSkip:
		return outcomeLabelSkip
	case outcomeSuspend:
		return outcomeLabelSuspend
	default:
		return outcomeLabelContinue
	}
}
