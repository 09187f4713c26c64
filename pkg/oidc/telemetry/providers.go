// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry builds the OpenTelemetry meter and tracer providers the
// rule manager records into. Metrics are exposed in Prometheus format and
// traces are exported over OTLP/HTTP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
)

// Config selects which providers are backed by real exporters.
type Config struct {
	ServiceName    string
	ServiceVersion string

	// Metrics enables the Prometheus exporter and handler.
	Metrics bool
	// IncludeRuntimeMetrics adds Go runtime and process collectors.
	IncludeRuntimeMetrics bool

	// OTLPEndpoint is the host:port of an OTLP/HTTP collector receiving
	// traces and metrics. Empty disables OTLP export.
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	Insecure     bool
	SamplingRate float64
}

// Providers holds the configured providers. Fields are never nil; disabled
// signals use no-op providers.
type Providers struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider

	// MetricsHandler serves the Prometheus registry, or is nil when metrics
	// are disabled.
	MetricsHandler http.Handler

	shutdownFuncs []func(context.Context) error
}

// New builds the providers described by cfg. The meter provider records into
// every enabled metric reader.
func New(ctx context.Context, cfg Config) (*Providers, error) {
	p := &Providers{
		MeterProvider:  noop.NewMeterProvider(),
		TracerProvider: tracenoop.NewTracerProvider(),
	}
	if !cfg.Metrics && cfg.OTLPEndpoint == "" {
		logger.Infof("No telemetry configured, using no-op providers")
		return p, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource with service name '%s': %w", cfg.ServiceName, err)
	}

	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Metrics {
		reader, handler, err := newPrometheusReader(cfg.IncludeRuntimeMetrics)
		if err != nil {
			return nil, err
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(reader))
		p.MetricsHandler = handler
	}
	if cfg.OTLPEndpoint != "" {
		reader, err := newOTLPMetricReader(ctx, cfg)
		if err != nil {
			return nil, err
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(reader))
	}
	mp := sdkmetric.NewMeterProvider(metricOpts...)
	p.MeterProvider = mp
	p.shutdownFuncs = append(p.shutdownFuncs, mp.Shutdown)

	if cfg.OTLPEndpoint != "" {
		tp, err := newTracerProvider(ctx, cfg, res)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
		p.TracerProvider = tp
		p.shutdownFuncs = append(p.shutdownFuncs, tp.Shutdown)
	}

	logger.Infow("telemetry providers created",
		"metrics", cfg.Metrics,
		"tracing", cfg.OTLPEndpoint != "",
	)
	return p, nil
}

// Shutdown flushes and stops every provider.
func (p *Providers) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdownFuncs {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdownFuncs = nil
	return errors.Join(errs...)
}

func newPrometheusReader(runtimeMetrics bool) (sdkmetric.Reader, http.Handler, error) {
	registry := prometheus.NewRegistry()
	if runtimeMetrics {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
	return exporter, handler, nil
}

func newOTLPMetricReader(ctx context.Context, cfg Config) (sdkmetric.Reader, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
	if len(cfg.OTLPHeaders) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(cfg.OTLPHeaders))
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter), nil
}

func newTracerProvider(ctx context.Context, cfg Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
	if len(cfg.OTLPHeaders) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
	), nil
}
