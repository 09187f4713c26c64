// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNew_Disabled(t *testing.T) {
	t.Parallel()

	p, err := New(t.Context(), Config{ServiceName: "thv-oidc"})
	require.NoError(t, err)
	assert.IsType(t, noop.MeterProvider{}, p.MeterProvider)
	assert.IsType(t, tracenoop.TracerProvider{}, p.TracerProvider)
	assert.Nil(t, p.MetricsHandler)
	assert.NoError(t, p.Shutdown(t.Context()))
}

func TestNew_PrometheusMetrics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		runtime bool
	}{
		{name: "without runtime metrics"},
		{name: "with runtime metrics", runtime: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()

			p, err := New(ctx, Config{ServiceName: "thv-oidc", Metrics: true, IncludeRuntimeMetrics: tt.runtime})
			require.NoError(t, err)
			t.Cleanup(func() { _ = p.Shutdown(ctx) })

			require.IsType(t, &sdkmetric.MeterProvider{}, p.MeterProvider)
			require.NotNil(t, p.MetricsHandler)

			counter, err := p.MeterProvider.Meter("test").Int64Counter("thv_oidc_test_counter")
			require.NoError(t, err)
			counter.Add(ctx, 3)

			rec := httptest.NewRecorder()
			p.MetricsHandler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), "thv_oidc_test_counter")
			if tt.runtime {
				assert.Contains(t, rec.Body.String(), "go_goroutines")
			}
		})
	}
}

func TestNew_OTLP(t *testing.T) {
	t.Parallel()
	ctx := t.Context()

	var exports atomic.Int32
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		exports.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(collector.Close)

	p, err := New(ctx, Config{
		ServiceName:  "thv-oidc",
		OTLPEndpoint: strings.TrimPrefix(collector.URL, "http://"),
		Insecure:     true,
		SamplingRate: 1,
	})
	require.NoError(t, err)
	assert.IsType(t, &sdktrace.TracerProvider{}, p.TracerProvider)
	assert.IsType(t, &sdkmetric.MeterProvider{}, p.MeterProvider)
	assert.Nil(t, p.MetricsHandler)

	counter, err := p.MeterProvider.Meter("test").Int64Counter("thv_oidc_test_counter")
	require.NoError(t, err)
	counter.Add(ctx, 1)
	require.NoError(t, p.Shutdown(ctx))
	assert.Positive(t, exports.Load(), "metrics should be flushed on shutdown")
}
