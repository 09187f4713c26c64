// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package server assembles the provider from its configuration: storage,
// authenticator, rules, telemetry and HTTP routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/authn"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/clientjwt"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/config"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/endpoint"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/federation"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/pkce"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/rules"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/storage"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/telemetry"
)

const (
	serviceName = "thv-oidc"

	// HealthPath answers liveness probes.
	HealthPath = "/health"

	defaultReadHeaderTimeout = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// Server is an assembled provider.
type Server struct {
	cfg       *config.Config
	store     storage.Store
	telemetry *telemetry.Providers
	router    http.Handler
	log       *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
	readyOnce  sync.Once
}

// New builds a Server from a loaded and validated configuration.
func New(ctx context.Context, cfg *config.Config, version string) (*Server, error) {
	s := &Server{cfg: cfg, log: logger.Get(), ready: make(chan struct{})}
	if err := s.build(ctx, version); err != nil {
		_ = s.release(context.WithoutCancel(ctx))
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context, version string) error {
	cfg := s.cfg
	var err error
	if s.store, err = cfg.Storage.OpenStore(ctx); err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Type, err)
	}
	if err = cfg.Seed(ctx, s.store); err != nil {
		return err
	}

	s.telemetry, err = telemetry.New(ctx, telemetry.Config{
		ServiceName:           serviceName,
		ServiceVersion:        version,
		Metrics:               cfg.Telemetry.Metrics,
		IncludeRuntimeMetrics: cfg.Telemetry.Metrics,
		OTLPEndpoint:          cfg.Telemetry.OTLPEndpoint,
		OTLPHeaders:           cfg.Telemetry.OTLPHeaders,
		Insecure:              cfg.Telemetry.Insecure,
		SamplingRate:          cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return err
	}

	fwd, err := authn.NewForwardAuth(cfg.ForwardAuth())
	if err != nil {
		return fmt.Errorf("failed to create authenticator: %w", err)
	}

	collaborators, err := s.collaborators(fwd)
	if err != nil {
		return err
	}
	manager, err := rules.NewManager(
		rules.WithLogger(s.log),
		rules.WithTelemetry(s.telemetry.MeterProvider, s.telemetry.TracerProvider),
	)
	if err != nil {
		return err
	}
	if err = manager.Register(rules.DefaultRules(collaborators)...); err != nil {
		return err
	}

	handler, err := endpoint.NewHandler(endpoint.Config{
		Manager:       manager,
		Authenticator: fwd,
		Responder:     endpoint.JSONResponder{},
		ACRPolicy:     rules.ACRPolicy(cfg.ACR),
		Data: rules.Data{
			rules.DataDefaultScope:   cfg.DefaultScope,
			rules.DataScopeDelimiter: cfg.ScopeDelimiter,
		},
		Discovery: Metadata(cfg),
		Logger:    s.log,
	})
	if err != nil {
		return err
	}

	s.router = s.routes(handler, fwd)
	return nil
}

func (s *Server) collaborators(fwd *authn.ForwardAuth) (rules.Collaborators, error) {
	cfg := s.cfg
	providerKeys, err := cfg.ProviderKeys()
	if err != nil {
		return rules.Collaborators{}, err
	}
	verifier := clientjwt.NewVerifier()

	c := rules.Collaborators{
		Clients:       s.store,
		Scopes:        s.store,
		Replay:        s.store,
		Authenticator: fwd,
		PKCE:          pkce.NewRegistry(cfg.PKCEMethods...),
		Verifier:      verifier,
		ProviderKeys:  providerKeys,
		Issuer:        cfg.Issuer,
		TokenEndpoint: cfg.TokenEndpoint,
		ResponseTypes: cfg.ResponseTypes,
		GrantTypes:    cfg.GrantTypes,
	}

	entities, err := cfg.FederationEntities()
	if err != nil {
		return rules.Collaborators{}, err
	}
	if len(entities) > 0 {
		c.Federation = &rules.Federation{
			Resolver: federation.NewStaticResolver(entities),
			Verifier: verifier,
			Replay:   s.store,
			Issuer:   cfg.Issuer,
		}
		s.log.Info("federated client registration enabled", "entities", len(entities))
	}
	return c, nil
}

func (s *Server) routes(h *endpoint.Handler, fwd *authn.ForwardAuth) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
	)

	r.Get(HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get(endpoint.DiscoveryPath, h.DiscoveryHandler)
	if s.telemetry.MetricsHandler != nil {
		r.Handle(s.cfg.Telemetry.MetricsPath, s.telemetry.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(fwd.Middleware)
		h.OIDCRoutes(r)
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound listen address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start serves until ctx is cancelled or the server fails, then shuts down
// and releases storage and telemetry.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	s.readyOnce.Do(func() { close(s.ready) })
	s.log.Info("OIDC provider listening", "addr", listener.Addr().String(), "issuer", s.cfg.Issuer)

	select {
	case <-ctx.Done():
		s.log.Info("context cancelled, shutting down server")
		return s.Stop(context.WithoutCancel(ctx))
	case err := <-errCh:
		if stopErr := s.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			return fmt.Errorf("server error: %w; stop error: %v", err, stopErr)
		}
		return err
	}
}

// Stop gracefully shuts the HTTP server down and releases resources.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.listener = nil
	s.mu.Unlock()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown HTTP server: %w", err))
		}
	}
	if err := s.release(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Server) release(ctx context.Context) error {
	var errs []error
	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown telemetry: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close storage: %w", err))
		}
		s.store = nil
	}
	return errors.Join(errs...)
}

// Metadata derives the discovery document from cfg.
func Metadata(cfg *config.Config) *endpoint.Metadata {
	md := endpoint.NewMetadata(cfg.Issuer)
	md.ResponseTypesSupported = cfg.ResponseTypes
	md.GrantTypesSupported = cfg.GrantTypes
	md.CodeChallengeMethodsSupported = cfg.PKCEMethods

	var claims []string
	for _, s := range cfg.Scopes {
		md.ScopesSupported = append(md.ScopesSupported, s.ID)
		claims = append(claims, s.Claims...)
	}
	slices.Sort(claims)
	md.ClaimsSupported = slices.Compact(claims)

	var acrs []string
	for _, values := range cfg.ACR {
		acrs = append(acrs, values...)
	}
	slices.Sort(acrs)
	md.ACRValuesSupported = slices.Compact(acrs)
	return md
}
