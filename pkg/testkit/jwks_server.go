// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package testkit

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// JWKSPath is where JWKSServer publishes its key set.
const JWKSPath = "/.well-known/jwks.json"

// JWKSServer serves a key set over HTTP and counts fetches.
type JWKSServer struct {
	*httptest.Server
	fetches atomic.Int32
}

// NewJWKSServer starts a server publishing jwks. It is closed on test cleanup.
func NewJWKSServer(t testing.TB, jwks []byte) *JWKSServer {
	t.Helper()
	s := &JWKSServer{}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(JWKSPath, func(w http.ResponseWriter, _ *http.Request) {
		s.fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(jwks)
	})

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// JWKSURI returns the absolute key set URL.
func (s *JWKSServer) JWKSURI() string {
	return s.URL + JWKSPath
}

// Fetches returns how many times the key set was requested.
func (s *JWKSServer) Fetches() int {
	return int(s.fetches.Load())
}
