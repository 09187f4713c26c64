// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the OIDC request validation server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/stacklok/toolhive-oidc/cmd/thv-oidc/app"
	"github.com/stacklok/toolhive-oidc/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		cancel()
		os.Exit(1) //nolint:gocritic // cancel is called explicitly above
	}
}
