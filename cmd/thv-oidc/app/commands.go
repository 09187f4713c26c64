// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the thv-oidc command-line application.
package app

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-oidc/pkg/logger"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/config"
	"github.com/stacklok/toolhive-oidc/pkg/oidc/server"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var errNoConfig = errors.New("no configuration file specified, use --config flag")

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "thv-oidc",
		DisableAutoGenTag: true,
		Short:             "OpenID Connect request validation server",
		Long: `thv-oidc validates OpenID Connect authorization, token and logout requests
with an ordered set of protocol rules. Valid requests are answered with a
description of the validated parameters; invalid ones receive standard
OAuth 2.0 error responses.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				logger.Errorf("Error displaying help: %v", err)
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.Initialize()
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the server with the configuration given by --config. Clients and
scopes from the file are registered in the configured storage on startup.`,
		RunE: runServe,
	}
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long: `Validate the configuration file for syntax and semantic errors.

This command checks:
- YAML syntax and unknown fields
- Issuer, login and redirect URLs
- Storage backend settings
- Client, scope and federation registrations`,
		RunE: runValidate,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("thv-oidc version: %s\n", Version)
		},
	}
}

func loadConfig() (*config.Config, error) {
	path := viper.GetString("config")
	if path == "" {
		return nil, errNoConfig
	}
	logger.Infof("Loading configuration from: %s", path)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	return cfg, nil
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cmd.Println("✓ Configuration is valid")
	cmd.Printf("  Issuer: %s\n", cfg.Issuer)
	cmd.Printf("  Storage: %s\n", cfg.Storage.Type)
	cmd.Printf("  Scopes: %d defined\n", len(cfg.Scopes))
	cmd.Printf("  Clients: %d registered\n", len(cfg.Clients))
	if n := len(cfg.Federation.Entities); n > 0 {
		cmd.Printf("  Federation: %d trusted entities\n", n)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	srv, err := server.New(ctx, cfg, Version)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(ctx)
}
