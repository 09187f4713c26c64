// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides the process-wide slog logger for the OIDC provider.
//
// The logger is a thin shim over toolhive-core/logging. Components that run per
// request (rules, endpoints) should receive a *slog.Logger explicitly; use [Get]
// to obtain the process logger for injection.
package logger

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(logging.New())
}

// Get returns the underlying *slog.Logger for injection into structs.
func Get() *slog.Logger {
	return singleton.Load()
}

// Set replaces the process logger. Intended for tests capturing output.
func Set(l *slog.Logger) {
	singleton.Store(l)
}

// OrDefault returns l when it is non-nil and the process logger otherwise.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Get()
}

// Debugw logs a message at debug level with additional key-value pairs.
func Debugw(msg string, keysAndValues ...any) {
	Get().Debug(msg, keysAndValues...)
}

// Infow logs a message at info level with additional key-value pairs.
func Infow(msg string, keysAndValues ...any) {
	Get().Info(msg, keysAndValues...)
}

// Infof logs a formatted message at info level.
func Infof(msg string, args ...any) {
	Get().Info(fmt.Sprintf(msg, args...))
}

// Warnw logs a message at warning level with additional key-value pairs.
func Warnw(msg string, keysAndValues ...any) {
	Get().Warn(msg, keysAndValues...)
}

// Errorw logs a message at error level with additional key-value pairs.
func Errorw(msg string, keysAndValues ...any) {
	Get().Error(msg, keysAndValues...)
}

// Errorf logs a formatted message at error level.
func Errorf(msg string, args ...any) {
	Get().Error(fmt.Sprintf(msg, args...))
}

// Initialize configures the process logger from the environment and viper.
// UNSTRUCTURED_LOGS=false switches to JSON output; the viper "debug" key
// lowers the level to debug.
func Initialize() {
	InitializeWithEnv(&env.OSReader{})
}

// InitializeWithEnv is Initialize with an injectable environment reader.
func InitializeWithEnv(envReader env.Reader) {
	var opts []logging.Option

	if unstructuredLogsWithEnv(envReader) {
		opts = append(opts, logging.WithFormat(logging.FormatText))
	}

	if viper.GetBool("debug") {
		opts = append(opts, logging.WithLevel(slog.LevelDebug))
	}

	singleton.Store(logging.New(opts...))
}

func unstructuredLogsWithEnv(envReader env.Reader) bool {
	unstructuredLogs, err := strconv.ParseBool(envReader.Getenv("UNSTRUCTURED_LOGS"))
	if err != nil {
		// unset or unparsable: keep human readable output
		return true
	}
	return unstructuredLogs
}
