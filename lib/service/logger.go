// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"log/slog"
	"os"
)

// NewLogger creates the standard Memoflow service logger: structured
// JSON on stderr at Info level. It also installs itself as the default
// slog logger so that third-party code using slog.Info etc. gets
// structured output.
//
// Payment signatures, shared secrets, and token material must never be
// passed as log attributes — log order IDs and intake IDs instead.
func NewLogger() *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}
