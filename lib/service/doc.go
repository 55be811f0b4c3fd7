// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides shared service infrastructure: the
// standard JSON logger and the HTTP server lifecycle (bind, ready
// signal, graceful drain on context cancellation).
package service
