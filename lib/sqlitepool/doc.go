// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a SQLite connection pool with
// Memoflow-standard pragmas (WAL, NORMAL sync, foreign keys on).
// The intake session store is the only consumer; it layers its schema
// on top via the OnConnect hook.
package sqlitepool
