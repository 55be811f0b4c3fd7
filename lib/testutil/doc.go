// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides helpers shared across Memoflow test
// suites: channel operations with timeout safety valves so that a
// buggy stream or sweeper cannot hang the test run.
package testutil
