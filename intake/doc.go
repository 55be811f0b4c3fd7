// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package intake owns the lifecycle of a decision-memo intake
// session: the status state machine, the SQLite-backed session store
// (answers, discoveries, payment orders, delivered-artifact cache),
// the questionnaire catalog, the instant preview, and the inactivity
// sweeper.
//
// The transition table in machine.go is the single authority on
// status changes. Store.Transition serializes writes per session and
// backs the table's decision with a compare-and-swap on the status
// column, so two concurrent events cannot both win from the same
// status even across processes sharing the database.
package intake
