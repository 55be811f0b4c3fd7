// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for deterministic testing. Production
// code injects Real(); tests inject Fake() and drive time explicitly
// with Advance. The intake expiry sweeper, the event relay's keepalive
// and generation ceiling, and access-token lifetimes are all built on
// this interface.
package clock
