// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream connects clients to the memo backend's generation
// run: the Upstream HTTP client, the Relays server-sent-event proxy,
// and the Reconciler readiness probe for clients that lost their
// stream.
//
// The relay is deliberately dumb about payloads. Upstream bytes are
// forwarded verbatim and in order; the relay only reads event names
// to know when the run is over, and only ever writes comment frames
// and one synthesized error event of its own.
package stream
