// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Memoflow's standard CBOR encoding.
//
// All internal binary serialization goes through this package:
// access-token payloads, stored discovery payloads, and stored answer
// values. Encoding is deterministic (RFC 8949 Core Deterministic
// Encoding) so that identical logical values always produce identical
// bytes. HTTP request and response bodies use encoding/json instead —
// CBOR is an internal format, never exposed to API clients.
package codec
