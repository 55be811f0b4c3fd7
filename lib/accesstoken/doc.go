// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package accesstoken issues and validates report-scoped bearer
// tokens: Ed25519-signed CBOR payloads binding a token to exactly one
// intake. Two lifetime policies exist — ephemeral tokens die with the
// session that produced them, remembered tokens live for exactly
// seven days from issuance. Validation failures always mean
// "re-authenticate"; they are never retryable.
package accesstoken
