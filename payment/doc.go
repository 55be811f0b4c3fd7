// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package payment verifies provider payment callbacks and gates memo
// generation behind a successful one. Signatures are hex HMAC-SHA256
// over "orderID|paymentID" compared in constant time. The gate claims
// each order verified at most once via the store's compare-and-swap,
// which is what makes a storm of duplicate provider callbacks trigger
// exactly one generation run.
package payment
