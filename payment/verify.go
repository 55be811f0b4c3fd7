// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sign computes the provider callback signature: hex HMAC-SHA256 of
// "orderID|paymentID" under the shared secret. The provider computes
// the same value on its side; Verify compares the two.
func Sign(secret []byte, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(orderID))
	mac.Write([]byte("|"))
	mac.Write([]byte(paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the expected HMAC
// for (orderID, paymentID). The comparison is constant-time; a
// mismatch reveals nothing about how close the forgery was.
func VerifySignature(secret []byte, orderID, paymentID, signature string) bool {
	expected := Sign(secret, orderID, paymentID)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
