// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi is the external HTTP surface of the memo service:
// intake lifecycle, questionnaire answers and instant preview, the
// payment endpoints, the generation event stream, the completion
// probe, and report delivery.
//
// Every intake-scoped route requires a bearer token bound to that
// intake. All token failures answer 401 with the same auth_required
// code; the response never says whether the token was expired,
// revoked, or forged.
package httpapi
