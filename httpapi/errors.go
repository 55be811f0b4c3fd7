// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lumenwealth/memoflow/intake"
	"github.com/lumenwealth/memoflow/lib/accesstoken"
	"github.com/lumenwealth/memoflow/payment"
	"github.com/lumenwealth/memoflow/stream"
)

// ErrAuthRequired marks a request without a usable bearer token.
var ErrAuthRequired = errors.New("httpapi: authentication required")

// ErrNotReady marks a report fetch for a memo that does not exist
// yet. The client should poll readiness and retry.
var ErrNotReady = errors.New("httpapi: report not ready")

// errorBody is the JSON error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// MissingRequired lists unanswered required questions on a
	// premature questionnaire completion.
	MissingRequired []string `json:"missing_required,omitempty"`
}

// classify maps an error to its HTTP status and stable code. Token
// failures all collapse to auth_required: the client's only move is
// to re-authenticate, and the response must not reveal whether a
// token was expired, revoked, or forged.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, ErrAuthRequired),
		errors.Is(err, accesstoken.ErrMalformed),
		errors.Is(err, accesstoken.ErrInvalidSignature),
		errors.Is(err, accesstoken.ErrExpired),
		errors.Is(err, accesstoken.ErrRevoked),
		errors.Is(err, accesstoken.ErrIntakeMismatch),
		errors.Is(err, accesstoken.ErrSessionEnded):
		return http.StatusUnauthorized, "auth_required"
	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid_signature"
	case errors.Is(err, intake.ErrSessionExpired):
		return http.StatusGone, "session_expired"
	case errors.Is(err, ErrNotReady):
		return http.StatusConflict, "not_ready"
	case errors.Is(err, intake.ErrConflict),
		errors.Is(err, stream.ErrStreamActive),
		errors.Is(err, payment.ErrOrderMismatch):
		return http.StatusConflict, "conflict"
	case errors.Is(err, intake.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, stream.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeError renders err as the JSON error envelope.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: publicMessage(status, err)}})
}

// publicMessage returns the error text safe to show a client.
// Internal errors keep their detail in the log only.
func publicMessage(status int, err error) string {
	if status >= http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (a *API) writeErrorDetail(w http.ResponseWriter, status int, detail errorDetail) {
	writeJSON(w, status, errorBody{Error: detail})
}
