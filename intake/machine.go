// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"errors"
	"fmt"
)

// ErrConflict marks a rejected transition: the event is not legal in
// the session's current status, or a concurrent writer won the race.
// Callers must re-fetch current status before retrying.
var ErrConflict = errors.New("intake: conflicting transition")

// ErrSessionExpired marks an operation against an expired session.
// Terminal — the user must start a new intake.
var ErrSessionExpired = errors.New("intake: session expired")

// ErrNotFound marks a lookup for an unknown session or order.
var ErrNotFound = errors.New("intake: not found")

// RejectionError describes why a transition was refused. It wraps
// ErrConflict (or ErrSessionExpired when the session is expired) so
// callers can branch with errors.Is while logs keep the detail.
type RejectionError struct {
	SessionID string
	From      Status
	Event     Event
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("intake: session %s in status %q rejects event %q", e.SessionID, e.From, e.Event)
}

// Unwrap maps the rejection to its taxonomy sentinel: expired sessions
// surface as ErrSessionExpired, everything else as ErrConflict.
func (e *RejectionError) Unwrap() error {
	if e.From == StatusExpired {
		return ErrSessionExpired
	}
	return ErrConflict
}

// transitions is the complete legal transition table. Any
// (status, event) pair absent from this table is rejected without
// mutating state. The table is the single authority: handlers,
// the payment gate, the relay, and the sweeper all funnel through it.
var transitions = map[Status]map[Event]Status{
	StatusCreated: {
		EventFirstAnswer:       StatusAnswering,
		EventInactivityTimeout: StatusExpired,
	},
	StatusAnswering: {
		EventAllRequiredAnswered: StatusPreviewReady,
		EventInactivityTimeout:   StatusExpired,
	},
	StatusPreviewReady: {
		EventPaymentInitiated:  StatusPaymentPending,
		EventInactivityTimeout: StatusExpired,
	},
	StatusPaymentPending: {
		EventSignatureValid:    StatusPaid,
		EventSignatureInvalid:  StatusPreviewReady,
		EventInactivityTimeout: StatusExpired,
	},
	StatusPaid: {
		EventGenerationStarted: StatusGenerating,
		EventInactivityTimeout: StatusExpired,
	},
	StatusGenerating: {
		EventArtifactReady:     StatusDelivered,
		EventBackendError:      StatusFailed,
		EventInactivityTimeout: StatusExpired,
	},
	// Failed is not fully terminal: a payment-independent retry may
	// spawn a fresh generation attempt without re-charging. Inactivity
	// still expires a failed session that nobody retries.
	StatusFailed: {
		EventRetryGeneration:   StatusGenerating,
		EventInactivityTimeout: StatusExpired,
	},
	// Delivered and expired accept nothing.
	StatusDelivered: {},
	StatusExpired:   {},
}

// Next returns the status that event moves a session to from current,
// or a *RejectionError if the pair is not in the transition table.
// Pure function; persistence and per-session serialization live in
// Store.Transition.
func Next(sessionID string, current Status, event Event) (Status, error) {
	if next, ok := transitions[current][event]; ok {
		return next, nil
	}
	return "", &RejectionError{SessionID: sessionID, From: current, Event: event}
}
