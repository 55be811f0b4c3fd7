// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"errors"
	"testing"
)

func TestNextLegalTransitions(t *testing.T) {
	tests := []struct {
		from  Status
		event Event
		want  Status
	}{
		{StatusCreated, EventFirstAnswer, StatusAnswering},
		{StatusAnswering, EventAllRequiredAnswered, StatusPreviewReady},
		{StatusPreviewReady, EventPaymentInitiated, StatusPaymentPending},
		{StatusPaymentPending, EventSignatureValid, StatusPaid},
		{StatusPaymentPending, EventSignatureInvalid, StatusPreviewReady},
		{StatusPaid, EventGenerationStarted, StatusGenerating},
		{StatusGenerating, EventArtifactReady, StatusDelivered},
		{StatusGenerating, EventBackendError, StatusFailed},
		{StatusFailed, EventRetryGeneration, StatusGenerating},
		{StatusCreated, EventInactivityTimeout, StatusExpired},
		{StatusAnswering, EventInactivityTimeout, StatusExpired},
		{StatusPreviewReady, EventInactivityTimeout, StatusExpired},
		{StatusPaymentPending, EventInactivityTimeout, StatusExpired},
		{StatusPaid, EventInactivityTimeout, StatusExpired},
		{StatusGenerating, EventInactivityTimeout, StatusExpired},
		{StatusFailed, EventInactivityTimeout, StatusExpired},
	}

	for _, tt := range tests {
		got, err := Next("s", tt.from, tt.event)
		if err != nil {
			t.Errorf("Next(%s, %s): %v", tt.from, tt.event, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tt.from, tt.event, got, tt.want)
		}
	}
}

func TestNextRejectsIllegalPairs(t *testing.T) {
	tests := []struct {
		from  Status
		event Event
	}{
		// Payment cannot be skipped.
		{StatusCreated, EventSignatureValid},
		{StatusAnswering, EventGenerationStarted},
		{StatusPreviewReady, EventSignatureValid},
		{StatusPreviewReady, EventGenerationStarted},
		// Generation only starts from paid (or a failed retry).
		{StatusPaymentPending, EventGenerationStarted},
		// Answering is over once the preview exists.
		{StatusPreviewReady, EventFirstAnswer},
		// A verified payment cannot be un-verified.
		{StatusPaid, EventSignatureInvalid},
	}

	for _, tt := range tests {
		if _, err := Next("s", tt.from, tt.event); !errors.Is(err, ErrConflict) {
			t.Errorf("Next(%s, %s) = %v, want ErrConflict", tt.from, tt.event, err)
		}
	}
}

// Generating must be unreachable without passing through paid, except
// for the explicit failed-retry edge. Walk the table and assert it.
func TestGeneratingOnlyReachableFromPaidOrRetry(t *testing.T) {
	for from, events := range transitions {
		for event, to := range events {
			if to != StatusGenerating {
				continue
			}
			fromPaid := from == StatusPaid && event == EventGenerationStarted
			fromRetry := from == StatusFailed && event == EventRetryGeneration
			if !fromPaid && !fromRetry {
				t.Errorf("transition table reaches generating via (%s, %s)", from, event)
			}
		}
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	allEvents := []Event{
		EventFirstAnswer, EventAllRequiredAnswered, EventPaymentInitiated,
		EventSignatureValid, EventSignatureInvalid, EventGenerationStarted,
		EventArtifactReady, EventBackendError, EventRetryGeneration,
		EventInactivityTimeout,
	}

	for _, event := range allEvents {
		if _, err := Next("s", StatusDelivered, event); !errors.Is(err, ErrConflict) {
			t.Errorf("delivered accepted %s", event)
		}
		if _, err := Next("s", StatusExpired, event); !errors.Is(err, ErrSessionExpired) {
			t.Errorf("Next(expired, %s) = %v, want ErrSessionExpired", event, err)
		}
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusDelivered, true},
		{StatusExpired, true},
		{StatusFailed, false},
		{StatusGenerating, false},
		{StatusCreated, false},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestRejectionErrorUnwrap(t *testing.T) {
	conflict := &RejectionError{SessionID: "s", From: StatusPaid, Event: EventFirstAnswer}
	if !errors.Is(conflict, ErrConflict) {
		t.Error("non-expired rejection does not unwrap to ErrConflict")
	}

	expired := &RejectionError{SessionID: "s", From: StatusExpired, Event: EventFirstAnswer}
	if !errors.Is(expired, ErrSessionExpired) {
		t.Error("expired rejection does not unwrap to ErrSessionExpired")
	}
	if errors.Is(expired, ErrConflict) {
		t.Error("expired rejection also matches ErrConflict")
	}
}
