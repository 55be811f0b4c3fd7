// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import "time"

// Status is the lifecycle state of an intake session. Sessions move
// through statuses exclusively via the transition table in machine.go;
// nothing else writes the status column.
type Status string

const (
	// StatusCreated is the initial state after a client-initiated
	// start, before any answer has arrived.
	StatusCreated Status = "created"

	// StatusAnswering means at least one answer has been recorded
	// and the questionnaire is still open.
	StatusAnswering Status = "answering"

	// StatusPreviewReady means all required questions are answered
	// and the instant preview has been computed.
	StatusPreviewReady Status = "preview_ready"

	// StatusPaymentPending means a payment order has been created
	// and the gate is waiting for provider verification.
	StatusPaymentPending Status = "payment_pending"

	// StatusPaid means the payment signature verified. Transient:
	// the gate immediately drives the session onward to generating.
	StatusPaid Status = "paid"

	// StatusGenerating means the backend memo generation job is
	// running and the event stream is eligible to open.
	StatusGenerating Status = "generating"

	// StatusDelivered means the memo artifact is ready. Terminal.
	StatusDelivered Status = "delivered"

	// StatusFailed means the backend reported an error during
	// generation. A payment-independent retry may spawn a fresh
	// generating attempt without re-charging.
	StatusFailed Status = "failed"

	// StatusExpired means the session sat inactive past the
	// configured window. Terminal and read-only.
	StatusExpired Status = "expired"
)

// Terminal reports whether no further transitions can leave this
// status. StatusFailed is not terminal: a generation retry is allowed
// without re-charging.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusExpired
}

// Event names a cause for a session transition. The transition table
// in machine.go defines which events are legal in which status.
type Event string

const (
	EventFirstAnswer         Event = "first_answer"
	EventAllRequiredAnswered Event = "all_required_answered"
	EventPaymentInitiated    Event = "payment_initiated"
	EventSignatureValid      Event = "signature_valid"
	EventSignatureInvalid    Event = "signature_invalid"
	EventGenerationStarted   Event = "generation_started"
	EventArtifactReady       Event = "artifact_ready"
	EventBackendError        Event = "backend_error"
	EventRetryGeneration     Event = "retry_generation"
	EventInactivityTimeout   Event = "inactivity_timeout"
)

// DiscoveryType classifies a finding surfaced during intake or
// generation.
type DiscoveryType string

const (
	// DiscoveryOpportunity is a potential gain the client is not
	// capturing.
	DiscoveryOpportunity DiscoveryType = "opportunity"

	// DiscoveryMistake is a risk or error in the client's current
	// position.
	DiscoveryMistake DiscoveryType = "mistake"

	// DiscoveryIntelligence is a match against the research
	// intelligence base.
	DiscoveryIntelligence DiscoveryType = "intelligence"
)

// Discovery is a typed finding attached to a session. The sequence is
// a per-session monotonic counter so re-delivery after a reconnect is
// detectable by clients.
type Discovery struct {
	ID        string         `json:"id"`
	Type      DiscoveryType  `json:"type"`
	Sequence  int64          `json:"sequence"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}

// Answer is one recorded questionnaire answer. Answers form an
// ordered mapping from question ID to free-form value; re-answering a
// question updates the value but keeps its original position.
type Answer struct {
	QuestionID string    `json:"question_id"`
	Value      string    `json:"value"`
	AnsweredAt time.Time `json:"answered_at"`
}

// OrderStatus is the lifecycle state of a payment order.
type OrderStatus string

const (
	// OrderPending means the order was created and no verification
	// outcome has been recorded yet.
	OrderPending OrderStatus = "pending"

	// OrderVerified means the provider signature checked out. An
	// order reaches verified at most once.
	OrderVerified OrderStatus = "verified"

	// OrderSignatureInvalid means the supplied signature did not
	// match. Hard failure; the user may retry with a fresh order.
	OrderSignatureInvalid OrderStatus = "signature_invalid"

	// OrderProviderFailed means the provider reported a failure
	// before a signature was ever presented.
	OrderProviderFailed OrderStatus = "provider_failed"

	// OrderSuperseded means a newer payment attempt replaced this
	// order. Superseded orders are kept for audit history, never
	// deleted.
	OrderSuperseded OrderStatus = "superseded"
)

// PaymentOrder is one payment attempt for a session. At most one
// non-terminal order exists per session at a time; a new attempt
// supersedes the prior one.
type PaymentOrder struct {
	OrderID    string      `json:"order_id"`
	IntakeID   string      `json:"intake_id"`
	Amount     int64       `json:"amount"`
	Currency   string      `json:"currency"`
	Status     OrderStatus `json:"status"`
	PaymentID  string      `json:"payment_id,omitempty"`
	Signature  string      `json:"-"`
	CreatedAt  time.Time   `json:"created_at"`
	VerifiedAt *time.Time  `json:"verified_at,omitempty"`
}

// Session is one intake's full state: answers, discoveries, and the
// current (most recent non-superseded) payment order.
type Session struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	Contact          string        `json:"contact,omitempty"`
	Status           Status        `json:"status"`
	Answers          []Answer      `json:"answers"`
	Discoveries      []Discovery   `json:"discoveries"`
	Payment          *PaymentOrder `json:"payment,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	LastTransitionAt time.Time     `json:"last_transition_at"`
}

// AnswerValue returns the recorded value for a question ID, with a
// presence flag.
func (s *Session) AnswerValue(questionID string) (string, bool) {
	for _, answer := range s.Answers {
		if answer.QuestionID == questionID {
			return answer.Value, true
		}
	}
	return "", false
}
