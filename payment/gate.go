// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lumenwealth/memoflow/intake"
)

// ErrInvalidSignature marks a verification attempt whose provider
// signature did not match. The payment is not accepted and the
// session returns to preview_ready for a fresh attempt.
var ErrInvalidSignature = errors.New("payment: invalid signature")

// ErrOrderMismatch marks a verify call whose order does not belong to
// the named intake, or whose payment ID differs from the one that
// already verified the order.
var ErrOrderMismatch = errors.New("payment: order mismatch")

// Generation starts the memo backend's generation job. Implementations
// must be idempotent per intake: starting twice for the same intake is
// safe because only one verify winner ever calls it, but a retry after
// a transition failure may repeat the call.
type Generation interface {
	StartGeneration(ctx context.Context, intakeID string) error
}

// Config carries the gate's provider parameters.
type Config struct {
	// Secret is the shared HMAC secret, loaded from the configured
	// secret file. Never logged.
	Secret []byte

	// ProviderKey is the public provider key handed to clients so
	// they can open the provider's checkout.
	ProviderKey string

	// AmountMinor is the memo price in the currency's minor unit.
	AmountMinor int64
	Currency    string
}

// Gate drives a session through payment: it opens orders, verifies
// provider callbacks, and triggers generation at most once per order.
// The at-most-once property rests on the store's pending→verified
// compare-and-swap — exactly one verify caller claims the order, and
// only the claimant starts generation.
type Gate struct {
	store      *intake.Store
	generation Generation
	config     Config
	logger     *slog.Logger
}

// NewGate creates a payment gate over store and the generation
// backend.
func NewGate(store *intake.Store, generation Generation, config Config, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{store: store, generation: generation, config: config, logger: logger}
}

// Checkout is what a client needs to open the provider's payment
// flow.
type Checkout struct {
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	ProviderKey string `json:"provider_key"`
}

// Initiate opens a payment order for a session whose preview is
// ready. A repeat call supersedes the prior pending order rather than
// stacking attempts. The session moves to payment_pending.
func (g *Gate) Initiate(ctx context.Context, intakeID string) (*Checkout, error) {
	session, err := g.store.GetSession(ctx, intakeID)
	if err != nil {
		return nil, err
	}

	switch session.Status {
	case intake.StatusPreviewReady:
		if _, err := g.store.Transition(ctx, intakeID, intake.EventPaymentInitiated); err != nil {
			return nil, err
		}
	case intake.StatusPaymentPending:
		// Re-initiating from payment_pending replaces the order but
		// needs no transition.
	default:
		return nil, &intake.RejectionError{SessionID: intakeID, From: session.Status, Event: intake.EventPaymentInitiated}
	}

	order, err := g.store.CreateOrder(ctx, intakeID, g.config.AmountMinor, g.config.Currency)
	if err != nil {
		return nil, err
	}

	return &Checkout{
		OrderID:     order.OrderID,
		Amount:      order.Amount,
		Currency:    order.Currency,
		ProviderKey: g.config.ProviderKey,
	}, nil
}

// Verify checks a provider callback and, on the first valid one,
// marks the session paid and starts generation. Verify is idempotent:
// a duplicate callback carrying the same payment ID returns success
// without re-triggering anything, and if the earlier winner crashed
// between claiming the order and starting generation, the duplicate
// finishes the job.
func (g *Gate) Verify(ctx context.Context, intakeID, orderID, paymentID, signature string) (*intake.Session, error) {
	order, err := g.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.IntakeID != intakeID {
		return nil, fmt.Errorf("payment: order %s belongs to another intake: %w", orderID, ErrOrderMismatch)
	}

	if !VerifySignature(g.config.Secret, orderID, paymentID, signature) {
		g.logger.Warn("payment signature rejected", "intake_id", intakeID, "order_id", orderID)
		if err := g.store.MarkOrderStatus(ctx, orderID, intake.OrderSignatureInvalid); err != nil && !errors.Is(err, intake.ErrConflict) {
			return nil, err
		}
		// Send the session back for a fresh attempt. A conflict here
		// means the session already left payment_pending; the
		// signature failure verdict stands either way.
		if _, err := g.store.Transition(ctx, intakeID, intake.EventSignatureInvalid); err != nil && !errors.Is(err, intake.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("payment: order %s: %w", orderID, ErrInvalidSignature)
	}

	switch order.Status {
	case intake.OrderPending:
		// Fall through to the claim.
	case intake.OrderVerified:
		return g.resumeVerified(ctx, intakeID, order, paymentID)
	default:
		return nil, fmt.Errorf("payment: order %s already %s: %w", orderID, order.Status, intake.ErrConflict)
	}

	claimed, order, err := g.store.ClaimOrderVerified(ctx, orderID, paymentID, signature)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race; converge on the winner's outcome.
		return g.resumeVerified(ctx, intakeID, order, paymentID)
	}

	g.logger.Info("payment verified", "intake_id", intakeID, "order_id", orderID)

	if _, err := g.store.Transition(ctx, intakeID, intake.EventSignatureValid); err != nil {
		return nil, err
	}
	return g.startGeneration(ctx, intakeID, intake.EventGenerationStarted)
}

// resumeVerified handles a verify call for an order that already
// reached verified. A matching payment ID is a duplicate callback:
// succeed, and finish the journey to generating if an earlier attempt
// stalled at paid or failed. A different payment ID is a conflict.
func (g *Gate) resumeVerified(ctx context.Context, intakeID string, order *intake.PaymentOrder, paymentID string) (*intake.Session, error) {
	if order.Status != intake.OrderVerified {
		return nil, fmt.Errorf("payment: order %s settled as %s: %w", order.OrderID, order.Status, intake.ErrConflict)
	}
	if order.PaymentID != paymentID {
		return nil, fmt.Errorf("payment: order %s verified under a different payment: %w", order.OrderID, ErrOrderMismatch)
	}

	session, err := g.store.GetSession(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	switch session.Status {
	case intake.StatusPaid:
		return g.startGeneration(ctx, intakeID, intake.EventGenerationStarted)
	case intake.StatusFailed:
		// The payment already cleared; a fresh generation attempt
		// costs nothing extra.
		return g.startGeneration(ctx, intakeID, intake.EventRetryGeneration)
	default:
		return session, nil
	}
}

// startGeneration moves the session to generating and then triggers
// the backend job. The transition's compare-and-swap is the trigger
// gate: of any number of concurrent callers, exactly one wins the
// transition, and only the winner calls the backend. A start failure
// is recorded as backend_error so a later callback or an explicit
// retry can spawn a fresh attempt.
func (g *Gate) startGeneration(ctx context.Context, intakeID string, event intake.Event) (*intake.Session, error) {
	session, err := g.store.Transition(ctx, intakeID, event)
	if err != nil {
		return nil, err
	}

	if err := g.generation.StartGeneration(ctx, intakeID); err != nil {
		if failed, terr := g.store.Transition(ctx, intakeID, intake.EventBackendError); terr == nil {
			session = failed
		}
		return nil, fmt.Errorf("payment: starting generation for %s: %w", intakeID, err)
	}

	g.logger.Info("generation started", "intake_id", intakeID)
	return session, nil
}
