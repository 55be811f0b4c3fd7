// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"context"
	"fmt"

	"github.com/lumenwealth/memoflow/intake"
)

// ArtifactProber asks the backend whether the finished memo exists.
// Satisfied by *Upstream.
type ArtifactProber interface {
	ArtifactExists(ctx context.Context, intakeID string) (bool, error)
}

// Reconciler answers "is the memo ready?" for clients that lost the
// event stream. It is a pure probe: it reads the session and asks the
// backend, and never mutates either. Convergence to delivered happens
// on the artifact fetch path, not here.
type Reconciler struct {
	store  *intake.Store
	prober ArtifactProber
}

// NewReconciler creates a readiness probe over store and the backend.
func NewReconciler(store *intake.Store, prober ArtifactProber) *Reconciler {
	return &Reconciler{store: store, prober: prober}
}

// CheckReady reports whether the memo for an intake can be fetched
// right now. Delivered sessions are ready by definition; generating
// sessions defer to the backend's artifact probe; everything earlier
// in the lifecycle is simply not ready. Expired sessions are an
// error — the client must start over.
func (r *Reconciler) CheckReady(ctx context.Context, intakeID string) (bool, error) {
	session, err := r.store.GetSession(ctx, intakeID)
	if err != nil {
		return false, err
	}

	switch session.Status {
	case intake.StatusDelivered:
		return true, nil
	case intake.StatusGenerating:
		return r.prober.ArtifactExists(ctx, intakeID)
	case intake.StatusExpired:
		return false, fmt.Errorf("stream: intake %s: %w", intakeID, intake.ErrSessionExpired)
	default:
		return false, nil
	}
}
