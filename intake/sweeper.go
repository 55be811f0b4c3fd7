// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package intake

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lumenwealth/memoflow/lib/clock"
)

// Sweeper expires sessions that sit inactive past the configured
// window. Each sweep lists candidates and drives them through the
// ordinary transition table, so a session that becomes active between
// the list and the transition is left alone (the table rejects the
// stale event).
type Sweeper struct {
	store    *Store
	clock    clock.Clock
	logger   *slog.Logger
	window   time.Duration
	interval time.Duration

	// onExpire, if set, runs after each successful expiry. The token
	// manager hooks this to end the session's ephemeral tokens.
	onExpire func(intakeID string)

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper over store. window is the inactivity
// budget; sweeps run every interval. onExpire may be nil.
func NewSweeper(store *Store, clk clock.Clock, logger *slog.Logger, window, interval time.Duration, onExpire func(intakeID string)) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{
		store:    store,
		clock:    clk,
		logger:   logger,
		window:   window,
		interval: interval,
		onExpire: onExpire,
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run sweeps until ctx is canceled or Stop is called. Blocks; run it
// on its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
	<-s.done
}

// SweepOnce runs one expiry pass and returns the number of sessions
// expired. Safe to call directly in tests.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	cutoff := s.clock.Now().Add(-s.window)
	ids, err := s.store.ListInactiveBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("inactivity sweep failed", "error", err)
		return 0
	}

	expired := 0
	for _, id := range ids {
		if _, err := s.store.Transition(ctx, id, EventInactivityTimeout); err != nil {
			// A session that transitioned since the listing is simply
			// no longer idle; anything else is worth a log line.
			if !errors.Is(err, ErrConflict) && !errors.Is(err, ErrSessionExpired) {
				s.logger.Error("expiring session failed", "intake_id", id, "error", err)
			}
			continue
		}
		expired++
		if s.onExpire != nil {
			s.onExpire(id)
		}
	}

	if expired > 0 {
		s.logger.Info("inactivity sweep expired sessions", "count", expired)
	}
	return expired
}
