// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time. Time stands
// still until Advance is called. Timer, ticker, and sleep operations
// register pending waiters that fire when the clock advances past
// their deadline.
//
// FakeClock is safe for concurrent use by multiple goroutines.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for testing. Time advances only
// when Advance is called. Waiters fire in deadline order, each
// observing the fire time (not the final target time), so a ticker
// advanced past three intervals sees three distinct tick times.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

// fakeWaiter represents a pending timer, ticker, or sleep operation.
type fakeWaiter struct {
	deadline time.Time

	// channel receives the fire time. Buffered with capacity 1;
	// sends never block, and an unconsumed tick is dropped.
	channel chan time.Time

	// interval is non-zero for ticker waiters. After firing, the
	// waiter is rescheduled at deadline + interval.
	interval time.Duration

	// stopped is set by Ticker.Stop. Stopped waiters are skipped
	// during Advance and garbage-collected.
	stopped bool
}

// Now returns the fake clock's current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that fires when the clock is advanced past
// duration d. If d <= 0 the channel fires immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
	}
	if d <= 0 {
		waiter.channel <- c.current
		return waiter.channel
	}
	c.waiters = append(c.waiters, waiter)
	return waiter.channel
}

// NewTicker returns a Ticker driven by Advance. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	waiter := &fakeWaiter{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.waiters = append(c.waiters, waiter)

	return &Ticker{
		C: waiter.channel,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			waiter.stopped = true
		},
	}
}

// Sleep blocks until the clock is advanced past duration d. Another
// goroutine must call Advance, or Sleep blocks forever.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the clock forward by d, firing all waiters whose
// deadlines fall within the advanced window in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)

	for {
		waiter := c.nextDueWaiter(target)
		if waiter == nil {
			break
		}

		// Non-blocking send: an unconsumed previous tick is
		// dropped, matching time.Ticker semantics.
		select {
		case waiter.channel <- waiter.deadline:
		default:
		}

		if waiter.interval > 0 {
			waiter.deadline = waiter.deadline.Add(waiter.interval)
		} else {
			c.removeWaiter(waiter)
		}
	}

	c.current = target
}

// nextDueWaiter returns the live waiter with the earliest deadline not
// after target, or nil if none is due. Called with mu held.
func (c *FakeClock) nextDueWaiter(target time.Time) *fakeWaiter {
	live := c.waiters[:0]
	for _, waiter := range c.waiters {
		if !waiter.stopped {
			live = append(live, waiter)
		}
	}
	c.waiters = live

	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})

	if len(c.waiters) == 0 || c.waiters[0].deadline.After(target) {
		return nil
	}
	return c.waiters[0]
}

// removeWaiter deletes a one-shot waiter after it fires. Called with
// mu held.
func (c *FakeClock) removeWaiter(target *fakeWaiter) {
	for i, waiter := range c.waiters {
		if waiter == target {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}
