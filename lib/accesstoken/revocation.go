// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package accesstoken

import (
	"sync"
	"time"
)

// revokedEntry tracks a revoked token ID and its natural expiry time.
// The expiry is used for automatic cleanup — once a remembered token's
// 7-day TTL has passed, keeping it in the set is unnecessary since
// expired tokens are rejected by Validate regardless. Ephemeral tokens
// have no natural expiry; their entries carry a zero time and are kept
// until the process restarts.
type revokedEntry struct {
	tokenExpiresAt time.Time
}

// RevocationSet is a thread-safe in-memory record of invalidated
// credentials: individual token IDs (explicit logout) and whole
// intakes whose sessions have ended (which kills every ephemeral
// token the session produced).
type RevocationSet struct {
	mu            sync.RWMutex
	tokens        map[string]revokedEntry
	endedSessions map[string]struct{}
}

// NewRevocationSet creates an empty revocation set.
func NewRevocationSet() *RevocationSet {
	return &RevocationSet{
		tokens:        make(map[string]revokedEntry),
		endedSessions: make(map[string]struct{}),
	}
}

// RevokeToken invalidates a single token ID. The tokenExpiresAt
// parameter is the token's natural expiry time, used to garbage
// collect the entry during Cleanup; pass the zero time for ephemeral
// tokens.
func (r *RevocationSet) RevokeToken(tokenID string, tokenExpiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[tokenID] = revokedEntry{tokenExpiresAt: tokenExpiresAt}
}

// IsRevoked checks whether a token ID has been revoked.
func (r *RevocationSet) IsRevoked(tokenID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tokens[tokenID]
	return exists
}

// EndSession records that an intake session has ended (inactivity
// expiry or logout). Every ephemeral token bound to the intake becomes
// invalid immediately; remembered tokens are unaffected.
func (r *RevocationSet) EndSession(intakeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endedSessions[intakeID] = struct{}{}
}

// SessionEnded checks whether an intake's session has been recorded
// as ended.
func (r *RevocationSet) SessionEnded(intakeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ended := r.endedSessions[intakeID]
	return ended
}

// Cleanup removes token entries whose natural expiry has passed.
// Entries with no natural expiry and ended-session records are kept.
// Call periodically to prevent unbounded growth of the logout set.
func (r *RevocationSet) Cleanup(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for tokenID, entry := range r.tokens {
		if entry.tokenExpiresAt.IsZero() {
			continue
		}
		if !now.Before(entry.tokenExpiresAt) {
			delete(r.tokens, tokenID)
			removed++
		}
	}
	return removed
}
