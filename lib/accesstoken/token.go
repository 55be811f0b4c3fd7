// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package accesstoken

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumenwealth/memoflow/lib/clock"
	"github.com/lumenwealth/memoflow/lib/codec"
)

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize // 64 bytes

// RememberedLifetime is the fixed validity window of a remembered
// token, counted from issuance. It is deliberately not configurable:
// a remembered token issued at T is valid strictly before T+7d and
// invalid at or after it, regardless of session activity.
const RememberedLifetime = 7 * 24 * time.Hour

// Mode selects the token lifetime policy.
type Mode string

const (
	// ModeEphemeral tokens have no absolute expiry but are
	// invalidated the moment the intake session that produced them
	// ends (expiry or logout).
	ModeEphemeral Mode = "ephemeral"

	// ModeRemembered tokens are independently durable for exactly
	// RememberedLifetime from issuance.
	ModeRemembered Mode = "remembered"
)

// Token is the CBOR-encoded payload of a report access token. The
// wire form is the CBOR payload followed by a 64-byte Ed25519
// signature, base64url-encoded for transport as a bearer credential.
type Token struct {
	// IntakeID is the single intake this token grants access to.
	// A token scoped to one intake cannot be used against another.
	IntakeID string `cbor:"1,keyasint"`

	// Mode is the lifetime policy this token was issued under.
	Mode Mode `cbor:"2,keyasint"`

	// ID is a unique token identifier. Used for revocation on
	// explicit logout.
	ID string `cbor:"3,keyasint"`

	// IssuedAt is a Unix timestamp (seconds) of issuance.
	IssuedAt int64 `cbor:"4,keyasint"`

	// ExpiresAt is a Unix timestamp (seconds) after which this token
	// is no longer valid. Zero for ephemeral tokens, which have no
	// absolute expiry.
	ExpiresAt int64 `cbor:"5,keyasint,omitempty"`
}

// Errors returned by Validate and related functions. All of them mean
// "re-authenticate" to callers — none is a retryable transient error.
var (
	ErrMalformed        = errors.New("accesstoken: malformed token")
	ErrInvalidSignature = errors.New("accesstoken: invalid signature")
	ErrExpired          = errors.New("accesstoken: token has expired")
	ErrRevoked          = errors.New("accesstoken: token has been revoked")
	ErrIntakeMismatch   = errors.New("accesstoken: token is scoped to a different intake")
	ErrSessionEnded     = errors.New("accesstoken: originating session has ended")
)

// Manager issues and validates report-scoped access tokens. The
// server never stores token material — only the revocation set needed
// to invalidate tokens on logout or session end.
type Manager struct {
	privateKey  ed25519.PrivateKey
	publicKey   ed25519.PublicKey
	revocations *RevocationSet
	clock       clock.Clock
}

// NewManager creates a Manager signing with the given Ed25519 private
// key. The corresponding public key is derived for validation.
func NewManager(privateKey ed25519.PrivateKey, clk clock.Clock) *Manager {
	return &Manager{
		privateKey:  privateKey,
		publicKey:   privateKey.Public().(ed25519.PublicKey),
		revocations: NewRevocationSet(),
		clock:       clk,
	}
}

// Revocations exposes the manager's revocation set so that the expiry
// sweeper and the logout handler can invalidate tokens.
func (m *Manager) Revocations() *RevocationSet {
	return m.revocations
}

// Issue mints a token scoped to intakeID under the given lifetime
// policy and returns its base64url wire form along with the decoded
// payload. Issuing an ephemeral token for a session that has already
// ended is refused.
func (m *Manager) Issue(intakeID string, mode Mode) (string, *Token, error) {
	if mode != ModeEphemeral && mode != ModeRemembered {
		return "", nil, fmt.Errorf("accesstoken: unknown mode %q", mode)
	}
	if mode == ModeEphemeral && m.revocations.SessionEnded(intakeID) {
		return "", nil, ErrSessionEnded
	}

	now := m.clock.Now()
	token := &Token{
		IntakeID: intakeID,
		Mode:     mode,
		ID:       uuid.NewString(),
		IssuedAt: now.Unix(),
	}
	if mode == ModeRemembered {
		token.ExpiresAt = now.Add(RememberedLifetime).Unix()
	}

	payload, err := codec.Marshal(token)
	if err != nil {
		return "", nil, fmt.Errorf("accesstoken: encoding payload: %w", err)
	}

	signature := ed25519.Sign(m.privateKey, payload)

	wire := make([]byte, len(payload)+signatureSize)
	copy(wire, payload)
	copy(wire[len(payload):], signature)

	return base64.RawURLEncoding.EncodeToString(wire), token, nil
}

// Validate verifies a token's signature, lifetime, and revocation
// status, and confirms it is scoped to wantIntakeID. Returns the
// decoded token on success.
func (m *Manager) Validate(encoded, wantIntakeID string) (*Token, error) {
	token, err := m.Inspect(encoded)
	if err != nil {
		return nil, err
	}
	if token.IntakeID != wantIntakeID {
		return nil, ErrIntakeMismatch
	}
	return token, nil
}

// Inspect verifies a token's signature, lifetime, and revocation
// status without checking its intake scope. Used by logout, which
// only needs to know whose token it is revoking.
func (m *Manager) Inspect(encoded string) (*Token, error) {
	wire, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformed
	}
	if len(wire) <= signatureSize {
		return nil, ErrMalformed
	}

	splitPoint := len(wire) - signatureSize
	payload := wire[:splitPoint]
	signature := wire[splitPoint:]

	if !ed25519.Verify(m.publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, ErrMalformed
	}

	switch token.Mode {
	case ModeRemembered:
		if m.clock.Now().Unix() >= token.ExpiresAt {
			return nil, ErrExpired
		}
	case ModeEphemeral:
		// No absolute expiry; validity is tied to the originating
		// session, enforced through the revocation set below.
		if m.revocations.SessionEnded(token.IntakeID) {
			return nil, ErrRevoked
		}
	default:
		return nil, ErrMalformed
	}

	if m.revocations.IsRevoked(token.ID) {
		return nil, ErrRevoked
	}

	return &token, nil
}
