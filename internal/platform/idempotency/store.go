package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// DefaultTTL bounds how long a completed reservation shields duplicates.
const DefaultTTL = 24 * time.Hour

// Status enumerates reservation lifecycle states.
type Status string

const (
	// StatusPending marks a reservation whose work is still in flight.
	StatusPending Status = "pending"
	// StatusCompleted marks a reservation with a recorded result.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of a Reserve call.
type ReservationState string

const (
	// ReservationStateNew means the caller owns the key and should proceed.
	ReservationStateNew ReservationState = "new"
	// ReservationStatePending means another invocation is processing the key.
	ReservationStatePending ReservationState = "pending"
	// ReservationStateCompleted means a result is already recorded.
	ReservationStateCompleted ReservationState = "completed"
)

// ErrFingerprintMismatch is returned when a key is reused with a different payload.
var ErrFingerprintMismatch = errors.New("idempotency: fingerprint mismatch")

// Record is the stored state for one idempotency key.
type Record struct {
	Key         string
	Fingerprint string
	Status      Status
	Result      []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// Reservation is returned by Reserve and carries the current record.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Store is the contract for idempotent-operation bookkeeping. The reconciler
// reserves a checkout-session id before submitting a fulfillment order and
// records the order reference on completion, so a redelivered webhook replays
// the recorded result instead of creating a second order.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResult(ctx context.Context, key, fingerprint string, result []byte, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// Fingerprint hashes an arbitrary payload into a stable reservation fingerprint.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
