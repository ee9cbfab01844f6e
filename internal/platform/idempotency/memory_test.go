package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReserveLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fp := Fingerprint([]byte("cs_123"))

	first, err := store.Reserve(ctx, "fulfillment:cs_123", fp, now, time.Hour)
	if err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if first.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %s", first.State)
	}

	pending, err := store.Reserve(ctx, "fulfillment:cs_123", fp, now.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("second Reserve returned error: %v", err)
	}
	if pending.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %s", pending.State)
	}

	result := []byte(`{"order_id":42}`)
	if err := store.SaveResult(ctx, "fulfillment:cs_123", fp, result, now.Add(2*time.Minute), time.Hour); err != nil {
		t.Fatalf("SaveResult returned error: %v", err)
	}

	completed, err := store.Reserve(ctx, "fulfillment:cs_123", fp, now.Add(3*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("third Reserve returned error: %v", err)
	}
	if completed.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %s", completed.State)
	}
	if string(completed.Record.Result) != string(result) {
		t.Fatalf("expected recorded result, got %q", completed.Record.Result)
	}
}

func TestReserveFingerprintMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.Reserve(ctx, "key", Fingerprint([]byte("a")), now, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	if _, err := store.Reserve(ctx, "key", Fingerprint([]byte("b")), now, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected ErrFingerprintMismatch, got %v", err)
	}
}

func TestReleaseAllowsRetry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	fp := Fingerprint([]byte("cs_retry"))

	if _, err := store.Reserve(ctx, "key", fp, now, time.Hour); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}

	// a foreign fingerprint cannot free the reservation
	if err := store.Release(ctx, "key", Fingerprint([]byte("other"))); err != nil {
		t.Fatalf("Release with foreign fingerprint returned error: %v", err)
	}
	held, err := store.Reserve(ctx, "key", fp, now, time.Hour)
	if err != nil {
		t.Fatalf("Reserve after foreign release returned error: %v", err)
	}
	if held.State != ReservationStatePending {
		t.Fatalf("expected reservation to survive foreign release, got %s", held.State)
	}

	if err := store.Release(ctx, "key", fp); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	res, err := store.Reserve(ctx, "key", fp, now, time.Hour)
	if err != nil {
		t.Fatalf("Reserve after release returned error: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected new reservation after release, got %s", res.State)
	}
}

func TestExpiredReservationIsReclaimed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()
	fp := Fingerprint([]byte("cs_exp"))

	if _, err := store.Reserve(ctx, "key", fp, now, time.Minute); err != nil {
		t.Fatalf("Reserve returned error: %v", err)
	}
	res, err := store.Reserve(ctx, "key", fp, now.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("Reserve after expiry returned error: %v", err)
	}
	if res.State != ReservationStateNew {
		t.Fatalf("expected expired reservation to be reclaimed, got %s", res.State)
	}
}

func TestCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, Fingerprint([]byte(key)), now, time.Minute); err != nil {
			t.Fatalf("Reserve %s returned error: %v", key, err)
		}
	}
	if _, err := store.Reserve(ctx, "fresh", Fingerprint([]byte("fresh")), now, time.Hour); err != nil {
		t.Fatalf("Reserve fresh returned error: %v", err)
	}

	removed, err := store.CleanupExpired(ctx, now.Add(10*time.Minute), 10)
	if err != nil {
		t.Fatalf("CleanupExpired returned error: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removals, got %d", removed)
	}

	res, err := store.Reserve(ctx, "fresh", Fingerprint([]byte("fresh")), now.Add(10*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("Reserve fresh again returned error: %v", err)
	}
	if res.State != ReservationStatePending {
		t.Fatalf("fresh reservation should survive cleanup, got %s", res.State)
	}
}
