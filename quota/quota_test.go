package quota

import (
	"context"
	"testing"
	"time"
)

func TestUnlimitedNeverBlocks(t *testing.T) {
	a := Unlimited()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	for i := 0; i < 100; i++ {
		if err := a.Record(ctx, 1<<20); err != nil {
			t.Fatalf("unlimited authority rejected bytes: %v", err)
		}
	}
}

func TestByteRateAdmitsWithinBurst(t *testing.T) {
	a := NewByteRate(1024, 4096)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := a.Record(ctx, 4096); err != nil {
		t.Fatalf("burst-sized request must be admitted: %v", err)
	}
}

func TestByteRateThrottles(t *testing.T) {
	a := NewByteRate(1, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := a.Record(ctx, 1); err != nil {
		t.Fatalf("first byte must be admitted: %v", err)
	}
	// Bucket is empty and refills at 1 B/s; the context expires first.
	if err := a.Record(ctx, 1); err == nil {
		t.Fatal("expected context expiry while throttled")
	}
}

func TestByteRateOversizedRequest(t *testing.T) {
	a := NewByteRate(1024, 16)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// Larger than the burst: charged the full burst but still admitted.
	if err := a.Record(ctx, 1<<20); err != nil {
		t.Fatalf("oversized request must be throttled, not rejected: %v", err)
	}
}

func TestZeroBytesFree(t *testing.T) {
	a := NewByteRate(1, 1)
	ctx := context.Background()
	if err := a.Record(ctx, 0); err != nil {
		t.Fatalf("zero bytes must not consume quota: %v", err)
	}
	if err := a.Record(ctx, -5); err != nil {
		t.Fatalf("negative bytes must be ignored: %v", err)
	}
}
