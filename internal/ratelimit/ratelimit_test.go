package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func fixedClock(start time.Time) (*time.Time, func() time.Time) {
	t := start
	return &t, func() time.Time { return t }
}

func TestUnlimitedWhenRateZero(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 1000; i++ {
		if err := l.Allow("anyone"); err != nil {
			t.Fatalf("Allow #%d: %v", i, err)
		}
	}
}

func TestBurstThenLimited(t *testing.T) {
	l := NewLimiter(Config{Rate: 1, Burst: 3})
	_, clock := fixedClock(time.Now())
	l.now = clock

	for i := 0; i < 3; i++ {
		if err := l.Allow("c1"); err != nil {
			t.Fatalf("Allow within burst #%d: %v", i, err)
		}
	}
	if err := l.Allow("c1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRefillOverTime(t *testing.T) {
	l := NewLimiter(Config{Rate: 2, Burst: 2})
	now, clock := fixedClock(time.Now())
	l.now = clock

	if err := l.Allow("c1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("c1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("c1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("bucket should be empty, got %v", err)
	}

	// 2 tokens/sec: one second restores both.
	*now = now.Add(time.Second)
	if err := l.Allow("c1"); err != nil {
		t.Fatalf("after refill: %v", err)
	}
	if err := l.Allow("c1"); err != nil {
		t.Fatalf("after refill second token: %v", err)
	}
	if err := l.Allow("c1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after draining refill, got %v", err)
	}
}

func TestClientIsolation(t *testing.T) {
	l := NewLimiter(Config{Rate: 1, Burst: 1})
	_, clock := fixedClock(time.Now())
	l.now = clock

	if err := l.Allow("c1"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("c1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("c1 should be limited, got %v", err)
	}
	// A different client has its own full bucket.
	if err := l.Allow("c2"); err != nil {
		t.Fatalf("c2 should not be limited: %v", err)
	}
}

func TestDefaultBurst(t *testing.T) {
	l := NewLimiter(Config{Rate: 5})
	if l.burst != 10 {
		t.Errorf("burst = %v, want 10 (2x rate)", l.burst)
	}
	l = NewLimiter(Config{Rate: 0.1})
	if l.burst != 1 {
		t.Errorf("burst = %v, want floor of 1", l.burst)
	}
}

func TestStaleBucketsPruned(t *testing.T) {
	l := NewLimiter(Config{Rate: 1, Burst: 1})
	now, clock := fixedClock(time.Now())
	l.now = clock

	if err := l.Allow("old"); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(staleAfter + time.Minute)
	// New client arrival triggers the prune.
	if err := l.Allow("fresh"); err != nil {
		t.Fatal(err)
	}
	l.mu.Lock()
	_, exists := l.buckets["old"]
	l.mu.Unlock()
	if exists {
		t.Error("stale bucket was not pruned")
	}
}
