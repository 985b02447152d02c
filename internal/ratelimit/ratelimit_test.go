package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("acme"); err != nil {
			t.Fatalf("unlimited limiter rejected request %d: %v", i, err)
		}
	}
}

func TestAllow_BurstExhaustion(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("acme"); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
	if err := l.Allow("acme"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestAllow_Refill(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	base := time.Now()
	l.now = func() time.Time { return base }

	if err := l.Allow("acme"); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}
	if err := l.Allow("acme"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// 60 rpm = one token per second.
	l.now = func() time.Time { return base.Add(time.Second) }
	if err := l.Allow("acme"); err != nil {
		t.Fatalf("refilled request rejected: %v", err)
	}
}

func TestAllow_TenantsIsolated(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("acme"); err != nil {
		t.Fatalf("acme rejected: %v", err)
	}
	if err := l.Allow("acme"); !errors.Is(err, ErrRateLimited) {
		t.Fatal("acme should be exhausted")
	}
	if err := l.Allow("globex"); err != nil {
		t.Fatalf("globex should have its own bucket: %v", err)
	}
}
