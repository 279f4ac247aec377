package log

import (
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !rl.Allow("parse-error", now) {
			t.Fatalf("Allow #%d = false, want true", i)
		}
	}
	if rl.Allow("parse-error", now) {
		t.Error("Allow on 4th call = true, want false (window limit is 3)")
	}
	if rl.Suppressed() != 1 {
		t.Errorf("Suppressed() = %d, want 1", rl.Suppressed())
	}
}

func TestRateLimiterResetsOnWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)
	now := time.Now()

	if !rl.Allow("bad-state", now) {
		t.Fatal("first Allow = false, want true")
	}
	if rl.Allow("bad-state", now) {
		t.Fatal("second Allow within window = true, want false")
	}
	if !rl.Allow("bad-state", now.Add(20*time.Millisecond)) {
		t.Error("Allow after window expiry = false, want true")
	}
}

func TestRateLimiterDisabledWhenMaxIsZero(t *testing.T) {
	rl := NewRateLimiter(0, time.Second)
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !rl.Allow("tx-failure", now) {
			t.Fatalf("Allow #%d = false with limiting disabled, want true", i)
		}
	}
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	now := time.Now()

	if !rl.Allow("parse-error", now) {
		t.Fatal("first parse-error Allow = false")
	}
	if !rl.Allow("tx-failure", now) {
		t.Fatal("tx-failure Allow = false, want true (independent key)")
	}
	if rl.Allow("parse-error", now) {
		t.Error("second parse-error Allow = true, want false")
	}
}
