package security

import (
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 2, nil)
	defer rl.Stop()

	if !rl.Allow("10.0.0.1") {
		t.Error("first request denied")
	}
	if !rl.Allow("10.0.0.1") {
		t.Error("second request within burst denied")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst allowed")
	}

	// Other identifiers get their own bucket.
	if !rl.Allow("10.0.0.2") {
		t.Error("separate identifier denied")
	}
}

func TestRateLimiter_ZeroRateDisables(t *testing.T) {
	rl := NewRateLimiter(0, 0, nil)
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatal("zero-rate limiter denied a request")
		}
	}
}

func TestRateLimiter_CleanupDropsIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	rl.Allow("10.0.0.1")

	rl.mu.Lock()
	rl.limiters["10.0.0.1"].lastAccess = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.limiters) != 0 {
		t.Errorf("idle entry survived cleanup, %d remaining", len(rl.limiters))
	}
}
