package session

import (
	"strings"
	"testing"
	"time"
)

func TestRateLimiter_AllowsUpToMax(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(time.Minute, 3)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		allowed, _ := rl.Allow()
		if !allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		now = now.Add(time.Second)
	}

	allowed, reason := rl.Allow()
	if allowed {
		t.Fatal("request 4: expected rejection")
	}
	if !strings.Contains(reason, "rate limit") {
		t.Errorf("reason = %q, want rate limit mention", reason)
	}
}

func TestRateLimiter_ResetsAfterQuietWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(time.Minute, 2)
	rl.now = func() time.Time { return now }

	rl.Allow()
	rl.Allow()
	if allowed, _ := rl.Allow(); allowed {
		t.Fatal("third request within window should be rejected")
	}

	// More than a full window of silence resets the counter.
	now = now.Add(time.Minute + time.Second)
	if allowed, _ := rl.Allow(); !allowed {
		t.Fatal("request after quiet window should be allowed")
	}
}

func TestRateLimiter_RejectionsKeepWindowAlive(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(time.Minute, 1)
	rl.now = func() time.Time { return now }

	rl.Allow()

	// Hammering inside the window never resets it.
	for i := 0; i < 5; i++ {
		now = now.Add(30 * time.Second)
		if allowed, _ := rl.Allow(); allowed {
			t.Fatalf("attempt %d: expected rejection while window stays hot", i+1)
		}
	}
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for i := 0; i < DefaultRateLimitMax; i++ {
		if allowed, _ := rl.Allow(); !allowed {
			t.Fatalf("request %d should be allowed under defaults", i+1)
		}
	}
	if allowed, _ := rl.Allow(); allowed {
		t.Fatalf("request %d should exceed the default cap", DefaultRateLimitMax+1)
	}
}
