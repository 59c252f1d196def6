package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestWaitAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter(3, 0, 0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := rl.Wait(ctx); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if rl.tryAcquire() {
		t.Error("fourth request inside the same second should be refused")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1, 1, 1)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Error("expected context error while the minute window is exhausted")
	}
}
