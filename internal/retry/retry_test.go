package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(r *Retryer) *Retryer {
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestDoStopsOnSuccess(t *testing.T) {
	r := noSleep(NewRetryer(3, time.Millisecond, 10*time.Millisecond))
	calls := 0
	err := r.Do(context.Background(), func(uint) (bool, error) {
		calls++
		if calls < 2 {
			return true, errors.New("transient")
		}
		return false, nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls=%d, want 2", calls)
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	r := noSleep(NewRetryer(2, time.Millisecond, 10*time.Millisecond))
	errT := errors.New("transient")
	var attempts []uint
	err := r.Do(context.Background(), func(a uint) (bool, error) {
		attempts = append(attempts, a)
		return true, errT
	})
	if !errors.Is(err, errT) {
		t.Fatalf("expected last error, got %v", err)
	}
	if len(attempts) != 3 {
		t.Errorf("attempts=%v, want 3 calls", attempts)
	}
}

func TestDoNoRetryReturnsImmediately(t *testing.T) {
	r := noSleep(NewRetryer(5, time.Millisecond, 10*time.Millisecond))
	errB := errors.New("blocked")
	calls := 0
	err := r.Do(context.Background(), func(uint) (bool, error) {
		calls++
		return false, errB
	})
	if err != errB || calls != 1 {
		t.Errorf("err=%v calls=%d, want blocked after 1 call", err, calls)
	}
}

func TestDoCancelledContext(t *testing.T) {
	r := NewRetryer(3, time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Do(ctx, func(uint) (bool, error) { return true, errors.New("x") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
