package infra

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRateLimiterBurstThenRefill(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := rl.Acquire(ctx, 1); err != nil {
			t.Fatalf("burst acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("burst acquires should be immediate, took %v", elapsed)
	}

	// Third acquire must wait roughly one refill interval.
	start = time.Now()
	if err := rl.Acquire(ctx, 1); err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("third acquire returned too early: %v", elapsed)
	}
}

func TestRateLimiterConcurrentAcquires(t *testing.T) {
	rl := NewRateLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	const n = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	var durations []time.Duration
	start := time.Now()

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Acquire(ctx, 1); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			durations = append(durations, time.Since(start))
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(durations) != n {
		t.Fatalf("expected %d successful acquires, got %d", n, len(durations))
	}

	// With capacity 2 and one token per 50ms, the last acquire cannot
	// complete before 3 refill periods have passed.
	var last time.Duration
	for _, d := range durations {
		if d > last {
			last = d
		}
	}
	if last < 130*time.Millisecond {
		t.Errorf("last of %d acquires finished at %v, expected >= 130ms", n, last)
	}
}

func TestRateLimiterDeadlineTimeout(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	ctx := context.Background()

	if err := rl.Acquire(ctx, 1); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := rl.Acquire(waitCtx, 1)
	if !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("expected ErrRateLimitTimeout, got %v", err)
	}
}

func TestRateLimiterCancel(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	if err := rl.Acquire(context.Background(), 1); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rl.Acquire(ctx, 1) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after cancel")
	}
}

func TestRateLimiterNoDoubleSpend(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	ctx := context.Background()

	if err := rl.Acquire(ctx, 1); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	// A timed-out waiter must not consume the token it was waiting for.
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	_ = rl.Acquire(waitCtx, 1)
	cancel()

	if rl.TryAcquire(1) {
		t.Fatal("token appeared without a refill")
	}
}

func TestRateLimiterCostExceedsCapacity(t *testing.T) {
	rl := NewRateLimiter(2, time.Millisecond)
	if err := rl.Acquire(context.Background(), 3); err == nil {
		t.Fatal("expected error for cost above capacity")
	}
}

func TestTryAcquire(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)
	if !rl.TryAcquire(2) {
		t.Fatal("expected initial tokens available")
	}
	if rl.TryAcquire(1) {
		t.Fatal("expected bucket empty")
	}
}
