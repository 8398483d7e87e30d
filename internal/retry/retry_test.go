package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestExecutor(maxAttempts int) (*Executor, *[]time.Duration) {
	e := New(maxAttempts, 100*time.Millisecond, time.Second)
	var slept []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestSucceedsFirstTry(t *testing.T) {
	e, slept := newTestExecutor(3)
	calls := 0
	if err := e.Do(context.Background(), func() error { calls++; return nil }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 1 || len(*slept) != 0 {
		t.Fatalf("calls=%d slept=%v", calls, *slept)
	}
}

func TestRetriesWithDoublingDelay(t *testing.T) {
	e, slept := newTestExecutor(4)
	calls := 0
	err := e.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*slept) != len(want) {
		t.Fatalf("slept = %v, want %v", *slept, want)
	}
	for i := range want {
		if (*slept)[i] != want[i] {
			t.Fatalf("delay %d = %v, want %v", i, (*slept)[i], want[i])
		}
	}
}

func TestStopsAtAttemptCeiling(t *testing.T) {
	e, _ := newTestExecutor(3)
	calls := 0
	boom := errors.New("boom")
	err := e.Do(context.Background(), func() error { calls++; return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the last operation error", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestRateLimitDoesNotConsumeAttempts(t *testing.T) {
	e, slept := newTestExecutor(2)
	rateLimited := errors.New("429")
	e.IsRateLimit = func(err error) bool { return errors.Is(err, rateLimited) }

	calls := 0
	err := e.Do(context.Background(), func() error {
		calls++
		switch calls {
		case 1, 2, 3:
			return rateLimited // three cooldowns, zero attempts burned
		case 4:
			return errors.New("transient") // first real attempt
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 5 {
		t.Fatalf("calls = %d, want 5", calls)
	}
	// Three fixed cooldowns followed by one backoff delay.
	if len(*slept) != 4 {
		t.Fatalf("sleeps = %v", *slept)
	}
	for i := 0; i < 3; i++ {
		if (*slept)[i] != time.Second {
			t.Fatalf("cooldown %d = %v, want 1s", i, (*slept)[i])
		}
	}
}

func TestPersistentRateLimitEventuallySurfaces(t *testing.T) {
	e, _ := newTestExecutor(2)
	rateLimited := errors.New("429")
	e.IsRateLimit = func(err error) bool { return errors.Is(err, rateLimited) }

	err := e.Do(context.Background(), func() error { return rateLimited })
	if !errors.Is(err, rateLimited) {
		t.Fatalf("err = %v, want the rate-limit error", err)
	}
}

func TestContextCancelStopsRetrying(t *testing.T) {
	e := New(5, time.Minute, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Do(ctx, func() error { return errors.New("transient") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
