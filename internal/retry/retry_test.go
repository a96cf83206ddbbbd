package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var errFlaky = errors.New("flaky server")

func TestPolicyDoSucceedsFirstTime(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 10, Delay: time.Hour}.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicyDoRetriesWithFixedDelay(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	calls := 0
	done := make(chan error, 1)
	p := Policy{Attempts: 10, Delay: 10 * time.Second, Clock: clock}
	go func() {
		done <- p.Do(ctx, func(context.Context) error {
			calls++
			if calls < 4 {
				return errFlaky
			}
			return nil
		})
	}()

	for i := 0; i < 3; i++ {
		if err := clock.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("waiting for sleeper: %v", err)
		}
		clock.Advance(10 * time.Second)
	}

	if err := <-done; err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestPolicyDoGivesUp(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 10, Delay: 0}.Do(context.Background(), func(context.Context) error {
		calls++
		return errFlaky
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("Do() error = %v, want %v", err, errFlaky)
	}
	if calls != 10 {
		t.Errorf("calls = %d, want 10", calls)
	}
}

func TestPolicyDoStopsOnPermanent(t *testing.T) {
	calls := 0
	err := Policy{Attempts: 10, Retryable: IsTransient}.Do(context.Background(), func(context.Context) error {
		calls++
		return Permanent(errFlaky)
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("Do() error = %v, want %v", err, errFlaky)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicyDoStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Policy{Attempts: 10, Delay: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPolicyOnRetry(t *testing.T) {
	var attempts []int
	p := Policy{Attempts: 3, OnRetry: func(attempt int, _ error) { attempts = append(attempts, attempt) }}
	_ = p.Do(context.Background(), func(context.Context) error { return errFlaky })
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestOnceDoesNotWrap(t *testing.T) {
	err := Once.Do(context.Background(), func(context.Context) error { return errFlaky })
	if err != errFlaky {
		t.Errorf("Do() error = %v, want unwrapped %v", err, errFlaky)
	}
}
