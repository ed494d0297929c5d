package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	got, err := RetryWithResult(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("overloaded")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("RetryWithResult: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
	if len(retried) != 2 {
		t.Errorf("OnRetry called %d times, want 2", len(retried))
	}
}

func TestRetryReturnsLastError(t *testing.T) {
	calls := 0
	last := errors.New("third")
	err := Retry(context.Background(), fastRetry(3), func() error {
		calls++
		if calls == 3 {
			return last
		}
		return errors.New("early")
	})
	if !errors.Is(err, last) {
		t.Errorf("err = %v, want last error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry(5)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	calls := 0
	cfg.OnRetry = func(int, error) { cancel() }
	err := Retry(ctx, cfg, func() error {
		calls++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 300 * time.Millisecond},
		{1, 600 * time.Millisecond},
		{2, 1200 * time.Millisecond},
		{10, 2 * time.Second},
	}
	for _, tt := range tests {
		if got := CalculateBackoff(tt.attempt, 300*time.Millisecond, 2*time.Second, 2); got != tt.want {
			t.Errorf("CalculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
