package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:     maxRetries,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestWithExponentialBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	op := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	}

	if err := WithExponentialBackoff(context.Background(), fastConfig(5), op); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithExponentialBackoff_ExhaustsRetries(t *testing.T) {
	attempts := 0
	expectedErr := errors.New("unable to open database file")
	op := func(ctx context.Context) error {
		attempts++
		return expectedErr
	}

	err := WithExponentialBackoff(context.Background(), fastConfig(3), op)
	if attempts != 4 {
		t.Errorf("expected 4 attempts (1 initial + 3 retries), got %d", attempts)
	}
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected wrapped error to be %v, got %v", expectedErr, err)
	}
}

func TestWithExponentialBackoff_PermanentStopsImmediately(t *testing.T) {
	attempts := 0
	cause := errors.New("migration failed: no such column")
	op := func(ctx context.Context) error {
		attempts++
		return Permanent(cause)
	}

	err := WithExponentialBackoff(context.Background(), fastConfig(5), op)
	if attempts != 1 {
		t.Errorf("expected a single attempt, got %d", attempts)
	}
	if err != cause {
		t.Errorf("expected the unwrapped cause, got %v", err)
	}
}

func TestPermanent_Nil(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("expected Permanent(nil) to be nil")
	}
}

func TestWithExponentialBackoff_OnRetry(t *testing.T) {
	cfg := fastConfig(2)
	var seen []int
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		seen = append(seen, attempt)
		if wait <= 0 {
			t.Errorf("expected positive wait, got %v", wait)
		}
	}

	_ = WithExponentialBackoff(context.Background(), cfg, func(ctx context.Context) error {
		return errors.New("fail")
	})

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Errorf("expected retries [1 2], got %v", seen)
	}
}

func TestWithExponentialBackoff_ContextCancellation(t *testing.T) {
	cfg := Config{
		MaxRetries:     10,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	attempts := 0
	err := WithExponentialBackoff(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if attempts == 0 || attempts > 5 {
		t.Errorf("unexpected attempt count %d", attempts)
	}
}

func TestDo_ReturnsValue(t *testing.T) {
	attempts := 0
	got, err := Do(context.Background(), fastConfig(3), func(ctx context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("not yet")
		}
		return "ready", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ready" {
		t.Errorf("expected ready, got %q", got)
	}
}

func TestCalculateBackoff_ExponentialGrowth(t *testing.T) {
	cfg := Config{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}

	tests := []struct {
		retryNumber int
		want        time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("retry_%d", tt.retryNumber), func(t *testing.T) {
			if got := calculateBackoff(tt.retryNumber, cfg); got != tt.want {
				t.Errorf("calculateBackoff(%d) = %v, want %v", tt.retryNumber, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoff_WithJitter(t *testing.T) {
	cfg := Config{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         true,
	}

	base := 4 * time.Second
	low := time.Duration(float64(base) * 0.75)
	high := time.Duration(float64(base) * 1.25)
	for i := 0; i < 20; i++ {
		if backoff := calculateBackoff(3, cfg); backoff < low || backoff > high {
			t.Errorf("backoff %v outside expected range [%v, %v]", backoff, low, high)
		}
	}
}
