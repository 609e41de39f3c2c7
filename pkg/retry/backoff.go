package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Config holds the configuration for exponential backoff retry logic.
type Config struct {
	// MaxRetries is the maximum number of retry attempts.
	// Set to -1 for unlimited retries.
	MaxRetries int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Multiplier defaults to 2.0 when not positive.
	Multiplier float64

	// Jitter adds +-25% randomness to every wait.
	Jitter bool

	// OnRetry, when set, is called before each wait with the failed attempt
	// number, its error and the wait that follows.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Operation is a function that will be retried until it returns nil or a
// permanent error.
type Operation func(ctx context.Context) error

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. WithExponentialBackoff returns
// the wrapped error right away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// WithExponentialBackoff executes op with exponential backoff. It returns an
// error if all retries are exhausted, op fails permanently, or ctx is done.
func WithExponentialBackoff(ctx context.Context, cfg Config, op Operation) error {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}

	var attempt int
	for {
		attempt++

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if cfg.MaxRetries >= 0 && attempt > cfg.MaxRetries {
			return fmt.Errorf("operation failed after %d attempts: %w", attempt, err)
		}

		backoff := calculateBackoff(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
}

// Do is WithExponentialBackoff for operations that produce a value.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := WithExponentialBackoff(ctx, cfg, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// calculateBackoff returns initialBackoff * multiplier^(retryNumber-1),
// capped at MaxBackoff.
func calculateBackoff(retryNumber int, cfg Config) time.Duration {
	if retryNumber == 0 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(retryNumber-1))
	if cfg.MaxBackoff > 0 && backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}

	duration := time.Duration(backoff)

	if cfg.Jitter {
		jitterRange := float64(duration) * 0.25
		jitterAmount := (rand.Float64() * 2 * jitterRange) - jitterRange
		duration = time.Duration(float64(duration) + jitterAmount)

		if cfg.MaxBackoff > 0 && duration > cfg.MaxBackoff {
			duration = cfg.MaxBackoff
		}
		if duration < 0 {
			duration = 0
		}
	}

	return duration
}
