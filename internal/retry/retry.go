package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const DefaultMaxDelay = 60 * time.Second

// Policy bounds a retry loop. Delay grows by Factor after each failed attempt.
type Policy struct {
	Attempts int
	Delay    time.Duration
	Factor   float64
	MaxDelay time.Duration

	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
	Logger    *slog.Logger
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &backoff.ExponentialBackOff{
		InitialInterval: p.Delay,
		Multiplier:      factor,
		MaxInterval:     maxDelay,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts run out
// or ctx is cancelled. The last error is returned wrapped.
func Do(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	calls := 0
	var permanent bool
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		calls++
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			permanent = true
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			if p.Logger != nil {
				p.Logger.Warn("attempt failed",
					slog.String("op", op),
					slog.Int("attempt", calls),
					slog.Int("max_attempts", attempts),
					slog.Duration("sleep", next),
					slog.Any("error", err),
				)
			}
		}),
	)

	switch {
	case err == nil:
		if calls > 1 && p.Logger != nil {
			p.Logger.Info("retry succeeded", slog.String("op", op), slog.Int("attempt", calls))
		}
		return nil
	case permanent:
		var perr *backoff.PermanentError
		if errors.As(err, &perr) {
			return perr.Unwrap()
		}
		return err
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return fmt.Errorf("%s cancelled after %d attempts: %w", op, calls, err)
	default:
		return fmt.Errorf("%s failed after %d attempts: %w", op, calls, err)
	}
}
