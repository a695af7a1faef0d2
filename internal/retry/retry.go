package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"workqueue/internal/logging"
	"workqueue/internal/services"
)

const (
	DefaultMaxRetries = 5
	defaultNapMin     = time.Second
	defaultNapMax     = 3 * time.Second
	defaultWindowMin  = 2 * time.Minute
	defaultWindowMax  = 3 * time.Minute
)

// Policy retries store mutations that fail with transient errors. Between
// attempts it waits a randomized window made of short randomized naps so a
// cancellation is observed promptly.
type Policy struct {
	MaxRetries int
	NapMin     time.Duration
	NapMax     time.Duration
	WindowMin  time.Duration
	WindowMax  time.Duration
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
	Logger    *slog.Logger
}

// Default returns the production policy: five retries after the first
// attempt, 1-3s naps, 2-3 minute windows, transient errors only.
func Default(logger *slog.Logger) Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		NapMin:     defaultNapMin,
		NapMax:     defaultNapMax,
		WindowMin:  defaultWindowMin,
		WindowMax:  defaultWindowMax,
		Retryable:  services.IsTransient,
		Logger:     logger,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, exhausts the
// retry budget, or ctx is canceled between attempts.
func (p Policy) Do(ctx context.Context, name string, op func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = services.IsTransient
	}
	logger := p.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := p.wait(ctx); err != nil {
				return err
			}
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		logger.Warn("store operation failed, will retry",
			logging.String("operation", name),
			logging.Int("attempt", attempt+1),
			logging.Int("max_retries", p.MaxRetries),
			logging.Error(lastErr),
			logging.String(logging.FieldEventType, "store_retry"),
		)
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", name, p.MaxRetries+1, lastErr)
}

func (p Policy) wait(ctx context.Context) error {
	window := between(p.WindowMin, p.WindowMax)
	deadline := time.Now().Add(window)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		nap := between(p.NapMin, p.NapMax)
		if nap > remaining {
			nap = remaining
		}
		timer := time.NewTimer(nap)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}
