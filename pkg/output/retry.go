package output

import (
	"context"
	"fmt"
	"time"
)

// Backoff configures Retry.
type Backoff struct {
	MaxAttempts  int           // total attempts, values below 1 mean one
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry calls fn until it succeeds, attempts run out or ctx is done.
func Retry(ctx context.Context, b Backoff, fn func() error) error {
	if b.MaxAttempts < 1 {
		b.MaxAttempts = 1
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	if b.MaxDelay > 0 && b.MaxDelay < b.InitialDelay {
		b.MaxDelay = b.InitialDelay
	}

	var lastErr error
	delay := b.InitialDelay
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}
		if attempt == b.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}

		next := time.Duration(float64(delay) * b.Multiplier)
		if b.MaxDelay > 0 && next > b.MaxDelay {
			next = b.MaxDelay
		}
		delay = next
	}
	if b.MaxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("retry failed after %d attempts: %w", b.MaxAttempts, lastErr)
}
