package retry

import (
	"context"
	"errors"
	"time"
)

// Hinted is implemented by errors that carry a server-provided wait, such as
// an HTTP Retry-After header.
type Hinted interface {
	RetryAfter() (time.Duration, bool)
}

// Policy configures retries for transient failures.
type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff. Zero means no cap.
	MaxDelay time.Duration
	// Retryable reports whether err should be retried. Nil retries nothing.
	Retryable func(error) bool
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry observes each scheduled retry.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Default returns 3 retries with 1s, 2s, 4s backoff.
func Default(retryable func(error) bool) Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Retryable:  retryable,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or the retry
// budget is spent. The last error is returned unchanged.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}

		delay := p.Delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

// Delay returns the wait before retry number attempt+1.
func (p Policy) Delay(attempt int, err error) time.Duration {
	var hinted Hinted
	if errors.As(err, &hinted) {
		if d, ok := hinted.RetryAfter(); ok && d >= 0 {
			return d
		}
	}
	delay := p.BaseDelay << attempt
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay <= 0) {
		delay = p.MaxDelay
	}
	return delay
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d, returning early with ctx.Err() when ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
