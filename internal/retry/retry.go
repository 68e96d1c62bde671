// Package retry runs operations against unreliable services with per-kind
// back-off.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Backoff describes the wait between two attempts.
type Backoff struct {
	// Base is the first delay. Zero means retry immediately.
	Base time.Duration
	// Max caps exponential growth. Zero means no cap.
	Max time.Duration
	// Exponential doubles the delay on every attempt when set.
	Exponential bool
	// Jitter is the maximum random delay added on top.
	Jitter time.Duration
}

// Fixed returns a constant back-off.
func Fixed(d time.Duration) Backoff {
	return Backoff{Base: d}
}

// Delay returns the wait after the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base
	if b.Exponential && attempt > 1 {
		shift := min(attempt-1, 30)
		d = b.Base << shift
		if b.Max > 0 && (d > b.Max || d < 0) {
			d = b.Max
		}
	}
	if b.Jitter > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(b.Jitter))); err == nil {
			d += time.Duration(n.Int64())
		}
	}
	return d
}

// Policy decides whether and how long to wait before retrying.
type Policy struct {
	// MaxAttempts bounds the total number of attempts. Zero means unbounded.
	MaxAttempts int
	// Transport is the back-off after transport failures.
	Transport Backoff
	// Validation is the back-off after malformed responses.
	Validation Backoff
	// Retryable reports whether err may be retried. Nil retries transport and
	// validation errors.
	Retryable func(error) bool
}

// DefaultPolicy retries forever: 30s after transport failures, 1s after
// validation failures.
func DefaultPolicy() Policy {
	return Policy{
		Transport:  Fixed(30 * time.Second),
		Validation: Fixed(time.Second),
	}
}

// Immediate returns a bounded policy with no waiting. Intended for tests.
func Immediate(maxAttempts int) Policy {
	return Policy{MaxAttempts: maxAttempts}
}

// Validate checks that the policy has valid values.
func (p Policy) Validate() error {
	if p.MaxAttempts < 0 {
		return errors.New("max attempts cannot be negative")
	}
	if p.Transport.Base < 0 || p.Validation.Base < 0 {
		return errors.New("backoff cannot be negative")
	}
	if p.Transport.Jitter < 0 || p.Validation.Jitter < 0 {
		return errors.New("jitter cannot be negative")
	}
	return nil
}

// ShouldRetry reports whether err is retryable under p.
func (p Policy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return apperrors.IsTransport(err) || apperrors.IsValidation(err)
}

// Exhausted reports whether attempt has used up the budget.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// BackoffFor returns the wait after a failed attempt, chosen by error kind.
func (p Policy) BackoffFor(err error, attempt int) time.Duration {
	if apperrors.IsTransport(err) {
		return p.Transport.Delay(attempt)
	}
	return p.Validation.Delay(attempt)
}

// Attempt describes a failed attempt that is about to be retried.
type Attempt struct {
	Number int
	Err    error
	Wait   time.Duration
}

// Do calls fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted. It returns the number of attempts made. onRetry, if set, is
// called before each wait.
func Do[T any](ctx context.Context, p Policy, onRetry func(Attempt), fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, attempt, nil
		}

		if !p.ShouldRetry(err) {
			return zero, attempt, err
		}
		if p.Exhausted(attempt) {
			return zero, attempt, fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := p.BackoffFor(err, attempt)
		if onRetry != nil {
			onRetry(Attempt{Number: attempt, Err: err, Wait: wait})
		}
		if err := Sleep(ctx, wait); err != nil {
			return zero, attempt, err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
