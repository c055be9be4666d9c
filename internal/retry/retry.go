package retry

import (
	"context"
	"errors"
	"math"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"

	"ytauto/internal/services"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
	defaultMultiplier  = 2.0
)

// Operation is a single attempt. attempt is 1-based.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Policy bounds how often a failing operation is re-attempted and how long
// to wait between attempts. The wait before retry n is
// BaseDelay * Multiplier^(n-1), capped at MaxDelay when MaxDelay > 0.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	// Retryable lists the kinds worth another attempt. Empty means the
	// transient provider kinds.
	Retryable []services.Kind
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns three attempts with a 2s doubling delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		Multiplier:  defaultMultiplier,
		Retryable:   DefaultRetryable(),
	}
}

// DefaultRetryable returns the kinds retried when a policy names none.
func DefaultRetryable() []services.Kind {
	return []services.Kind{services.KindRateLimited, services.KindProviderUnavailable}
}

// IsRetryable reports whether err should be re-attempted under p.
func (p Policy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	kinds := p.Retryable
	if len(kinds) == 0 {
		kinds = DefaultRetryable()
	}
	return slices.Contains(kinds, services.KindOf(err))
}

// Delay returns the wait before retry n (1-based).
func (p Policy) Delay(n int) time.Duration {
	p = p.normalized()
	if n < 1 || p.BaseDelay <= 0 {
		return 0
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

func (p Policy) backOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.MaxInterval = time.Duration(math.MaxInt64)
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1))
}

// Execute runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. It returns the number of attempts made. The
// returned error is a *services.Error carrying that count. Cancellation
// before an attempt or during a wait yields a Cancelled error.
func Execute[T any](ctx context.Context, p Policy, op Operation[T]) (T, int, error) {
	p = p.normalized()
	var (
		result   T
		attempts int
		lastErr  error
	)

	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		value, err := op(ctx, attempts)
		if err == nil {
			result = value
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !p.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempts, err, delay)
		}
	}

	err := backoff.RetryNotify(attempt, backoff.WithContext(p.backOff(), ctx), notify)
	if err == nil {
		return result, attempts, nil
	}

	var zero T
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, attempts, cancelled(ctxErr, lastErr, attempts)
	}
	return zero, attempts, services.Annotate(err, func(e *services.Error) {
		e.Attempts = attempts
	})
}

func cancelled(ctxErr, lastErr error, attempts int) error {
	cause := ctxErr
	if lastErr != nil {
		cause = errors.Join(ctxErr, lastErr)
	}
	return &services.Error{
		Kind:     services.KindCancelled,
		Message:  "cancelled while retrying",
		Attempts: attempts,
		Err:      cause,
	}
}
