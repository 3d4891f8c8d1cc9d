// Package resilience holds the retry schedules shared by the reference
// store connection and the per-faction resolver, and the fault
// classification used by the upstream lookup client.
package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Backoff yields the wait before retry number attempt (1-based).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// Linear waits Base, 2*Base, 3*Base... between attempts.
type Linear struct {
	Base time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	if attempt < 1 || l.Base <= 0 {
		return 0
	}
	return l.Base * time.Duration(attempt)
}

// Exponential doubles from Initial up to Max, with Jitter as a fraction of
// the delay (0.25 = ±25%).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 || e.Initial <= 0 {
		return 0
	}
	d := e.Initial
	for i := 1; i < attempt && (e.Max <= 0 || d < e.Max); i++ {
		d *= 2
	}
	if e.Max > 0 && d > e.Max {
		d = e.Max
	}
	if e.Jitter > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * e.Jitter * float64(d))
	}
	return max(d, 0)
}

// Policy bounds a retried operation.
type Policy struct {
	// Attempts is the total number of tries; 1 disables retrying.
	Attempts int
	Backoff  Backoff
	// Retryable decides whether a failure is worth another try. Nil means
	// IsTransient.
	Retryable func(err error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error)
}

// ConnectPolicy is the schedule for reaching the reference store: attempts
// tries starting backoffMs apart and doubling, capped at a minute.
// Non-positive values fall back to 5 attempts and 10s.
func ConnectPolicy(attempts, backoffMs int) Policy {
	if attempts <= 0 {
		attempts = 5
	}
	initial := 10 * time.Second
	if backoffMs > 0 {
		initial = time.Duration(backoffMs) * time.Millisecond
	}
	return Policy{
		Attempts: attempts,
		Backoff:  Exponential{Initial: initial, Max: max(initial, time.Minute), Jitter: 0.25},
	}
}

// Retry runs fn until it succeeds, fails with a non-retryable error, runs
// out of attempts or ctx is done. The last error is returned unchanged.
func Retry[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	attempts := max(p.Attempts, 1)

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if attempt >= attempts || ctx.Err() != nil || !retryable(err) {
			return zero, err
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff.Delay(attempt)
		}
		if serr := Sleep(ctx, wait); serr != nil {
			return zero, err
		}
	}
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter
// case.
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

// LogRetry returns an OnRetry callback that warns about each retry.
func LogRetry(component, op string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying",
			zap.String("component", component),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
