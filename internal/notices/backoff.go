package notices

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// Backoff implements jittered exponential retry timing. One policy object is
// shared by the fetcher, translator, and dispatcher call sites so the retry
// budget is tuned in a single place.
type Backoff struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewBackoff builds a policy. Non-positive arguments fall back to the
// defaults: 3 attempts, 250ms base delay, 5s cap.
func NewBackoff(maxAttempts int, baseDelay, maxDelay time.Duration) *Backoff {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Backoff{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// MaxAttempts reports the attempt budget.
func (b *Backoff) MaxAttempts() int {
	return b.maxAttempts
}

// ShouldRetry decides whether another attempt is allowed. Callers classify
// permanence themselves before asking; this only enforces the budget and
// cancellation.
func (b *Backoff) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= b.maxAttempts-1 {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Delay returns the wait duration before the next attempt: exponential from
// the base, capped, with half the delay randomized.
func (b *Backoff) Delay(attempt int) time.Duration {
	delay := float64(b.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Sleep waits for d or until ctx is done, whichever comes first.
func (b *Backoff) Sleep(ctx context.Context, d time.Duration) error {
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

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
