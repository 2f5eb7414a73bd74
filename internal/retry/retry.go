// Package retry provides the single retry policy used for outbound calls:
// a bounded number of attempts, a backoff curve, and a predicate deciding
// which errors are worth another attempt. Scheduling is delegated to
// cenkalti/backoff; this package adds the attempt cap, the retryable
// predicate, and server Retry-After hints on top.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxInterval caps Exponential when Max is unset.
const DefaultMaxInterval = 30 * time.Second

// Schedule produces a fresh backoff sequence for one Do call.
type Schedule interface {
	NewBackOff() backoff.BackOff
}

// Exponential grows the delay by Factor each attempt, capped at Max.
// Jitter in [0,1] randomizes the delay by up to that fraction either way.
type Exponential struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	Jitter float64
}

// NewBackOff implements Schedule.
func (e Exponential) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.Base
	b.Multiplier = e.Factor
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	b.MaxInterval = e.Max
	if b.MaxInterval <= 0 {
		b.MaxInterval = DefaultMaxInterval
	}
	b.RandomizationFactor = min(max(e.Jitter, 0), 1)
	// The attempt cap bounds the loop; elapsed time is bounded by ctx.
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Constant waits the same delay after every attempt.
type Constant time.Duration

// NewBackOff implements Schedule.
func (c Constant) NewBackOff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Duration(c))
}

// Linear waits n*step after the nth failed attempt, matching simple webhook sink retries.
type Linear time.Duration

// NewBackOff implements Schedule.
func (l Linear) NewBackOff() backoff.BackOff {
	return &linearBackOff{step: time.Duration(l)}
}

type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }

// RetryAfterer is implemented by errors that carry a server-provided retry hint.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Policy is the retry contract shared by the synthesis client, the ticket writer,
// the context sources, and the alert sinks.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first; values < 1 mean 1.
	MaxAttempts int
	// Backoff schedules the waits between attempts. Nil retries immediately.
	Backoff Schedule
	// Retryable decides whether an error deserves another attempt. Nil retries every error.
	Retryable func(error) bool
	// MaxRetryAfter caps server-provided hints. Zero accepts any hint.
	MaxRetryAfter time.Duration
	// OnRetry is invoked before sleeping; useful for logging and metrics.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// ExhaustedError reports that every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return "retries exhausted: " + e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Permanent wraps err so Do stops immediately and returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempt cap is hit,
// or ctx is done. The attempt number passed to fn is 1-based.
//
// Errors are returned unwrapped when they are not retryable; cap exhaustion returns an
// *ExhaustedError wrapping the last error. Cancellation returns the context error joined
// with the last attempt's error.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		attempt  int
		lastErr  error
		stopped  bool
		sleepErr error
	)

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsPermanent(err) || (p.Retryable != nil && !p.Retryable(err)) {
			stopped = true
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
	}

	timer := &sleepTimer{
		ctx:   ctx,
		sleep: sleep,
		fail: func(err error) {
			sleepErr = err
			cancel()
		},
		c: make(chan time.Time, 1),
	}

	err := backoff.RetryNotifyWithTimer(op, p.backOff(ctx, maxAttempts, &lastErr), notify, timer)
	switch {
	case err == nil:
		return nil
	case stopped:
		return unwrapPermanent(err)
	case sleepErr != nil:
		return joinLast(sleepErr, lastErr)
	case ctx.Err() != nil:
		return joinLast(ctx.Err(), lastErr)
	default:
		return &ExhaustedError{Attempts: attempt, Err: lastErr}
	}
}

func (p Policy) backOff(ctx context.Context, maxAttempts int, lastErr *error) backoff.BackOff {
	var inner backoff.BackOff = &backoff.ZeroBackOff{}
	if p.Backoff != nil {
		inner = p.Backoff.NewBackOff()
	}
	hinted := &hintedBackOff{BackOff: inner, lastErr: lastErr, maxHint: p.MaxRetryAfter}
	return backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(maxAttempts-1)), ctx)
}

// hintedBackOff stretches the scheduled delay to a server Retry-After hint.
type hintedBackOff struct {
	backoff.BackOff
	lastErr *error
	maxHint time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	d := h.BackOff.NextBackOff()
	if d == backoff.Stop {
		return d
	}
	var hint RetryAfterer
	if errors.As(*h.lastErr, &hint) {
		if ra := hint.RetryAfter(); ra > 0 {
			if h.maxHint > 0 && ra > h.maxHint {
				ra = h.maxHint
			}
			d = max(d, ra)
		}
	}
	return d
}

// sleepTimer runs the policy's Sleep in place of a wall-clock timer.
type sleepTimer struct {
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
	fail  func(error)
	c     chan time.Time
}

func (t *sleepTimer) Start(d time.Duration) {
	if err := t.sleep(t.ctx, d); err != nil {
		t.fail(err)
		return
	}
	t.c <- time.Now()
}

func (t *sleepTimer) Stop() {
	select {
	case <-t.c:
	default:
	}
}

func (t *sleepTimer) C() <-chan time.Time { return t.c }

func unwrapPermanent(err error) error {
	var p *backoff.PermanentError
	if errors.As(err, &p) && p == err {
		return p.Err
	}
	return err
}

func joinLast(cause, lastErr error) error {
	if lastErr == nil {
		return cause
	}
	return errors.Join(cause, lastErr)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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
