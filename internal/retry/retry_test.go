package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordSleep struct {
	delays []time.Duration
}

func (r *recordSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

var errTransient = errors.New("transient")

func TestDo_SucceedsAfterRetries(t *testing.T) {
	rec := &recordSleep{}
	calls := 0
	err := Do(context.Background(), Policy{
		MaxAttempts: 3,
		Backoff:     Exponential{Base: 100 * time.Millisecond, Factor: 2, Max: time.Second},
		Sleep:       rec.sleep,
	}, func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, rec.delays)
}

func TestDo_ExhaustsCap(t *testing.T) {
	rec := &recordSleep{}
	err := Do(context.Background(), Policy{MaxAttempts: 3, Backoff: Constant(time.Millisecond), Sleep: rec.sleep},
		func(context.Context, int) error { return errTransient })

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.ErrorIs(t, err, errTransient)
	assert.Len(t, rec.delays, 2)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	fatal := errors.New("bad request")
	err := Do(context.Background(), Policy{
		MaxAttempts: 5,
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
		Sleep:       (&recordSleep{}).sleep,
	}, func(context.Context, int) error {
		calls++
		return fatal
	})

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentUnwraps(t *testing.T) {
	base := errors.New("auth failed")
	err := Do(context.Background(), Policy{MaxAttempts: 3}, func(context.Context, int) error {
		return Permanent(base)
	})
	assert.Same(t, base, err)
	assert.NoError(t, Permanent(nil))
}

func TestDo_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, Sleep: func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}}, func(context.Context, int) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, calls)
}

func TestDo_HonoursRetryAfter(t *testing.T) {
	rec := &recordSleep{}
	_ = Do(context.Background(), Policy{
		MaxAttempts:   2,
		Backoff:       Constant(10 * time.Millisecond),
		MaxRetryAfter: 3 * time.Second,
		Sleep:         rec.sleep,
	}, func(context.Context, int) error {
		return &StatusError{StatusCode: http.StatusTooManyRequests, Status: "429", retryAfter: 10 * time.Second}
	})

	assert.Equal(t, []time.Duration{3 * time.Second}, rec.delays)
}

func TestExponential_NewBackOff(t *testing.T) {
	b := Exponential{Base: 500 * time.Millisecond, Factor: 2, Max: 8 * time.Second}.NewBackOff()
	want := []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, b.NextBackOff(), "attempt %d", i+1)
	}

	jittered := Exponential{Base: time.Second, Factor: 2, Jitter: 0.5}
	for range 20 {
		d := jittered.NewBackOff().NextBackOff()
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}

func TestExponential_DefaultsUnsetFields(t *testing.T) {
	b := Exponential{Base: 10 * time.Second}.NewBackOff()
	for range 10 {
		assert.LessOrEqual(t, b.NextBackOff(), DefaultMaxInterval)
	}
	assert.NotEqual(t, backoff.Stop, b.NextBackOff())
}

func TestLinear_NewBackOff(t *testing.T) {
	b := Linear(time.Second).NewBackOff()
	assert.Equal(t, time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 3*time.Second, b.NextBackOff())
	b.Reset()
	assert.Equal(t, time.Second, b.NextBackOff())
}

func TestDo_SingleAttemptDoesNotRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 1, Backoff: Constant(time.Hour)},
		func(context.Context, int) error {
			calls++
			return errTransient
		})

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 1, ex.Attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryReportsAttemptAndDelay(t *testing.T) {
	type call struct {
		attempt int
		delay   time.Duration
	}
	var got []call
	_ = Do(context.Background(), Policy{
		MaxAttempts: 3,
		Backoff:     Linear(time.Second),
		Sleep:       (&recordSleep{}).sleep,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			assert.ErrorIs(t, err, errTransient)
			got = append(got, call{attempt, delay})
		},
	}, func(context.Context, int) error { return errTransient })

	assert.Equal(t, []call{{1, time.Second}, {2, 2 * time.Second}}, got)
}

func TestDo_ContextDoneBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 3}, func(context.Context, int) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestIsPermanent(t *testing.T) {
	base := errors.New("boom")
	assert.True(t, IsPermanent(Permanent(base)))
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", Permanent(base))))
	assert.False(t, IsPermanent(base))
	assert.ErrorIs(t, Permanent(base), base)
}

func TestHTTPRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &StatusError{StatusCode: 429}, true},
		{"503", &StatusError{StatusCode: 503}, true},
		{"408", &StatusError{StatusCode: 408}, true},
		{"400", &StatusError{StatusCode: 400}, false},
		{"401", &StatusError{StatusCode: 401}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"other", errors.New("json: bad"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPRetryable(tt.err))
		})
	}
}

func TestNewStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(" upstream overloaded \n"))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	se := NewStatusError(resp)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "upstream overloaded", se.Body)
	assert.Equal(t, 7*time.Second, se.RetryAfter())
	assert.Contains(t, se.Error(), "upstream overloaded")
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	v := now.Add(30 * time.Second).Format(http.TimeFormat)
	assert.Equal(t, 30*time.Second, parseRetryAfter(v, now))
	assert.Zero(t, parseRetryAfter("garbage", now))
}
