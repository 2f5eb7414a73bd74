// Package job holds queue-side policy for enhancement jobs: lease sizing,
// availability notifications, and the per-job phase state machine.
package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// Lease bounds. Leases under a second cannot be expressed in the queue's
// whole-second interval arithmetic; leases over an hour hide dead workers.
const (
	MinLease = time.Second
	MaxLease = time.Hour
)

// LeaseSource identifies how a lease duration was resolved.
type LeaseSource string

const (
	// LeaseSourceExplicit indicates the caller supplied a usable duration.
	LeaseSourceExplicit LeaseSource = "explicit"
	// LeaseSourceDefault indicates the default duration was used.
	LeaseSourceDefault LeaseSource = "default"
	// LeaseSourceClamped indicates the requested duration was pulled into [MinLease, MaxLease].
	LeaseSourceClamped LeaseSource = "clamped"
)

// LeasePolicy turns requested lease durations into the whole seconds stored on a job.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: clampLease(defaultLease)}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// LeaseDecision captures the outcome of resolving a lease request.
type LeaseDecision struct {
	Seconds   int
	Source    LeaseSource
	Requested time.Duration
}

// Duration returns the resolved lease.
func (d LeaseDecision) Duration() time.Duration {
	return time.Duration(d.Seconds) * time.Second
}

// Resolve maps a request to whole seconds. Zero selects the default; anything
// outside the bounds is clamped.
func (p *LeasePolicy) Resolve(request time.Duration) LeaseDecision {
	decision := LeaseDecision{Requested: request}
	if request == 0 {
		decision.Seconds = int(p.Default() / time.Second)
		decision.Source = LeaseSourceDefault
		return decision
	}

	clamped := clampLease(request)
	decision.Seconds = int(clamped / time.Second)
	decision.Source = LeaseSourceExplicit
	if clamped != request.Truncate(time.Second) {
		decision.Source = LeaseSourceClamped
	}
	return decision
}

func clampLease(d time.Duration) time.Duration {
	switch {
	case d < MinLease:
		return MinLease
	case d > MaxLease:
		return MaxLease
	default:
		return d.Truncate(time.Second)
	}
}

// RedeliveryDelay is the backoff applied before a released job becomes visible again:
// base doubled per prior delivery, capped at maxDelay.
func RedeliveryDelay(retryCount int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if maxDelay > 0 && d >= maxDelay {
			return maxDelay
		}
	}
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
