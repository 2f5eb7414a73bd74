package job

import (
	"fmt"
	"sync"
	"time"
)

// Phase is a state in a job's pipeline run.
type Phase string

const (
	PhaseQueued       Phase = "queued"
	PhaseGathering    Phase = "gathering"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseWriting      Phase = "writing"
	PhaseSucceeded    Phase = "succeeded"
	PhaseDegraded     Phase = "degraded"
	PhaseFailed       Phase = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (p Phase) Terminal() bool {
	return p == PhaseSucceeded || p == PhaseDegraded || p == PhaseFailed
}

// Any non-terminal phase may fail. Degraded is only reachable from Writing and
// only when gathering recorded a missing source.
var transitions = map[Phase][]Phase{
	PhaseQueued:       {PhaseGathering, PhaseFailed},
	PhaseGathering:    {PhaseSynthesizing, PhaseFailed},
	PhaseSynthesizing: {PhaseWriting, PhaseFailed},
	PhaseWriting:      {PhaseSucceeded, PhaseDegraded, PhaseFailed},
}

// TransitionError reports an illegal state change.
type TransitionError struct {
	From, To Phase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal phase transition %s -> %s", e.From, e.To)
}

// Tracker drives one job through its phases and records how long each took.
type Tracker struct {
	mu       sync.Mutex
	now      func() time.Time
	phase    Phase
	entered  time.Time
	degraded bool
	timings  map[Phase]time.Duration
}

// NewTracker starts a tracker in PhaseQueued. now may be nil.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		now:     now,
		phase:   PhaseQueued,
		entered: now(),
		timings: make(map[Phase]time.Duration, 4),
	}
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// MarkDegraded flags that gathering finished with missing sources. Only valid while gathering.
func (t *Tracker) MarkDegraded() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.phase != PhaseGathering {
		return &TransitionError{From: t.phase, To: PhaseDegraded}
	}
	t.degraded = true
	return nil
}

// Degraded reports whether gathering recorded missing sources.
func (t *Tracker) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}

// Advance moves to the next phase, closing the timing of the current one.
func (t *Tracker) Advance(next Phase) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.allowed(next) {
		return &TransitionError{From: t.phase, To: next}
	}
	now := t.now()
	if !t.phase.Terminal() && t.phase != PhaseQueued {
		t.timings[t.phase] += now.Sub(t.entered)
	}
	t.phase = next
	t.entered = now
	return nil
}

// Finish moves a job in Writing to Succeeded or Degraded depending on the gathering flag.
func (t *Tracker) Finish() (Phase, error) {
	next := PhaseSucceeded
	if t.Degraded() {
		next = PhaseDegraded
	}
	return next, t.Advance(next)
}

// Fail moves the job to Failed from any non-terminal phase.
func (t *Tracker) Fail() error {
	return t.Advance(PhaseFailed)
}

func (t *Tracker) allowed(next Phase) bool {
	if next == PhaseDegraded && !t.degraded {
		return false
	}
	for _, p := range transitions[t.phase] {
		if p == next {
			return true
		}
	}
	return false
}

// Timings returns per-phase durations keyed by phase name.
func (t *Tracker) Timings() map[string]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Duration, len(t.timings))
	for p, d := range t.timings {
		out[string(p)] = d
	}
	return out
}
