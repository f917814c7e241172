package swarm

import (
	"sync"
	"time"
)

// Feedback is ignored for this long after a change so a burst of throttled units counts
// as one congestion signal.
const dampening = 100 * time.Millisecond

// AIMD adjusts a concurrency limit: additive increase on healthy completions,
// multiplicative decrease on throttling.
type AIMD struct {
	mu          sync.Mutex
	concurrency int
	minWorkers  int
	maxWorkers  int
	step        int
	healthy     time.Duration
	lastChange  time.Time
	now         func() time.Time
}

// NewAIMD starts at start and stays within [lo, hi]. Completions faster than healthy
// raise the limit by one.
func NewAIMD(start, lo, hi int, healthy time.Duration) *AIMD {
	lo = max(lo, 1)
	hi = max(hi, lo)
	return &AIMD{
		concurrency: clamp(start, lo, hi),
		minWorkers:  lo,
		maxWorkers:  hi,
		step:        1,
		healthy:     healthy,
		lastChange:  time.Now(),
		now:         time.Now,
	}
}

func (a *AIMD) GetConcurrency() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.concurrency
}

func (a *AIMD) Feedback(lat time.Duration, throttled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	if now.Sub(a.lastChange) < dampening {
		return
	}

	if throttled {
		a.concurrency = clamp(a.concurrency/2, a.minWorkers, a.maxWorkers)
		a.lastChange = now
		return
	}

	if lat < a.healthy && a.concurrency < a.maxWorkers {
		a.concurrency = clamp(a.concurrency+a.step, a.minWorkers, a.maxWorkers)
		a.lastChange = now
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
