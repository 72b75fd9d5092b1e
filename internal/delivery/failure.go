package delivery

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// FailureInjector decides whether a delivery attempt should fail before the
// transport is called.
type FailureInjector interface {
	ShouldFail() bool
}

// RandomInjector fails attempts with a fixed probability.
type RandomInjector struct {
	mu          sync.Mutex
	rng         *rand.Rand
	probability float64
}

// NewRandomInjector creates a RandomInjector. Probabilities outside [0, 1] are clamped.
// A zero seed seeds from the clock.
func NewRandomInjector(probability float64, seed int64) *RandomInjector {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomInjector{
		rng:         rand.New(rand.NewSource(seed)),
		probability: probability,
	}
}

// ShouldFail implements FailureInjector.
func (r *RandomInjector) ShouldFail() bool {
	if r.probability <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() < r.probability
}

// Probability returns the configured failure probability.
func (r *RandomInjector) Probability() float64 {
	return r.probability
}

// FixedInjector replays a scripted sequence of outcomes, then repeats the last one.
// The zero value never fails.
type FixedInjector struct {
	outcomes []bool
	calls    atomic.Int64
}

// NewFixedInjector creates an injector that returns outcomes in order.
func NewFixedInjector(outcomes ...bool) *FixedInjector {
	return &FixedInjector{outcomes: outcomes}
}

// Never returns an injector that never fails.
func Never() *FixedInjector {
	return NewFixedInjector(false)
}

// Always returns an injector that always fails.
func Always() *FixedInjector {
	return NewFixedInjector(true)
}

// ShouldFail implements FailureInjector.
func (f *FixedInjector) ShouldFail() bool {
	n := f.calls.Add(1) - 1
	if len(f.outcomes) == 0 {
		return false
	}
	if int(n) >= len(f.outcomes) {
		return f.outcomes[len(f.outcomes)-1]
	}
	return f.outcomes[n]
}

// Calls reports how many times ShouldFail was called.
func (f *FixedInjector) Calls() int {
	return int(f.calls.Load())
}
