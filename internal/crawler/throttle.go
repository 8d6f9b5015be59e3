package crawler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Delayer yields the politeness pause taken after each processed URL.
type Delayer interface {
	Delay() time.Duration
}

// FixedDelay always waits the same amount; zero disables throttling.
type FixedDelay time.Duration

// Delay implements Delayer.
func (d FixedDelay) Delay() time.Duration {
	return time.Duration(d)
}

// RandomDelay draws uniformly from [Min, Max].
type RandomDelay struct {
	min time.Duration
	max time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomDelay builds a uniform delay source. A nil rng is seeded randomly.
func NewRandomDelay(min, max time.Duration, rng *rand.Rand) *RandomDelay {
	if max < min {
		min, max = max, min
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomDelay{min: min, max: max, rng: rng}
}

// Delay implements Delayer.
func (r *RandomDelay) Delay() time.Duration {
	span := r.max - r.min
	if span <= 0 {
		return r.min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.min + time.Duration(r.rng.Int64N(int64(span)+1))
}

// sleep blocks for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
