package syncer

import (
	"math/rand"
	"sync"
	"time"
)

// backoff computes reconnect delays. The wait window doubles per
// attempt up to a cap and the actual pause is drawn uniformly from the
// window, so simultaneous clients spread their redials (full jitter).
type backoff struct {
	base time.Duration
	max  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func newBackoff(base, max time.Duration) *backoff {
	return &backoff{
		base: base,
		max:  max,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// window returns the undithered wait for the given attempt, 1-based.
func (b *backoff) window(attempt int) time.Duration {
	window := b.base
	for i := 1; i < attempt; i++ {
		window *= 2
		if window >= b.max {
			return b.max
		}
	}
	if window > b.max {
		return b.max
	}

	return window
}

// delay draws the pause before the given attempt from (0, window].
func (b *backoff) delay(attempt int) time.Duration {
	window := b.window(attempt)
	if window <= 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	return time.Duration(b.rng.Int63n(int64(window))) + 1
}
