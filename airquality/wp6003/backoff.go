package wp6003

import (
	"sync"
	"time"
)

// Backoff is a doubling delay bounded by a floor and a cap.
type Backoff struct {
	mu      sync.Mutex
	floor   time.Duration
	max     time.Duration
	current time.Duration
}

// NewBackoff returns a backoff starting at floor.
func NewBackoff(floor, max time.Duration) *Backoff {
	if max < floor {
		max = floor
	}
	return &Backoff{floor: floor, max: max, current: floor}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return d
}

// Current returns the delay Next would hand out.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Reset drops back to the floor.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.floor
}
