// Package sequence provides bounded monotonic counters for frame numbering.
package sequence

import (
	"fmt"
	"sync"
)

// MaxUint32 is the upper bound used for wire sequence numbers.
const MaxUint32 = 1<<32 - 1

// Counter is a value constrained to [min, max]. Out-of-range increments are
// rejected and leave the value unchanged.
type Counter struct {
	mu    sync.Mutex
	value int64
	min   int64
	max   int64
}

// New returns a counter starting at initial. It panics if the bounds are
// inverted or initial lies outside them.
func New(initial, min, max int64) *Counter {
	if min > max || initial < min || initial > max {
		panic(fmt.Sprintf("sequence: invalid counter %d in [%d, %d]", initial, min, max))
	}
	return &Counter{value: initial, min: min, max: max}
}

// NewUint32 returns a counter over the wire sequence number range starting at 0.
func NewUint32() *Counter {
	return New(0, 0, MaxUint32)
}

// Value returns the current value.
func (c *Counter) Value() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Increment adds by to the counter and returns the new value. ok is false when
// the result would leave the range or overflow.
func (c *Counter) Increment(by int64) (value int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.value + by
	if (by > 0 && next < c.value) || (by < 0 && next > c.value) {
		return c.value, false
	}
	if next < c.min || next > c.max {
		return c.value, false
	}
	c.value = next
	return next, true
}

// Reset sets the counter back to its minimum.
func (c *Counter) Reset() {
	c.mu.Lock()
	c.value = c.min
	c.mu.Unlock()
}

// Set overwrites the value if it lies within range.
func (c *Counter) Set(v int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v < c.min || v > c.max {
		return false
	}
	c.value = v
	return true
}
