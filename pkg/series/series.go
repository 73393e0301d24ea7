// Package series holds the bounded sample history backing the live charts.
package series

import "sync"

// Sample is one point of a series. X is seconds elapsed since process start.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Buffer is a capacity-bounded FIFO of samples. Index 0 is the oldest.
// All methods are safe for concurrent use; each holds the lock only for
// the duration of the call.
type Buffer struct {
	mu       sync.RWMutex
	values   []Sample
	capacity int
}

func NewBuffer(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{values: make([]Sample, 0, capacity), capacity: capacity}
}

// Append adds s to the end and evicts from the front while the buffer
// is over capacity.
func (b *Buffer) Append(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = append(b.values, s)
	b.evictLocked()
}

// SetCapacity changes the capacity, evicting the oldest samples if the
// buffer is now over it. It returns how many samples were evicted.
func (b *Buffer) SetCapacity(n int) int {
	if n < 0 {
		n = 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = n
	return b.evictLocked()
}

// Clear empties the buffer; capacity is unchanged.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values = b.values[:0]
}

// Snapshot returns a copy of the current content, oldest first.
func (b *Buffer) Snapshot() []Sample {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Sample, len(b.values))
	copy(out, b.values)
	return out
}

// Last returns the newest sample, if any.
func (b *Buffer) Last() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.values) == 0 {
		return Sample{}, false
	}
	return b.values[len(b.values)-1], true
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}

func (b *Buffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

// evictLocked drops the oldest samples until len <= capacity.
// Shifting in place keeps the backing array from growing unbounded;
// capacities are in the low hundreds so the copy is cheap.
func (b *Buffer) evictLocked() int {
	over := len(b.values) - b.capacity
	if over <= 0 {
		return 0
	}
	n := copy(b.values, b.values[over:])
	clear(b.values[n:])
	b.values = b.values[:n]
	return over
}
