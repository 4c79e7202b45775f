// Package ringbuf provides a fixed-capacity ring buffer that overwrites its
// oldest entry when full. The gateway keeps one per channel so clients can
// backfill envelopes they missed.
package ringbuf

import "sync"

// Ring holds the most recent Cap() values pushed. Size is a power of two
// for fast bitwise modulo. Safe for concurrent use.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	mask uint64
	head uint64 // total pushes
}

// New creates a ring. capacity is rounded up to the next power of two.
// Minimum capacity is 2.
func New[T any](capacity int) *Ring[T] {
	n := nextPow2(capacity)
	if n < 2 {
		n = 2
	}
	return &Ring[T]{buf: make([]T, n), mask: uint64(n - 1)}
}

// Push appends v, overwriting the oldest value when full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	r.buf[r.head&r.mask] = v
	r.head++
	r.mu.Unlock()
}

// Len returns the number of values held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len()
}

func (r *Ring[T]) len() int {
	if r.head < uint64(len(r.buf)) {
		return int(r.head)
	}
	return len(r.buf)
}

// Cap returns the buffer capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Overwritten returns how many values were pushed out by newer ones.
func (r *Ring[T]) Overwritten() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.head - uint64(r.len())
}

// Select returns the held values for which keep reports true, oldest
// first. A nil keep selects everything.
func (r *Ring[T]) Select(keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := uint64(r.len())
	var out []T
	for i := r.head - n; i < r.head; i++ {
		v := r.buf[i&r.mask]
		if keep == nil || keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
