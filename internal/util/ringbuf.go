package util

import "sync"

// RingBuffer keeps the newest items up to a fixed capacity. Safe for
// concurrent use.
type RingBuffer[T any] struct {
	mu   sync.RWMutex
	buf  []T
	next int
	full bool
}

func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer[T]{buf: make([]T, capacity)}
}

// Push stores item, evicting the oldest when full.
func (r *RingBuffer[T]) Push(item T) {
	r.mu.Lock()
	r.buf[r.next] = item
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

// Snapshot returns every item, oldest first.
func (r *RingBuffer[T]) Snapshot() []T {
	return r.Filter(nil, -1)
}

// Filter returns the newest n items for which keep is true, oldest first.
// A nil keep matches everything; n < 0 means no limit.
func (r *RingBuffer[T]) Filter(keep func(T) bool, n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.lenLocked()
	if n < 0 || n > size {
		n = size
	}
	out := make([]T, 0, n)
	// Walk newest to oldest, then reverse.
	for i := 1; i <= size && len(out) < n; i++ {
		item := r.buf[(r.next-i+len(r.buf))%len(r.buf)]
		if keep == nil || keep(item) {
			out = append(out, item)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (r *RingBuffer[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *RingBuffer[T]) lenLocked() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}
