// Package queue implements the per-connection priority FIFOs (§4.3):
// five strictly-ordered queues per connection, one per priority level,
// plus the approximate atomic counters the ready-set dispatcher
// maintains around them.
package queue

import (
	"container/list"
	"sync"
)

// FIFO is a multi-producer/multi-consumer first-in-first-out queue.
// It is built on container/list behind a short-held mutex rather than
// a true lock-free structure: the correctness contract in the spec
// (strict FIFO order, O(1) push/pop) holds either way, and a
// mutex-guarded list keeps the implementation auditable in the way
// smux keeps its stream buffer list (stream.go, buffers []*[]byte)
// behind a plain sync.Mutex rather than hand-rolled atomics.
type FIFO[T any] struct {
	mu sync.Mutex
	l  list.List
}

// Enqueue appends v to the tail of the queue.
func (f *FIFO[T]) Enqueue(v T) {
	f.mu.Lock()
	f.l.PushBack(v)
	f.mu.Unlock()
}

// TryDequeue removes and returns the head of the queue, or the zero
// value and false if the queue is empty.
func (f *FIFO[T]) TryDequeue() (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.l.Front()
	if e == nil {
		var zero T
		return zero, false
	}
	f.l.Remove(e)
	return e.Value.(T), true
}

// IsEmpty reports whether the queue currently holds no elements.
func (f *FIFO[T]) IsEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.l.Len() == 0
}

// Len reports the current element count. Like the spec's approximate
// counters, this is a point-in-time snapshot under concurrent use.
func (f *FIFO[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.l.Len()
}

// Drain removes and returns every element currently queued, in FIFO
// order, leaving the queue empty. Used by connection cleanup.
func (f *FIFO[T]) Drain() []T {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]T, 0, f.l.Len())
	for e := f.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(T))
	}
	f.l.Init()
	return out
}
