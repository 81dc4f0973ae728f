package queue

import (
	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/wire"
)

// ConnectionQueues holds the five per-priority FIFOs belonging to one
// connection (§3 ConnectionQueues).
type ConnectionQueues struct {
	levels [wire.NumPriorities]FIFO[*buffer.Lease]
}

// NewConnectionQueues builds an empty set of per-priority queues.
func NewConnectionQueues() *ConnectionQueues {
	return &ConnectionQueues{}
}

// Enqueue appends lease to the queue for priority p.
func (q *ConnectionQueues) Enqueue(p wire.Priority, lease *buffer.Lease) {
	q.levels[p].Enqueue(lease)
}

// TryDequeue pops the head lease for priority p, if any.
func (q *ConnectionQueues) TryDequeue(p wire.Priority) (*buffer.Lease, bool) {
	return q.levels[p].TryDequeue()
}

// IsEmpty reports whether priority p's queue is empty.
func (q *ConnectionQueues) IsEmpty(p wire.Priority) bool {
	return q.levels[p].IsEmpty()
}

// HighestNonEmpty returns the highest priority with at least one
// queued lease, and whether any priority has queued work at all.
func (q *ConnectionQueues) HighestNonEmpty() (wire.Priority, bool) {
	for p := wire.Priority(wire.NumPriorities - 1); ; p-- {
		if !q.levels[p].IsEmpty() {
			return p, true
		}
		if p == wire.PriorityNone {
			break
		}
	}
	return wire.PriorityNone, false
}

// DrainAll empties every priority level, returning the leases removed
// (lowest priority first), for connection-close cleanup.
func (q *ConnectionQueues) DrainAll() []*buffer.Lease {
	var all []*buffer.Lease
	for p := 0; p < wire.NumPriorities; p++ {
		all = append(all, q.levels[p].Drain()...)
	}
	return all
}
