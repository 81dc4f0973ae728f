package queue

import (
	"sync/atomic"

	"github.com/ppn-systems/nalix/wire"
)

// ConnectionState tracks approximate per-connection queue depths
// (§3 ConnectionState). The counters may be transiently off by one
// relative to the actual queue contents under concurrent push/pull;
// correctness never depends on them, only on the queues themselves.
type ConnectionState struct {
	approxTotal      atomic.Int32
	approxByPriority [wire.NumPriorities]atomic.Int32
}

// Total returns the approximate total queued count.
func (s *ConnectionState) Total() int32 { return s.approxTotal.Load() }

// ByPriority returns the approximate queued count for priority p.
func (s *ConnectionState) ByPriority(p wire.Priority) int32 {
	return s.approxByPriority[p].Load()
}

// Inc bumps both the total and per-priority counters by delta
// (negative to decrement) around an enqueue/dequeue/eviction.
func (s *ConnectionState) Inc(p wire.Priority, delta int32) {
	s.approxTotal.Add(delta)
	s.approxByPriority[p].Add(delta)
}
