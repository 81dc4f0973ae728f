// Package dispatch implements the ready-set dispatch channel (§4.4),
// the hardest subsystem in the fabric: per-connection per-priority
// queues plus a global ready-set that lets a pull worker find a
// connection with pending work in O(1) instead of scanning every
// connection.
//
// The push/pull shape generalizes smux's single-session shaperLoop
// (github.com/sagernet/smux, session.go): where smux orders one
// connection's outbound writes with a container/heap keyed by
// priority, this channel orders many connections' inbound deliveries
// with one FIFO ready-queue per priority level, so "find a connection
// with pending URGENT work" never degrades into scanning every
// tracked connection.
package dispatch

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/identity"
	"github.com/ppn-systems/nalix/queue"
	"github.com/ppn-systems/nalix/wire"
)

// DropPolicy selects the backpressure behavior applied when a
// connection's queued lease count would exceed its configured cap.
type DropPolicy int

const (
	DropNewest DropPolicy = iota
	DropOldest
	Block
	Coalesce // identical to DropOldest; see design notes
)

// blockSpinBudget bounds how long Block spins before yielding the
// processor, avoiding a CPU burn on a persistently full queue.
const blockSpinBudget = 64

// Conn is the minimal identity contract a connection must satisfy to
// participate in the dispatch channel.
type Conn interface {
	ID() identity.Identifier
}

// entry bundles one tracked connection's per-priority queues and
// approximate counters.
type entry[C Conn] struct {
	conn   C
	queues *queue.ConnectionQueues
	state  *queue.ConnectionState
}

// Channel is the ready-set dispatch core for one shard (or, with
// ShardCount=1, the entire router).
type Channel[C Conn] struct {
	maxPerConn int32
	policy     DropPolicy

	mu      sync.Mutex
	entries map[identity.Identifier]*entry[C]

	readyMu    sync.Mutex
	readyQueue [wire.NumPriorities]queue.FIFO[identity.Identifier]
	// inReady tracks, per ready connection, the priority bucket it is
	// currently registered under (its high-water mark since the last
	// pop). A connection may briefly occupy more than one bucket's FIFO
	// when a later push raises its priority before it is pulled; see
	// ensureReady/popReady.
	inReady map[identity.Identifier]wire.Priority

	totalPackets atomic.Int64
}

// Options configures a Channel.
type Options struct {
	// MaxPerConnectionQueue bounds the total queued leases per
	// connection across all priorities. 0 means unbounded.
	MaxPerConnectionQueue int32
	// DropPolicy selects the backpressure behavior once the cap above
	// is reached.
	DropPolicy DropPolicy
}

// NewChannel builds an empty dispatch channel.
func NewChannel[C Conn](opts Options) *Channel[C] {
	return &Channel[C]{
		maxPerConn: opts.MaxPerConnectionQueue,
		policy:     opts.DropPolicy,
		entries:    make(map[identity.Identifier]*entry[C]),
		inReady:    make(map[identity.Identifier]wire.Priority),
	}
}

// TotalPackets returns the current best-effort total queued count
// across all tracked connections.
func (c *Channel[C]) TotalPackets() int64 { return c.totalPackets.Load() }

func (c *Channel[C]) getOrCreate(conn C) *entry[C] {
	id := conn.ID()
	c.mu.Lock()
	e, ok := c.entries[id]
	if !ok {
		e = &entry[C]{conn: conn, queues: queue.NewConnectionQueues(), state: &queue.ConnectionState{}}
		c.entries[id] = e
	}
	c.mu.Unlock()
	return e
}

// Push classifies lease's priority from its header and enqueues it on
// conn's queue, applying backpressure if the connection's cap is
// exceeded, then ensures conn is present in the ready-set (§4.4 step
// 5: insertion into ready happens before Push returns, giving the
// happens-before guarantee pull() relies on).
func (c *Channel[C]) Push(conn C, lease *buffer.Lease) {
	e := c.getOrCreate(conn)
	p := classifyFromLease(lease)

	if c.maxPerConn > 0 && e.state.Total()+1 > c.maxPerConn {
		if !c.applyBackpressure(e) {
			// DropNewest (or an exhausted DropOldest fallback): the
			// incoming lease itself is discarded, never enqueued.
			lease.Release()
			return
		}
	}

	e.queues.Enqueue(p, lease)
	e.state.Inc(p, 1)
	c.totalPackets.Add(1)

	c.ensureReady(conn.ID(), e, p)
}

func classifyFromLease(lease *buffer.Lease) wire.Priority {
	b := lease.Bytes()
	if len(b) <= wire.PriorityOffset {
		return wire.PriorityNone
	}
	return wire.ClassifyPriority(b)
}

// applyBackpressure enforces maxPerConn before the incoming lease is
// enqueued. It returns true if the caller should proceed to enqueue
// the incoming lease, false if the incoming lease must be dropped.
func (c *Channel[C]) applyBackpressure(e *entry[C]) bool {
	switch c.policy {
	case DropNewest:
		return false
	case DropOldest, Coalesce:
		if c.evictOldest(e) {
			return true
		}
		// Nothing to evict despite Total() reporting full: fall back to
		// DropNewest rather than let the cap be silently exceeded.
		return false
	case Block:
		for {
			if e.state.Total() < c.maxPerConn {
				return true
			}
			for spins := 0; spins < blockSpinBudget; spins++ {
				if e.state.Total() < c.maxPerConn {
					return true
				}
			}
			runtime.Gosched()
		}
	default:
		return true
	}
}

// evictOldest scans priorities low->high and dequeues the first
// available lease, releasing it (§4.4 step 3, DROP_OLDEST).
func (c *Channel[C]) evictOldest(e *entry[C]) bool {
	for p := wire.PriorityNone; int(p) < wire.NumPriorities; p++ {
		if lease, ok := e.queues.TryDequeue(p); ok {
			e.state.Inc(p, -1)
			c.totalPackets.Add(-1)
			lease.Release()
			return true
		}
	}
	return false
}

// ensureReady registers id as having deliverable work at priority p. If
// id is already registered at a priority at or above p, nothing
// changes: the existing registration (or a pull racing against it)
// will surface p's work once it drains down to it. If a strictly
// higher p arrives for an already-ready connection, id is registered
// again under the new, higher bucket so Pull discovers it there
// without waiting for the scan to fall back to the stale bucket (the
// stale entry is later discarded as a no-op by popReady).
func (c *Channel[C]) ensureReady(id identity.Identifier, e *entry[C], p wire.Priority) {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	if cur, ok := c.inReady[id]; ok && p <= cur {
		return
	}
	c.inReady[id] = p
	c.readyQueue[p].Enqueue(id)
}

// Pull dequeues one (connection, lease) pair in strict priority order
// (URGENT first), or returns ok=false if no ready connection currently
// has a deliverable lease.
func (c *Channel[C]) Pull() (conn C, lease *buffer.Lease, ok bool) {
	for p := wire.Priority(wire.NumPriorities - 1); ; p-- {
		if id, found := c.popReady(p); found {
			if l, e, pulled := c.pullFrom(id, p); pulled {
				return e.conn, l, true
			}
		}
		if p == wire.PriorityNone {
			break
		}
	}
	var zero C
	return zero, nil, false
}

// popReady dequeues the next candidate from bucket p. A dequeued id is
// only a genuine hit if p still matches its currently-registered
// priority; a stale entry left behind by a since-promoted or
// since-pulled registration (see ensureReady) is discarded and the
// next candidate in the bucket is tried, so a stale entry never hides
// a ready connection queued behind it and is never delivered at the
// wrong priority.
func (c *Channel[C]) popReady(p wire.Priority) (identity.Identifier, bool) {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	for {
		id, found := c.readyQueue[p].TryDequeue()
		if !found {
			return id, false
		}
		if cur, ok := c.inReady[id]; ok && cur == p {
			delete(c.inReady, id)
			return id, true
		}
	}
}

// pullFrom attempts to dequeue a lease for id starting at priority p
// and falling back to lower priorities on a racing-miss, then
// re-inserts id into the ready-set if residual work remains.
func (c *Channel[C]) pullFrom(id identity.Identifier, p wire.Priority) (*buffer.Lease, *entry[C], bool) {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	lease, pulled, gotPriority := tryAllFrom(e.queues, p)
	if pulled {
		e.state.Inc(gotPriority, -1)
		c.totalPackets.Add(-1)
	}

	if hp, any := e.queues.HighestNonEmpty(); any {
		c.ensureReady(id, e, hp)
	}

	return lease, e, pulled
}

func tryAllFrom(q *queue.ConnectionQueues, start wire.Priority) (*buffer.Lease, bool, wire.Priority) {
	for p := start; ; p-- {
		if lease, ok := q.TryDequeue(p); ok {
			return lease, true, p
		}
		if p == wire.PriorityNone {
			break
		}
	}
	return nil, false, wire.PriorityNone
}

// Unregister drains and releases every queued lease for id, removes it
// from the ready-set and all tracking maps, and reports how many
// leases were drained (so callers can reconcile total_packets).
func (c *Channel[C]) Unregister(id identity.Identifier) int {
	c.mu.Lock()
	e, ok := c.entries[id]
	delete(c.entries, id)
	c.mu.Unlock()
	if !ok {
		return 0
	}

	c.readyMu.Lock()
	delete(c.inReady, id)
	c.readyMu.Unlock()

	drained := e.queues.DrainAll()
	for _, lease := range drained {
		lease.Release()
	}
	if n := len(drained); n > 0 {
		c.totalPackets.Add(-int64(n))
	}
	return len(drained)
}
