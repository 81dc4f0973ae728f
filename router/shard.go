// Package router implements the sharded dispatch router (§4.5): N
// independent dispatch.Channel shards, a connection pinned to one
// shard for its lifetime by hashing its identifier, eliminating the
// cross-connection lock contention a single global channel would
// otherwise accumulate at scale.
package router

import (
	"hash/maphash"
	"sync/atomic"

	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/dispatch"
	"github.com/ppn-systems/nalix/identity"
)

// nextPowerOfTwo rounds n up to the nearest power of two, minimum 1.
func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Router fans push/pull out across ShardCount independent dispatch
// channels.
type Router[C dispatch.Conn] struct {
	shards []*dispatch.Channel[C]
	mask   uint64
	seed   maphash.Seed

	pullCursor atomic.Uint64
}

// New builds a Router with requestedShards rounded up to a power of
// two, each shard configured identically via opts.
func New[C dispatch.Conn](requestedShards int, opts dispatch.Options) *Router[C] {
	n := nextPowerOfTwo(requestedShards)
	r := &Router[C]{
		shards: make([]*dispatch.Channel[C], n),
		mask:   uint64(n - 1),
		seed:   maphash.MakeSeed(),
	}
	for i := range r.shards {
		r.shards[i] = dispatch.NewChannel[C](opts)
	}
	return r
}

// ShardCount reports the number of shards (always a power of two).
func (r *Router[C]) ShardCount() int { return len(r.shards) }

func (r *Router[C]) shardFor(id identity.Identifier) *dispatch.Channel[C] {
	var h maphash.Hash
	h.SetSeed(r.seed)
	h.Write(id[:])
	return r.shards[h.Sum64()&r.mask]
}

// Push routes conn's lease to its pinned shard.
func (r *Router[C]) Push(conn C, lease *buffer.Lease) {
	r.shardFor(conn.ID()).Push(conn, lease)
}

// Pull round-robins across shards starting from an evolving cursor,
// returning the first shard's successful pull.
func (r *Router[C]) Pull() (conn C, lease *buffer.Lease, ok bool) {
	n := uint64(len(r.shards))
	start := r.pullCursor.Add(1)
	for i := uint64(0); i < n; i++ {
		shard := r.shards[(start+i)&r.mask]
		if conn, lease, ok = shard.Pull(); ok {
			return conn, lease, true
		}
	}
	var zero C
	return zero, nil, false
}

// TotalPackets sums the best-effort per-shard totals.
func (r *Router[C]) TotalPackets() int64 {
	var total int64
	for _, s := range r.shards {
		total += s.TotalPackets()
	}
	return total
}

// Unregister removes conn's identifier from its pinned shard, draining
// and releasing any queued leases.
func (r *Router[C]) Unregister(id identity.Identifier) int {
	return r.shardFor(id).Unregister(id)
}
