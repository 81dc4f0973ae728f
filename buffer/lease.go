package buffer

import "sync/atomic"

// Lease is a borrowed byte slice with a single owner at a time.
// Release returns the underlying buffer to its origin Pool exactly
// once; subsequent calls are a no-op, mirroring smux's one-shot
// dieOnce/finEventOnce close latches applied here to buffer release
// instead of connection close.
type Lease struct {
	pool     *Pool
	raw      []byte
	offset   int
	length   int
	released int32
}

// TakeOwnership wraps buf[offset:offset+length] as a Lease owned by
// the caller. pool may be nil for leases that were never rented (e.g.
// a caller-supplied payload in a test) — Release becomes a no-op in
// that case.
func TakeOwnership(pool *Pool, buf []byte, offset, length int) *Lease {
	return &Lease{pool: pool, raw: buf, offset: offset, length: length}
}

// Bytes returns the leased window into the underlying buffer. The
// slice is only valid until Release is called.
func (l *Lease) Bytes() []byte {
	return l.raw[l.offset : l.offset+l.length]
}

// Len reports the length of the leased window.
func (l *Lease) Len() int { return l.length }

// Raw exposes the full underlying buffer backing this lease, for
// callers that need to grow into spare capacity ahead of re-leasing a
// larger window.
func (l *Lease) Raw() []byte { return l.raw }

// Release returns the underlying buffer to its pool. Idempotent.
func (l *Lease) Release() {
	if !atomic.CompareAndSwapInt32(&l.released, 0, 1) {
		return
	}
	if l.pool != nil {
		l.pool.Return(l.raw)
	}
	l.raw = nil
}

// Released reports whether Release has already fired for this lease.
func (l *Lease) Released() bool {
	return atomic.LoadInt32(&l.released) == 1
}
