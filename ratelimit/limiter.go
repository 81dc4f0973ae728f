// Package ratelimit implements the per-remote-IP connection admission
// check (§4.6): is_connection_allowed(ip) backed by
// golang.org/x/time/rate token buckets, one per distinct remote
// address, reclaimed on close.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Options configures the per-IP token bucket.
type Options struct {
	// Rate is the steady-state rate at which new connection tokens
	// replenish, in connections per second.
	Rate rate.Limit
	// Burst is the maximum number of connections admitted in a burst.
	Burst int
}

// DefaultOptions mirrors a conservative default: 50 connections/sec
// sustained, bursts up to 100.
func DefaultOptions() Options {
	return Options{Rate: 50, Burst: 100}
}

// Limiter tracks one token bucket per remote IP.
type Limiter struct {
	opts Options

	mu      sync.Mutex
	buckets map[string]*tracked
}

type tracked struct {
	limiter *rate.Limiter
	inUse   int
}

// New builds a Limiter with the given per-IP bucket parameters.
func New(opts Options) *Limiter {
	return &Limiter{opts: opts, buckets: make(map[string]*tracked)}
}

// Allow reports whether a new connection from ip is admitted, and
// registers one in-flight slot for it if so. Every admitted connection
// must eventually call Release(ip) exactly once on its close path.
func (l *Limiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.buckets[ip]
	if !ok {
		t = &tracked{limiter: rate.NewLimiter(l.opts.Rate, l.opts.Burst)}
		l.buckets[ip] = t
	}
	if !t.limiter.Allow() {
		return false
	}
	t.inUse++
	return true
}

// Release returns ip's slot. Buckets for IPs with no in-flight
// connections are pruned so the map doesn't grow unbounded against
// transient scanners.
func (l *Limiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.buckets[ip]
	if !ok {
		return
	}
	t.inUse--
	if t.inUse <= 0 {
		delete(l.buckets, ip)
	}
}
