// Package nalix implements the packet-transport and dispatch fabric
// of a multi-tenant network server: framed TCP channels, UDP datagram
// injection, priority-ordered per-connection dispatch queues, a
// sharded router, an opcode handler registry, and the connection
// lifecycle tying them together.
//
// A Server bundles one TCP listener, one optional UDP listener, a
// sharded dispatch router, a rate limiter, and (optionally) metrics
// into the single object most callers construct. Components below it
// (buffer, wire, transport, queue, dispatch, router, conn, listener,
// registry) are independently usable for callers assembling a custom
// topology.
package nalix
