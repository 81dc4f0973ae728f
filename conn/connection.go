// Package conn implements the connection lifecycle (§4.8 / §3
// Connection): identifier, event set, one-shot close, and the
// cleanup fan-out into the dispatch router and rate limiter that a
// close must always trigger exactly once.
package conn

import (
	"context"
	"net"
	"sync"

	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/identity"
	"github.com/ppn-systems/nalix/transport"
)

// DispatchCleanup is the subset of the dispatch router a Connection
// needs at close time: drop its queued leases and ready-set presence.
// Implemented by *router.Router[C] with C satisfying dispatch.Conn.
type DispatchCleanup interface {
	Unregister(id identity.Identifier) int
}

// CloseInfo is passed to on-close subscribers.
type CloseInfo struct {
	ID     identity.Identifier
	Err    error
	Reason transport.CloseReason
	// Drained is the number of leases the dispatch cleanup released
	// for this connection.
	Drained int
}

// Connection is the runtime handle C6 creates per accepted socket (or
// per distinct UDP peer) and destroys exactly once when it closes.
type Connection struct {
	id      identity.Identifier
	remote  net.Addr
	channel *transport.Channel

	closeOnce sync.Once
	closedCh  chan struct{}

	onClose       EventList[CloseInfo]
	onProcess     EventList[*buffer.Lease]
	onPostProcess EventList[*buffer.Lease]

	cleanup        DispatchCleanup
	limiterRelease func()
}

// New builds a Connection wrapping channel. cleanup and
// limiterRelease may be nil (a Connection used outside a full server,
// e.g. in tests).
func New(id identity.Identifier, remote net.Addr, channel *transport.Channel, cleanup DispatchCleanup, limiterRelease func()) *Connection {
	c := &Connection{
		id:             id,
		remote:         remote,
		channel:        channel,
		closedCh:       make(chan struct{}),
		cleanup:        cleanup,
		limiterRelease: limiterRelease,
	}
	channel.SetCallbacks(c.handleFrame, c.handleChannelClose)
	return c
}

// ID returns the connection's globally addressable identifier.
func (c *Connection) ID() identity.Identifier { return c.id }

// RemoteAddr returns the peer address, if known.
func (c *Connection) RemoteAddr() net.Addr { return c.remote }

// Channel returns the underlying framed transport channel.
func (c *Connection) Channel() *transport.Channel { return c.channel }

// Done returns a channel closed once the connection has closed.
func (c *Connection) Done() <-chan struct{} { return c.closedCh }

// IsClosed reports whether Close has already run.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.closedCh:
		return true
	default:
		return false
	}
}

// OnClose subscribes fn to fire exactly once when the connection
// closes.
func (c *Connection) OnClose(fn func(CloseInfo)) { c.onClose.Add(fn) }

// OnProcess subscribes fn to fire once per inbound frame, before
// opcode dispatch. The accept pipeline (listener package) uses this
// to route the lease into the dispatch router.
func (c *Connection) OnProcess(fn func(*buffer.Lease)) { c.onProcess.Add(fn) }

// OnPostProcess subscribes fn to fire once a handler invocation for
// one of this connection's leases has completed.
func (c *Connection) OnPostProcess(fn func(*buffer.Lease)) { c.onPostProcess.Add(fn) }

// FirePostProcess is called by the dispatch runtime after a handler
// finishes processing lease.
func (c *Connection) FirePostProcess(lease *buffer.Lease) { c.onPostProcess.Fire(lease) }

// Send writes a framed reply to the peer.
func (c *Connection) Send(ctx context.Context, payload []byte) error {
	return c.channel.Send(ctx, payload)
}

func (c *Connection) handleFrame(lease *buffer.Lease) {
	c.onProcess.Fire(lease)
}

// InjectFrame feeds a lease obtained out-of-band (the UDP listener,
// which has no persistent transport.Channel read loop per datagram)
// through the same on-process path a TCP frame would take.
func (c *Connection) InjectFrame(lease *buffer.Lease) {
	c.onProcess.Fire(lease)
}

// handleChannelClose is wired as the transport.Channel's on-close
// callback; it is itself already one-shot (Channel.fireClose's
// closeOnce), but Connection.Close can also be invoked directly (e.g.
// by a handler, or by the rate limiter path before any I/O), so the
// fan-out below is guarded by its own latch too.
func (c *Connection) handleChannelClose(err error, reason transport.CloseReason) {
	c.closeInternal(err, reason)
}

// Close tears the connection down: cancels/disposes the channel (if
// not already), fans out to the dispatch cleanup and rate limiter,
// detaches all listeners, and fires on-close exactly once.
func (c *Connection) Close() error {
	chanErr := c.channel.Close()
	c.closeInternal(chanErr, transport.CloseLocal)
	return chanErr
}

func (c *Connection) closeInternal(err error, reason transport.CloseReason) {
	c.closeOnce.Do(func() {
		drained := 0
		if c.cleanup != nil {
			drained = c.cleanup.Unregister(c.id)
		}
		if c.limiterRelease != nil {
			c.limiterRelease()
		}
		info := CloseInfo{ID: c.id, Err: err, Reason: reason, Drained: drained}
		c.onClose.Fire(info)
		c.onClose.Clear()
		c.onProcess.Clear()
		c.onPostProcess.Clear()
		close(c.closedCh)
	})
}
