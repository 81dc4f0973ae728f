package listener

import (
	"context"
	"errors"
	"net"

	"golang.org/x/sync/semaphore"

	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/conn"
	"github.com/ppn-systems/nalix/identity"
	"github.com/ppn-systems/nalix/metrics"
	"github.com/ppn-systems/nalix/wire"
)

// udpReadBufferSize bounds one datagram read; UDP datagrams larger
// than this are truncated by the kernel before ReadFrom ever sees
// them, so it's sized to the largest frame this protocol allows.
const udpReadBufferSize = wire.PacketSizeLimit

// Authenticator validates an inbound datagram against the resolved
// connection before it is accepted as that connection's next inbound
// frame. The zero value (nil) is never used directly: UDPOptions
// requires an explicit Authenticator, defaulting to DenyAll, per the
// spec's "default deny; require explicit opt-in" resolution of the
// is_authenticated open question.
type Authenticator func(c *conn.Connection, datagram []byte) bool

// DenyAll is the default Authenticator: no datagram is ever accepted
// without an explicit opt-in implementation.
func DenyAll(*conn.Connection, []byte) bool { return false }

// UDPOptions configures the UDP listener.
type UDPOptions struct {
	Port                uint16
	BufferSize          int
	MaxGroupConcurrency int64
	Authenticate        Authenticator
}

// DefaultUDPOptions returns conservative defaults with datagram
// authentication denied by default.
func DefaultUDPOptions(port uint16) UDPOptions {
	return UDPOptions{
		Port:                port,
		BufferSize:          64 * 1024,
		MaxGroupConcurrency: 64,
		Authenticate:        DenyAll,
	}
}

// UDPListener runs a single receive loop over one bound UDP socket and
// dispatches each authenticated datagram onto the identified
// connection via a bounded worker group.
type UDPListener struct {
	opts    UDPOptions
	pool    *buffer.Pool
	hub     *conn.Hub
	metrics *metrics.Metrics

	sem *semaphore.Weighted
	pc  net.PacketConn
}

// NewUDPListener builds a UDPListener. m may be nil (metrics disabled).
func NewUDPListener(opts UDPOptions, pool *buffer.Pool, hub *conn.Hub, m *metrics.Metrics) *UDPListener {
	if opts.Authenticate == nil {
		opts.Authenticate = DenyAll
	}
	weight := opts.MaxGroupConcurrency
	if weight < 1 {
		weight = 1
	}
	return &UDPListener{opts: opts, pool: pool, hub: hub, metrics: m, sem: semaphore.NewWeighted(weight)}
}

// Serve binds the UDP socket and receives datagrams until ctx is
// cancelled or Close is called.
func (l *UDPListener) Serve(ctx context.Context) error {
	pc, err := net.ListenPacket("udp", addrForPort(l.opts.Port))
	if err != nil {
		return err
	}
	l.pc = pc

	go func() {
		<-ctx.Done()
		_ = pc.Close()
	}()

	for {
		buf := l.pool.Rent(udpReadBufferSize)
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			l.pool.Return(buf)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.metrics.IncRecvErrors(ctx)
			continue
		}
		datagram := buf[:n]

		if err := l.sem.Acquire(ctx, 1); err != nil {
			l.pool.Return(buf)
			return nil
		}
		go l.handleDatagram(ctx, buf, datagram)
	}
}

func (l *UDPListener) handleDatagram(ctx context.Context, raw []byte, datagram []byte) {
	defer l.sem.Release(1)

	l.metrics.IncRxPackets(ctx)
	l.metrics.AddRxBytes(ctx, int64(len(datagram)))

	if len(datagram) < wire.HeaderSize+identity.Size {
		l.pool.Return(raw)
		l.metrics.IncDropShort(ctx)
		return
	}

	id := identity.ParseBytes(datagram)
	frame := datagram[:len(datagram)-identity.Size]

	c, ok := l.hub.Lookup(id)
	if !ok {
		l.pool.Return(raw)
		l.metrics.IncDropUnknown(ctx)
		return
	}

	if !l.opts.Authenticate(c, datagram) {
		l.pool.Return(raw)
		l.metrics.IncDropUnauth(ctx)
		return
	}

	lease := buffer.TakeOwnership(l.pool, raw, 0, len(frame))
	c.InjectFrame(lease)
}

// Addr returns the bound local address, or nil before Serve has bound
// the socket.
func (l *UDPListener) Addr() net.Addr {
	if l.pc == nil {
		return nil
	}
	return l.pc.LocalAddr()
}

// Close closes the UDP socket.
func (l *UDPListener) Close() error {
	if l.pc == nil {
		return nil
	}
	return l.pc.Close()
}
