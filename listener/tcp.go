// Package listener implements the accept/lifecycle pipeline (§4.6):
// bounded TCP accept loops with rate limiting, and the UDP listener
// that multiplexes datagrams onto existing connections by their
// embedded identifier.
package listener

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/conn"
	"github.com/ppn-systems/nalix/identity"
	"github.com/ppn-systems/nalix/ratelimit"
	"github.com/ppn-systems/nalix/transport"
)

// transientBackoff is how long a TCP accept loop sleeps after a
// transient (non-benign) Accept error, to avoid a CPU-spinning retry
// storm.
const transientBackoff = 50 * time.Millisecond

// TCPOptions configures the TCP accept pipeline.
type TCPOptions struct {
	Port         uint16
	Backlog      int
	BufferSize   int
	NoDelay      bool
	KeepAlive    bool
	KeepAliveTTL time.Duration
	ReuseAddress bool
	MaxParallel  int
}

// DefaultTCPOptions returns conservative defaults.
func DefaultTCPOptions(port uint16) TCPOptions {
	return TCPOptions{
		Port:         port,
		Backlog:      128,
		BufferSize:   64 * 1024,
		NoDelay:      true,
		KeepAlive:    true,
		KeepAliveTTL: 30 * time.Second,
		ReuseAddress: true,
		MaxParallel:  1,
	}
}

// DispatchRouter is the subset of *router.Router[*conn.Connection]
// this package depends on, kept as an interface to avoid the listener
// package importing the router package's type parameter machinery
// directly.
type DispatchRouter interface {
	Push(c *conn.Connection, lease *buffer.Lease)
	Unregister(id identity.Identifier) int
}

// TCPListener runs the bounded accept loop pipeline over one bound
// TCP port.
type TCPListener struct {
	opts    TCPOptions
	pool    *buffer.Pool
	router  DispatchRouter
	limiter *ratelimit.Limiter
	hub     *conn.Hub

	// OnAccept is called once per newly accepted, rate-limit-admitted
	// connection, after its receive loop has started. Typically wires
	// additional per-connection hooks (e.g. OnClose logging).
	OnAccept func(*conn.Connection)

	ln net.Listener
}

// NewTCPListener builds a TCPListener. It does not bind until Serve
// is called. hub may be nil if UDP datagram injection isn't used.
func NewTCPListener(opts TCPOptions, pool *buffer.Pool, router DispatchRouter, limiter *ratelimit.Limiter, hub *conn.Hub) *TCPListener {
	return &TCPListener{opts: opts, pool: pool, router: router, limiter: limiter, hub: hub}
}

// Serve binds the listening socket and runs MaxParallel concurrent
// accept loops until ctx is cancelled or an unrecoverable listener
// error occurs. It blocks until every accept loop has returned.
func (l *TCPListener) Serve(ctx context.Context) error {
	lc := net.ListenConfig{Control: controlReuseAddr(l.opts.ReuseAddress)}
	ln, err := lc.Listen(ctx, "tcp", addrForPort(l.opts.Port))
	if err != nil {
		return err
	}
	l.ln = ln

	group, gctx := errgroup.WithContext(ctx)
	parallel := l.opts.MaxParallel
	if parallel < 1 {
		parallel = 1
	}
	for i := 0; i < parallel; i++ {
		group.Go(func() error {
			return l.acceptLoop(gctx)
		})
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	err = group.Wait()
	if errors.Is(err, net.ErrClosed) || errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}

// Addr returns the bound listening address, or nil before Serve has
// bound the socket.
func (l *TCPListener) Addr() net.Addr {
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Close closes the listening socket, unblocking any in-flight Accept
// calls.
func (l *TCPListener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

func (l *TCPListener) acceptLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		raw, err := l.ln.Accept()
		if err != nil {
			if isBenignAcceptError(err) {
				return nil
			}
			select {
			case <-time.After(transientBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		l.handleAccepted(raw)
	}
}

func (l *TCPListener) handleAccepted(raw net.Conn) {
	remoteIP := hostOf(raw.RemoteAddr())
	if l.limiter != nil && !l.limiter.Allow(remoteIP) {
		_ = raw.Close()
		return
	}

	if tcpConn, ok := raw.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(l.opts.NoDelay)
		if l.opts.KeepAlive {
			_ = tcpConn.SetKeepAlive(true)
			_ = tcpConn.SetKeepAlivePeriod(l.opts.KeepAliveTTL)
		}
		if rawConn, err := tcpConn.SyscallConn(); err == nil {
			_ = tuneAcceptedConn(rawConn, l.opts.BufferSize)
		}
	}

	channel := transport.NewChannel(raw, l.pool)
	id := identity.New()
	var release func()
	if l.limiter != nil {
		release = func() { l.limiter.Release(remoteIP) }
	}
	c := conn.New(id, raw.RemoteAddr(), channel, l.router, release)
	c.OnProcess(func(lease *buffer.Lease) {
		l.router.Push(c, lease)
	})
	if l.hub != nil {
		l.hub.Register(c)
	}

	go channel.ReceiveLoop()

	if l.OnAccept != nil {
		l.OnAccept(c)
	}
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func addrForPort(port uint16) string {
	return net.JoinHostPort("", strconv.Itoa(int(port)))
}

func isBenignAcceptError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Err.Error() == "use of closed network connection"
	}
	return false
}
