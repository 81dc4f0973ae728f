package nalix

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/conn"
	"github.com/ppn-systems/nalix/identity"
	"github.com/ppn-systems/nalix/listener"
	"github.com/ppn-systems/nalix/metrics"
	"github.com/ppn-systems/nalix/ratelimit"
	"github.com/ppn-systems/nalix/registry"
	"github.com/ppn-systems/nalix/router"
	"github.com/ppn-systems/nalix/wire"
)

// dispatchWorkers is the number of concurrent Pull loops draining the
// router, independent of Config.MaxParallel (which bounds accept
// loops, not dispatch workers).
const dispatchWorkers = 4

// pullIdleBackoff is how long a dispatch worker sleeps after an empty
// Pull, avoiding a busy-spin when the router is briefly drained.
const pullIdleBackoff = time.Millisecond

// Server bundles the accept pipeline, sharded dispatch router, rate
// limiter and opcode registry that most callers assemble together,
// per design notes §9's "global singletons -> explicit context"
// guidance: every dependency a Server needs is constructed once in
// NewServer and held explicitly, never reached for through a package
// global.
type Server struct {
	cfg      Config
	pool     *buffer.Pool
	limiter  *ratelimit.Limiter
	hub      *conn.Hub
	router   *router.Router[*conn.Connection]
	registry *registry.Registry[*conn.Connection]
	metrics  *metrics.Metrics
	log      *slog.Logger

	tcp *listener.TCPListener
	udp *listener.UDPListener

	started     atomic.Bool
	stopWorkers context.CancelFunc
	workerCtx   context.Context
	wg          sync.WaitGroup
}

// NewServer validates cfg and wires every component. reg must already
// be frozen (built via registry.Compile) before it is passed in.
func NewServer(cfg Config, reg *registry.Registry[*conn.Connection]) (*Server, error) {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	if cfg.ShardCount < 1 {
		cfg.ShardCount = 1
	}
	if reg == nil {
		return nil, ErrInvalidConfig
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		var err error
		m, err = metrics.New()
		if err != nil {
			return nil, err
		}
	}

	pool := buffer.NewPool()
	limiter := ratelimit.New(cfg.RateLimit)
	hub := conn.NewHub()
	r := router.New[*conn.Connection](cfg.ShardCount, cfg.dispatchOptions())

	s := &Server{
		cfg:      cfg,
		pool:     pool,
		limiter:  limiter,
		hub:      hub,
		router:   r,
		registry: reg,
		metrics:  m,
		log:      slog.Default(),
	}

	s.tcp = listener.NewTCPListener(cfg.tcpOptions(), pool, r, limiter, hub)
	s.tcp.OnAccept = s.onAccept

	if cfg.EnableUDP {
		s.udp = listener.NewUDPListener(cfg.udpOptions(), pool, hub, m)
	}

	return s, nil
}

// onAccept wires per-connection metrics, a debug log line on close
// and, when KeepAlive is configured, the liveness ticker.
func (s *Server) onAccept(c *conn.Connection) {
	c.OnProcess(func(lease *buffer.Lease) {
		s.metrics.AddTotalPackets(context.Background(), 1)
	})
	c.OnClose(func(info conn.CloseInfo) {
		s.log.Debug("connection closed", "id", info.ID.String(), "reason", info.Reason, "drained", info.Drained)
	})
	if s.cfg.KeepAlive {
		s.wg.Add(1)
		go s.keepalive(c)
	}
}

// keepalive mirrors smux's keepalive() goroutine: it periodically
// checks the channel's last observed activity and closes the
// connection once it has been silent for longer than
// KeepAliveTimeout.
func (s *Server) keepalive(c *conn.Connection) {
	defer s.wg.Done()

	interval := s.cfg.KeepAliveTimeout / 3
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	started := time.Now().UnixMilli()

	for {
		select {
		case <-c.Done():
			return
		case <-s.workerCtx.Done():
			return
		case <-ticker.C:
			last := c.Channel().LastActivity()
			if last == 0 {
				// No frame received yet: measure silence from accept.
				last = started
			}
			if time.Now().UnixMilli()-last > s.cfg.KeepAliveTimeout.Milliseconds() {
				_ = c.Close()
				return
			}
		}
	}
}

// Start binds the TCP (and optional UDP) listeners and begins
// draining the dispatch router. It returns once ctx is cancelled or
// Shutdown is called, or immediately with ErrAlreadyStarted if called
// more than once.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	workerCtx, cancel := context.WithCancel(ctx)
	s.stopWorkers = cancel
	s.workerCtx = workerCtx

	for i := 0; i < dispatchWorkers; i++ {
		s.wg.Add(1)
		go s.dispatchLoop(workerCtx)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.tcp.Serve(gctx) })
	if s.udp != nil {
		group.Go(func() error { return s.udp.Serve(gctx) })
	}
	return group.Wait()
}

// dispatchLoop repeatedly pulls one (connection, lease) pair from the
// router and invokes the registered opcode handler, classifying and
// recording every outcome per §7's error taxonomy: protocol errors
// (decode failure) drop the lease without closing the connection,
// since a single malformed frame from an otherwise healthy peer is not
// a connection-level fault at this layer; handler errors are logged
// and otherwise swallowed; timeouts release the lease and leave the
// connection open.
func (s *Server) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c, lease, ok := s.router.Pull()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pullIdleBackoff):
			}
			continue
		}

		s.handleLease(ctx, c, lease)
	}
}

func (s *Server) handleLease(ctx context.Context, c *conn.Connection, lease *buffer.Lease) {
	defer lease.Release()
	// Balances the AddTotalPackets(ctx, 1) fired in onAccept's OnProcess
	// hook when the frame arrived: this runs exactly once per pulled
	// lease regardless of which path below returns. Leases discarded by
	// backpressure or drained when a connection closes never reach this
	// point and are not subtracted from the gauge.
	defer s.metrics.AddTotalPackets(ctx, -1)

	pkt, err := wire.Decode(lease.Bytes())
	if err != nil {
		s.log.Warn("dropping undecodable frame", "conn", c.ID().String(), "err", err)
		return
	}

	if s.cfg.EnableValidation {
		if meta, ok := s.registry.Lookup(pkt.Opcode); ok {
			if meta.Permission != "" && (s.cfg.Authorize == nil || !s.cfg.Authorize(c, meta.Permission)) {
				s.log.Warn("rejected unauthorized opcode", "conn", c.ID().String(), "opcode", pkt.Opcode)
				return
			}
			if meta.RequireEncryption && (s.cfg.IsEncrypted == nil || !s.cfg.IsEncrypted(lease.Bytes())) {
				s.log.Warn("rejected unencrypted opcode", "conn", c.ID().String(), "opcode", pkt.Opcode)
				return
			}
		}
	}

	invokeCtx := ctx
	var cancel context.CancelFunc
	if s.cfg.Timeout > 0 {
		invokeCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	if _, err := s.registry.InvokeWithTimeout(invokeCtx, pkt.Opcode, pkt.Payload, c); err != nil {
		s.log.Warn("handler failed", "conn", c.ID().String(), "opcode", pkt.Opcode, "err", err)
	}

	c.FirePostProcess(lease)
}

// Shutdown closes the listeners, cancels the dispatch workers and
// keepalive goroutines, then waits (bounded by ctx) for in-flight
// handler invocations and keepalive goroutines to finish. Connections
// that are still open are not closed.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	_ = s.tcp.Close()
	if s.udp != nil {
		_ = s.udp.Close()
	}
	if s.stopWorkers != nil {
		s.stopWorkers()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShardCount reports the dispatch router's shard count.
func (s *Server) ShardCount() int { return s.router.ShardCount() }

// TotalPackets sums the best-effort queued count across all shards.
func (s *Server) TotalPackets() int64 { return s.router.TotalPackets() }

// Lookup resolves a live connection by identifier, for callers that
// received it out-of-band (e.g. a UDP Authenticate callback wanting
// richer context than the datagram alone provides).
func (s *Server) Lookup(id identity.Identifier) (*conn.Connection, bool) {
	return s.hub.Lookup(id)
}
