package nalix

import (
	"time"

	"github.com/ppn-systems/nalix/conn"
	"github.com/ppn-systems/nalix/dispatch"
	"github.com/ppn-systems/nalix/listener"
	"github.com/ppn-systems/nalix/ratelimit"
)

// Config enumerates every external knob of §6, plus the supplemented
// knobs (UDP, keepalive timeout) SPEC_FULL.md §9 adds.
type Config struct {
	// Port is the TCP listen port.
	Port uint16
	// BufferSize is passed to the platform's socket tuning layer, which
	// uses it for both the receive and send buffer of each accepted TCP
	// socket. The UDP listener does not apply it.
	BufferSize int
	NoDelay    bool
	KeepAlive  bool
	// KeepAliveTimeout bounds how long a connection may go without
	// inbound activity before the liveness ticker closes it. Only
	// meaningful when KeepAlive is true.
	KeepAliveTimeout time.Duration
	ReuseAddress     bool
	// MaxParallel is the number of concurrent TCP accept loops.
	MaxParallel int

	// MaxPerConnectionQueue bounds queued leases per connection; 0 is
	// unbounded.
	MaxPerConnectionQueue int32
	DropPolicy            dispatch.DropPolicy

	// ShardCount is rounded up to the nearest power of two.
	ShardCount int

	// EnableUDP starts the UDP datagram listener on UDPPort,
	// authenticated by Authenticate.
	EnableUDP           bool
	UDPPort             uint16
	MaxGroupConcurrency int64
	Authenticate        listener.Authenticator

	RateLimit ratelimit.Options

	EnableMetrics bool

	// Timeout, when non-zero, sets a deadline on the context each
	// handler invocation receives; 0 means no deadline. It never yields
	// ErrHandlerTimeout (only an opcode's Meta.Timeout does): once the
	// deadline passes, InvokeWithTimeout returns the context's error for
	// opcodes with a Meta.Timeout, and a handler without one stops only
	// if it observes ctx.
	Timeout time.Duration

	// EnableValidation gates enforcement of each opcode's registered
	// Meta (Permission, RequireEncryption) before a handler runs. When
	// false, every registered handler is invoked unconditionally.
	EnableValidation bool
	// Authorize checks whether c is allowed to invoke an opcode
	// requiring permission. Required when EnableValidation is true and
	// any registered opcode sets a non-empty Meta.Permission.
	Authorize func(c *conn.Connection, permission string) bool
	// IsEncrypted reports whether the inbound packet that produced raw
	// was flagged encrypted, for opcodes with Meta.RequireEncryption.
	IsEncrypted func(raw []byte) bool
}

// DefaultConfig returns conservative defaults matching
// listener.DefaultTCPOptions/DefaultUDPOptions and
// ratelimit.DefaultOptions, except that KeepAliveTimeout (which also
// becomes the TCP keepalive period) is 90s where DefaultTCPOptions
// uses a 30s KeepAliveTTL.
func DefaultConfig(port uint16) Config {
	return Config{
		Port:                  port,
		BufferSize:            64 * 1024,
		NoDelay:               true,
		KeepAlive:             true,
		KeepAliveTimeout:      90 * time.Second,
		ReuseAddress:          true,
		MaxParallel:           1,
		MaxPerConnectionQueue: 1024,
		DropPolicy:            dispatch.DropOldest,
		ShardCount:            8,
		EnableUDP:             false,
		UDPPort:               port,
		MaxGroupConcurrency:   64,
		Authenticate:          listener.DenyAll,
		RateLimit:             ratelimit.DefaultOptions(),
		EnableMetrics:         false,
		Timeout:               0,
		EnableValidation:      false,
	}
}

func (c Config) tcpOptions() listener.TCPOptions {
	return listener.TCPOptions{
		Port:         c.Port,
		Backlog:      128,
		BufferSize:   c.BufferSize,
		NoDelay:      c.NoDelay,
		KeepAlive:    c.KeepAlive,
		KeepAliveTTL: c.KeepAliveTimeout,
		ReuseAddress: c.ReuseAddress,
		MaxParallel:  c.MaxParallel,
	}
}

func (c Config) udpOptions() listener.UDPOptions {
	auth := c.Authenticate
	if auth == nil {
		auth = listener.DenyAll
	}
	return listener.UDPOptions{
		Port:                c.UDPPort,
		BufferSize:          c.BufferSize,
		MaxGroupConcurrency: c.MaxGroupConcurrency,
		Authenticate:        auth,
	}
}

func (c Config) dispatchOptions() dispatch.Options {
	return dispatch.Options{
		MaxPerConnectionQueue: c.MaxPerConnectionQueue,
		DropPolicy:            c.DropPolicy,
	}
}
