package listener

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/conn"
	"github.com/ppn-systems/nalix/identity"
	"github.com/ppn-systems/nalix/ratelimit"
)

type fakeRouter struct {
	pushed chan *buffer.Lease
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{pushed: make(chan *buffer.Lease, 8)}
}

func (r *fakeRouter) Push(c *conn.Connection, lease *buffer.Lease) { r.pushed <- lease }
func (r *fakeRouter) Unregister(identity.Identifier) int           { return 0 }

func TestTCPListenerAcceptsAndDispatches(t *testing.T) {
	pool := buffer.NewPool()
	router := newFakeRouter()
	limiter := ratelimit.New(ratelimit.DefaultOptions())
	hub := conn.NewHub()

	opts := DefaultTCPOptions(0)
	l := NewTCPListener(opts, pool, router, limiter, hub)

	accepted := make(chan *conn.Connection, 1)
	l.OnAccept = func(c *conn.Connection) { accepted <- c }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- l.Serve(ctx) }()

	require.Eventually(t, func() bool { return l.ln != nil }, time.Second, time.Millisecond)

	raw, err := net.Dial("tcp", l.ln.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	var c *conn.Connection
	select {
	case c = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("connection was never accepted")
	}

	require.Equal(t, 1, hub.Len())
	got, ok := hub.Lookup(c.ID())
	require.True(t, ok)
	require.Same(t, c, got)

	// Writing a framed payload from the peer should surface on the
	// fake router via the wired OnProcess hook.
	require.NoError(t, writeFrame(raw, []byte("ping")))

	select {
	case lease := <-router.pushed:
		require.Equal(t, []byte("ping"), lease.Bytes())
		lease.Release()
	case <-time.After(time.Second):
		t.Fatal("frame was never pushed to the router")
	}

	raw.Close()
	cancel()
	require.NoError(t, l.Close())
	<-serveErrCh
}

// writeFrame sends payload as a length-prefixed frame matching
// transport.Channel's framing: u16 LE total length (including the
// prefix itself) followed by the payload.
func writeFrame(w net.Conn, payload []byte) error {
	frame := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(frame, uint16(2+len(payload)))
	copy(frame[2:], payload)
	_, err := w.Write(frame)
	return err
}
