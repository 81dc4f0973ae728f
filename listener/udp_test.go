package listener

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/conn"
	"github.com/ppn-systems/nalix/identity"
	"github.com/ppn-systems/nalix/transport"
	"github.com/ppn-systems/nalix/wire"
)

func newTestConnection(t *testing.T, hub *conn.Hub) (*conn.Connection, chan []byte) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })

	pool := buffer.NewPool()
	ch := transport.NewChannel(b, pool)
	c := conn.New(identity.New(), nil, ch, nil, nil)

	received := make(chan []byte, 4)
	c.OnProcess(func(l *buffer.Lease) {
		got := append([]byte(nil), l.Bytes()...)
		l.Release()
		received <- got
	})
	go ch.ReceiveLoop()
	hub.Register(c)
	return c, received
}

func TestUDPListenerInjectsAuthenticatedDatagram(t *testing.T) {
	hub := conn.NewHub()
	c, received := newTestConnection(t, hub)

	opts := DefaultUDPOptions(0)
	opts.Authenticate = func(got *conn.Connection, datagram []byte) bool {
		return got.ID() == c.ID()
	}

	pool := buffer.NewPool()
	l := NewUDPListener(opts, pool, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- l.Serve(ctx) }()

	require.Eventually(t, func() bool { return l.pc != nil }, time.Second, time.Millisecond)

	conn_, err := net.Dial("udp", l.pc.LocalAddr().String())
	require.NoError(t, err)
	defer conn_.Close()

	payload := make([]byte, wire.HeaderSize)
	copy(payload, []byte("hello"))
	datagram := append(append([]byte(nil), payload...), c.ID().AppendTo(nil)...)
	_, err = conn_.Write(datagram)
	require.NoError(t, err)

	select {
	case got := <-received:
		require.Equal(t, payload, got)
	case <-time.After(time.Second):
		t.Fatal("datagram was never injected")
	}

	cancel()
	require.NoError(t, l.Close())
	<-serveErrCh
}

func TestUDPListenerDropsShortDatagram(t *testing.T) {
	hub := conn.NewHub()
	_, received := newTestConnection(t, hub)

	pool := buffer.NewPool()
	opts := DefaultUDPOptions(0)
	l := NewUDPListener(opts, pool, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.Serve(ctx)

	require.Eventually(t, func() bool { return l.pc != nil }, time.Second, time.Millisecond)

	conn_, err := net.Dial("udp", l.pc.LocalAddr().String())
	require.NoError(t, err)
	defer conn_.Close()

	_, err = conn_.Write(make([]byte, identity.Size))
	require.NoError(t, err)

	select {
	case <-received:
		t.Fatal("short datagram should have been dropped, not injected")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, l.Close())
}

func TestUDPListenerDropsUnauthenticatedDatagram(t *testing.T) {
	hub := conn.NewHub()
	c, received := newTestConnection(t, hub)

	pool := buffer.NewPool()
	opts := DefaultUDPOptions(0) // DenyAll by default
	l := NewUDPListener(opts, pool, hub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go l.Serve(ctx)
	require.Eventually(t, func() bool { return l.pc != nil }, time.Second, time.Millisecond)

	conn_, err := net.Dial("udp", l.pc.LocalAddr().String())
	require.NoError(t, err)
	defer conn_.Close()

	datagram := append(make([]byte, wire.HeaderSize), c.ID().AppendTo(nil)...)
	_, err = conn_.Write(datagram)
	require.NoError(t, err)

	select {
	case <-received:
		t.Fatal("unauthenticated datagram should have been dropped")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, l.Close())
}
