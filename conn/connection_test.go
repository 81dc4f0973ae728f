package conn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/identity"
	"github.com/ppn-systems/nalix/transport"
)

type fakeCleanup struct{ calls int }

func (f *fakeCleanup) Unregister(identity.Identifier) int {
	f.calls++
	return 3
}

func TestCloseFansOutExactlyOnce(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	pool := buffer.NewPool()
	ch := transport.NewChannel(a, pool)

	cleanup := &fakeCleanup{}
	limiterCalls := 0
	c := New(identity.New(), nil, ch, cleanup, func() { limiterCalls++ })

	go ch.ReceiveLoop()

	closeEvents := 0
	done := make(chan struct{})
	c.OnClose(func(info CloseInfo) {
		closeEvents++
		require.Equal(t, 3, info.Drained)
		close(done)
	})

	require.NoError(t, c.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("on-close never fired")
	}

	require.Equal(t, 1, closeEvents)
	require.Equal(t, 1, cleanup.calls)
	require.Equal(t, 1, limiterCalls)
	require.True(t, c.IsClosed())

	// A second close must not re-fire listeners or re-run cleanup.
	c.Close()
	require.Equal(t, 1, closeEvents)
	require.Equal(t, 1, cleanup.calls)
}

func TestOnProcessFiresForInboundFrame(t *testing.T) {
	a, b := net.Pipe()
	pool := buffer.NewPool()
	ca := transport.NewChannel(a, pool)
	cb := transport.NewChannel(b, pool)

	c := New(identity.New(), nil, cb, nil, nil)
	received := make(chan []byte, 1)
	c.OnProcess(func(l *buffer.Lease) {
		got := append([]byte(nil), l.Bytes()...)
		l.Release()
		received <- got
	})
	go cb.ReceiveLoop()

	require.NoError(t, ca.Send(nil, []byte("payload")))

	select {
	case got := <-received:
		require.Equal(t, []byte("payload"), got)
	case <-time.After(time.Second):
		t.Fatal("on-process never fired")
	}

	ca.Close()
	c.Close()
}
