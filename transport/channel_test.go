package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppn-systems/nalix/buffer"
)

func newPipe(t *testing.T) (*Channel, *Channel) {
	t.Helper()
	a, b := net.Pipe()
	pool := buffer.NewPool()
	ca := NewChannel(a, pool)
	cb := NewChannel(b, pool)
	return ca, cb
}

func TestSendReceiveRoundTrip(t *testing.T) {
	ca, cb := newPipe(t)

	received := make(chan []byte, 1)
	cb.SetCallbacks(func(l *buffer.Lease) {
		got := append([]byte(nil), l.Bytes()...)
		l.Release()
		received <- got
	}, func(error, CloseReason) {})
	go cb.ReceiveLoop()

	payload := []byte("hello, frame")
	require.NoError(t, ca.Send(context.Background(), payload))

	select {
	case got := <-received:
		require.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	ca.Close()
	cb.Close()
}

func TestSendRejectsEmptyPayload(t *testing.T) {
	ca, cb := newPipe(t)
	defer ca.Close()
	defer cb.Close()
	require.ErrorIs(t, ca.Send(context.Background(), nil), ErrEmptyPayload)
}

func TestPeerCloseFiresOnCloseOnce(t *testing.T) {
	ca, cb := newPipe(t)

	var closedCount int
	done := make(chan struct{})
	cb.SetCallbacks(func(l *buffer.Lease) { l.Release() }, func(err error, reason CloseReason) {
		closedCount++
		close(done)
	})
	go cb.ReceiveLoop()

	ca.Close() // triggers peer FIN / read error on cb

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("on-close never fired")
	}
	require.Equal(t, 1, closedCount)

	// Closing again must not re-fire the callback.
	cb.Close()
	require.Equal(t, 1, closedCount)
}
