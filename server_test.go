package nalix

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppn-systems/nalix/conn"
	"github.com/ppn-systems/nalix/registry"
	"github.com/ppn-systems/nalix/wire"
)

const opcodeEcho uint16 = 0x0001

type echoController struct{ registry.Base }

func buildEchoRegistry() *registry.Registry[*conn.Connection] {
	r, err := registry.Compile[*conn.Connection](echoController{}, func(reg *registry.Registry[*conn.Connection]) {
		registry.MustHandle(reg, opcodeEcho, registry.Meta{},
			func(raw []byte) ([]byte, error) { return raw, nil },
			func(ctx context.Context, payload []byte, c *conn.Connection) (any, error) {
				pkt := wire.Packet{Opcode: opcodeEcho, Priority: wire.PriorityNormal, Payload: payload}
				encoded, err := pkt.Encode(make([]byte, wire.HeaderSize+len(payload)))
				if err != nil {
					return nil, err
				}
				return nil, c.Send(ctx, encoded)
			})
	})
	if err != nil {
		panic(err)
	}
	return r
}

func writeFramedPacket(t *testing.T, w net.Conn, pkt wire.Packet) {
	t.Helper()
	buf := make([]byte, wire.HeaderSize+len(pkt.Payload))
	encoded, err := pkt.Encode(buf)
	require.NoError(t, err)

	frame := make([]byte, 2+len(encoded))
	binary.LittleEndian.PutUint16(frame, uint16(2+len(encoded)))
	copy(frame[2:], encoded)
	_, err = w.Write(frame)
	require.NoError(t, err)
}

func readFramedPacket(t *testing.T, r net.Conn) wire.Packet {
	t.Helper()
	var hdr [2]byte
	_, err := io.ReadFull(r, hdr[:])
	require.NoError(t, err)
	total := binary.LittleEndian.Uint16(hdr[:])
	body := make([]byte, total-2)
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	pkt, err := wire.Decode(body)
	require.NoError(t, err)
	return pkt
}

// TestServerEchoEndToEnd is the S1 scenario: a client sends a framed
// packet at opcode 0x0001 and expects a handler-produced reply
// carrying the same payload.
func TestServerEchoEndToEnd(t *testing.T) {
	cfg := DefaultConfig(0)
	s, err := NewServer(cfg, buildEchoRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.tcp.Addr() != nil }, time.Second, time.Millisecond)

	raw, err := net.Dial("tcp", s.tcp.Addr().String())
	require.NoError(t, err)
	defer raw.Close()

	writeFramedPacket(t, raw, wire.Packet{Opcode: opcodeEcho, Priority: wire.PriorityNormal, Payload: []byte("hi")})

	require.NoError(t, raw.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply := readFramedPacket(t, raw)
	require.Equal(t, []byte("hi"), reply.Payload)

	cancel()
	require.NoError(t, s.Shutdown(context.Background()))
	<-serveErrCh
}
