// Package transport implements the framed TCP channel (one channel
// per socket): exact-byte length-prefixed read/write, buffer-pool
// reuse, graceful peer-close detection, and one-shot close semantics.
//
// The receive/close-latch shape is carried over directly from smux's
// Session (github.com/sagernet/smux, session.go): a sync.Once-guarded
// die channel, atomic.Value-stored terminal errors published through
// a closed channel, and a dedicated read-loop goroutine with no
// internal buffering beyond the rented frame buffer. Where smux
// multiplexes many streams over the frame stream, this channel
// carries exactly one logical frame at a time, handed to the caller
// as a buffer.Lease.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sagernet/sing/common/bufio"

	"github.com/ppn-systems/nalix/buffer"
	"github.com/ppn-systems/nalix/wire"
)

// frameHeaderSize is the 2-byte length prefix wrapped around every
// frame: u16 total_length_le, where total_length includes these two
// bytes. This is distinct from wire.HeaderSize, the packet header
// carried inside the frame's payload.
const frameHeaderSize = 2

// stackBufferThreshold is the payload size under which Send copies
// into a small on-stack-sized buffer instead of renting from the pool,
// avoiding pool churn for the very common small-reply case.
const stackBufferThreshold = 512

var (
	// ErrFrameTooSmall is the protocol error for a declared total_length
	// below frameHeaderSize.
	ErrFrameTooSmall = errors.New("transport: frame length below header size")
	// ErrFrameTooLarge is the protocol error for a declared total_length
	// above wire.PacketSizeLimit.
	ErrFrameTooLarge = errors.New("transport: frame length exceeds limit")
	// ErrEmptyPayload is returned by Send for a zero-length payload.
	ErrEmptyPayload = errors.New("transport: empty payload")
	// ErrPayloadTooLarge is a caller error: Send's payload plus header
	// would exceed wire.PacketSizeLimit.
	ErrPayloadTooLarge = errors.New("transport: payload exceeds frame limit")
	// ErrClosed is returned by Send once the channel has closed.
	ErrClosed = errors.New("transport: channel closed")
)

// CloseReason classifies why a Channel transitioned to closed, for
// callers that want to distinguish benign disconnects from faults
// without inspecting error types themselves.
type CloseReason int

const (
	CloseUnknown CloseReason = iota
	ClosePeerFIN
	CloseLocal
	CloseBenignError
	CloseProtocolError
	CloseFault
)

// Channel owns one socket's framed read/write loop.
type Channel struct {
	conn net.Conn
	pool *buffer.Pool

	sendMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  atomic.Pointer[error]
	reason    int32 // CloseReason

	cancelOnce sync.Once
	cancelCh   chan struct{}

	lastActivityMs atomic.Int64
	cancelled      atomic.Bool

	onFrame func(*buffer.Lease)
	onClose func(error, CloseReason)
}

// NewChannel wraps conn. pool must not be nil.
func NewChannel(conn net.Conn, pool *buffer.Pool) *Channel {
	return &Channel{
		conn:     conn,
		pool:     pool,
		closed:   make(chan struct{}),
		cancelCh: make(chan struct{}),
	}
}

// SetCallbacks wires the per-frame and on-close hooks. Must be called
// before ReceiveLoop starts.
func (c *Channel) SetCallbacks(onFrame func(*buffer.Lease), onClose func(error, CloseReason)) {
	c.onFrame = onFrame
	c.onClose = onClose
}

// LastActivity reports the wall-clock time of the last received frame
// as Unix milliseconds (time.Now().UnixMilli(), not a monotonic
// reading), or 0 if no frame has been received yet. Used by keepalive
// tripwires.
func (c *Channel) LastActivity() int64 { return c.lastActivityMs.Load() }

func nowMs() int64 { return time.Now().UnixMilli() }

// IsClosed reports whether the channel has already closed.
func (c *Channel) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Done returns a channel closed once the channel has closed.
func (c *Channel) Done() <-chan struct{} { return c.closed }

// ReceiveLoop runs the frame read loop until the channel closes, then
// returns. It fires the on-close callback exactly once before
// returning, regardless of the reason the loop stopped.
func (c *Channel) ReceiveLoop() {
	defer c.fireClose()

	for {
		select {
		case <-c.cancelCh:
			c.finish(context.Canceled, CloseLocal)
			return
		default:
		}

		hdrBuf := c.pool.Rent(frameHeaderSize)
		if err := c.readExact(hdrBuf); err != nil {
			c.pool.Return(hdrBuf)
			c.finish(err, c.classifyReadError(err))
			return
		}

		total := binary.LittleEndian.Uint16(hdrBuf)
		if int(total) < frameHeaderSize {
			c.pool.Return(hdrBuf)
			c.finish(ErrFrameTooSmall, CloseProtocolError)
			return
		}
		if int(total) > wire.PacketSizeLimit {
			c.pool.Return(hdrBuf)
			c.finish(ErrFrameTooLarge, CloseProtocolError)
			return
		}

		payloadLen := int(total) - frameHeaderSize
		frameBuf := hdrBuf
		if cap(frameBuf) < int(total) {
			grown := c.pool.Rent(int(total))
			copy(grown, hdrBuf[:frameHeaderSize])
			c.pool.Return(hdrBuf)
			frameBuf = grown
		} else {
			frameBuf = frameBuf[:total]
		}

		if payloadLen > 0 {
			if err := c.readExact(frameBuf[frameHeaderSize:total]); err != nil {
				c.pool.Return(frameBuf)
				c.finish(err, c.classifyReadError(err))
				return
			}
		}

		c.lastActivityMs.Store(nowMs())
		lease := buffer.TakeOwnership(c.pool, frameBuf, frameHeaderSize, payloadLen)
		if c.onFrame != nil {
			c.onFrame(lease)
		} else {
			lease.Release()
		}
	}
}

// readExact fills buf completely or returns the first error
// encountered, mirroring io.ReadFull but against c.conn directly so
// close/cancel races surface through the same error classification
// path as a normal socket error.
func (c *Channel) readExact(buf []byte) error {
	_, err := io.ReadFull(c.conn, buf)
	return err
}

// Send writes a framed payload: frameHeaderSize u16 ‖ payload, in one
// logical emission. Partial writes are retried internally by the
// underlying net.Conn.Write contract (Write either returns n==len(b)
// or a non-nil error); Send surfaces that error.
func (c *Channel) Send(_ context.Context, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > wire.PacketSizeLimit-frameHeaderSize {
		return ErrPayloadTooLarge
	}
	if c.IsClosed() {
		return ErrClosed
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(frameHeaderSize+len(payload)))

	if bw, ok := bufio.CreateVectorisedWriter(c.conn); ok {
		vec := [][]byte{hdr[:], payload}
		_, err := bufio.WriteVectorised(bw, vec)
		if err != nil {
			c.finish(err, c.classifyReadError(err))
		}
		return err
	}

	var buf []byte
	if len(payload) <= stackBufferThreshold {
		buf = make([]byte, frameHeaderSize+len(payload))
	} else {
		rented := c.pool.Rent(frameHeaderSize + len(payload))
		defer c.pool.Return(rented)
		buf = rented
	}
	copy(buf, hdr[:])
	copy(buf[frameHeaderSize:], payload)

	if _, err := c.conn.Write(buf); err != nil {
		c.finish(err, c.classifyReadError(err))
		return err
	}
	return nil
}

// CancelReceive triggers the internal cancellation source exactly
// once, causing a blocked ReceiveLoop to unwind via its next read
// error or select check.
func (c *Channel) CancelReceive() {
	c.cancelOnce.Do(func() {
		c.cancelled.Store(true)
		close(c.cancelCh)
		// Unblock a pending read immediately rather than waiting for
		// the next loop iteration's select check.
		_ = c.conn.SetReadDeadline(time.Now())
	})
}

// Close disposes the underlying socket. Safe to call multiple times
// and concurrently with ReceiveLoop.
func (c *Channel) Close() error {
	c.CancelReceive()
	return c.conn.Close()
}

func (c *Channel) finish(err error, reason CloseReason) {
	c.closeOnce.Do(func() {
		c.closeErr.Store(&err)
		atomic.StoreInt32(&c.reason, int32(reason))
	})
}

func (c *Channel) fireClose() {
	c.closeOnce.Do(func() {
		var nilErr error
		c.closeErr.Store(&nilErr)
		atomic.StoreInt32(&c.reason, int32(CloseUnknown))
	})
	close(c.closed)
	_ = c.conn.Close()
	if c.onClose != nil {
		var err error
		if p := c.closeErr.Load(); p != nil {
			err = *p
		}
		c.onClose(err, CloseReason(atomic.LoadInt32(&c.reason)))
	}
}

func (c *Channel) classifyReadError(err error) CloseReason {
	if c.cancelled.Load() {
		return CloseLocal
	}
	if err == nil {
		return CloseUnknown
	}
	if errors.Is(err, io.EOF) {
		return ClosePeerFIN
	}
	if errors.Is(err, context.Canceled) {
		return CloseLocal
	}
	if isBenignDisconnect(err) {
		return CloseBenignError
	}
	return CloseFault
}
