//go:build linux

package listener

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// controlReuseAddr returns a net.ListenConfig.Control callback that
// sets SO_REUSEADDR on the listening socket before bind, via a raw
// setsockopt — the control knob the stdlib net package does not
// expose directly, the same layer ehrlich-b-go-ublk's io_uring/x-sys
// code operates at for low-level Linux socket tuning.
func controlReuseAddr(enable bool) func(network, address string, c syscall.RawConn) error {
	if !enable {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}

// tuneAcceptedConn applies recv/send buffer sizing via raw setsockopt,
// matching Config.BufferSize for both directions. NoDelay and
// keepalive are left to the stdlib net.TCPConn methods, which already
// cover them without a raw syscall.
func tuneAcceptedConn(rawConn syscall.RawConn, bufferSize int) error {
	if bufferSize <= 0 {
		return nil
	}
	var sockErr error
	err := rawConn.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, bufferSize); e != nil {
			sockErr = e
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, bufferSize)
	})
	if err != nil {
		return err
	}
	return sockErr
}
