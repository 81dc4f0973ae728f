package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// isBenignDisconnect classifies a socket error as an orderly or
// peer-initiated termination rather than a fault: reset, aborted,
// broken pipe, shutdown, a closed pipe or use-of-closed-network-
// connection, a timeout, or a plain EOF. Anything else is treated as
// a real fault worth logging.
func isBenignDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ESHUTDOWN) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// A read deadline tripped by CancelReceive looks like a timeout
		// to the net package; classifyReadError already reports local
		// cancellation via the channel's cancelled flag before calling
		// this, so a bare timeout here is still benign from the wire's
		// perspective.
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return isBenignDisconnect(opErr.Err)
	}
	return false
}
