//go:build !linux

package listener

import "syscall"

// controlReuseAddr has no portable raw-socket implementation outside
// Linux in this module; non-Linux builds rely on the platform's
// default SO_REUSEADDR behavior instead.
func controlReuseAddr(enable bool) func(network, address string, c syscall.RawConn) error {
	return nil
}

func tuneAcceptedConn(rawConn syscall.RawConn, bufferSize int) error {
	return nil
}
