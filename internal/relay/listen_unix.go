//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package relay

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// listenControl returns a socket hook setting SO_REUSEPORT, or nil.
func listenControl(reusePort bool) func(network, address string, c syscall.RawConn) error {
	if !reusePort {
		return nil
	}
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		if err := c.Control(func(fd uintptr) {
			serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		}); err != nil {
			return err
		}
		return serr
	}
}
