//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package server

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenControl keeps IPv6 listeners off the IPv4-mapped space so the
// wildcard tcp4 and tcp6 listeners can share one port.
func listenControl(network, _ string, rc syscall.RawConn) error {
	if network != "tcp6" {
		return nil
	}
	var serr error
	err := rc.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
	})
	if err != nil {
		return err
	}
	if serr != nil {
		return fmt.Errorf("set IPV6_V6ONLY: %w", serr)
	}
	return nil
}
