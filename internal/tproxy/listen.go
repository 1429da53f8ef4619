package tproxy

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenTCP builds a TCP listener on addr. When reusePort is true,
// SO_REUSEPORT is set so that running `listeners` of these side by side
// lets the kernel load-balance accepts across them (Linux 3.9+);
// SO_REUSEADDR is always set. backlog is accepted but not applied: the
// listen(2) backlog is the Go runtime's default.
func ListenTCP(addr string, reusePort bool, backlog int) (*net.TCPListener, error) {
	lc := net.ListenConfig{
		Control: listenControlFunc(reusePort),
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tproxy: listen tcp %s: %w", addr, err)
	}
	_ = backlog // unused: net.ListenConfig offers no way to set the backlog.
	return ln.(*net.TCPListener), nil
}

// ListenUDP builds a UDP socket bound to addr, with the same
// SO_REUSEPORT/SO_REUSEADDR behavior as ListenTCP.
func ListenUDP(addr string, reusePort bool) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: listenControlFunc(reusePort),
	}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("tproxy: listen udp %s: %w", addr, err)
	}
	return pc.(*net.UDPConn), nil
}

func listenControlFunc(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				sockErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
				return
			}
			if reusePort {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					sockErr = fmt.Errorf("set SO_REUSEPORT: %w", err)
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
