// Package tproxy creates upstream sockets spoofed to a client's address
// via Linux's IP_TRANSPARENT/SO_MARK kernel support, and provides the
// splice(2)-through-pipe primitive the TCP relay uses for a zero-copy
// forward path.
//
// IP_TRANSPARENT requires CAP_NET_ADMIN, and the caller is responsible
// for installing a routing rule (out-of-band, e.g. `ip rule`/`ip route`)
// that matches the configured fwmark and delivers reply traffic back to
// this process. Neither of those is this package's concern.
package tproxy

import (
	"fmt"
	"net"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// DialTCP opens a TCP connection to target, with the local endpoint
// bound to src and every outbound packet marked with mark.
//
// Address family for the upstream socket is taken from src, never from
// target: callers are expected to have already chosen target by src's
// family (see the forwarder's v4/v6 dispatch).
func DialTCP(src, target *net.TCPAddr, mark int) (*net.TCPConn, error) {
	d := net.Dialer{
		LocalAddr: src,
		Control:   controlFunc(mark),
	}
	conn, err := d.Dial("tcp", target.String())
	if err != nil {
		return nil, fmt.Errorf("tproxy: dial upstream tcp %s from %s: %w", target, src, err)
	}
	tc := conn.(*net.TCPConn)
	if err := tc.SetNoDelay(true); err != nil {
		tc.Close()
		return nil, fmt.Errorf("tproxy: set TCP_NODELAY: %w", err)
	}
	return tc, nil
}

// DialUDP opens a connected UDP socket to target, with the local
// endpoint bound to src and every outbound packet marked with mark.
// Because the socket is connect(2)'d, subsequent Writes need no address
// and the kernel filters out datagrams from any other peer.
func DialUDP(src, target *net.UDPAddr, mark int) (*net.UDPConn, error) {
	d := net.Dialer{
		LocalAddr: src,
		Control:   controlFunc(mark),
	}
	conn, err := d.Dial("udp", target.String())
	if err != nil {
		return nil, fmt.Errorf("tproxy: dial upstream udp %s from %s: %w", target, src, err)
	}
	return conn.(*net.UDPConn), nil
}

// controlFunc builds the net.Dialer.Control callback that applies the
// common upstream-socket setup ahead of bind(): mark IP_TRANSPARENT (or
// IPV6_TRANSPARENT), enable SO_REUSEADDR, set SO_MARK. bind() itself
// happens immediately after this callback returns, performed by the Go
// runtime using the Dialer's LocalAddr.
//
// Go's net package always creates non-blocking sockets, so there is no
// separate "set non-blocking" step to perform here.
func controlFunc(mark int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			if strings.HasSuffix(network, "6") {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_IPV6, unix.IPV6_TRANSPARENT, 1)
			} else {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
			}
			if sockErr != nil {
				sockErr = fmt.Errorf("set IP_TRANSPARENT: %w", sockErr)
				return
			}

			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				sockErr = fmt.Errorf("set SO_REUSEADDR: %w", err)
				return
			}

			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, mark); err != nil {
				sockErr = fmt.Errorf("set SO_MARK: %w", err)
				return
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
