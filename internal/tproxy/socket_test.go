package tproxy

import (
	"errors"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// DialTCP and DialUDP require CAP_NET_ADMIN to set IP_TRANSPARENT; most
// sandboxes and CI runners do not grant it. These tests run the real
// syscall path and skip on EPERM rather than faking the kernel behavior,
// so a privileged run still exercises the bind-to-spoofed-address
// invariant end to end.
func skipWithoutNetAdmin(t *testing.T, err error) {
	t.Helper()
	if errors.Is(err, unix.EPERM) || errors.Is(err, os.ErrPermission) {
		t.Skipf("requires CAP_NET_ADMIN: %v", err)
	}
}

func TestDialTCP_BindsSpoofedSource(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	target := ln.Addr().(*net.TCPAddr)
	src := &net.TCPAddr{IP: net.ParseIP("127.0.0.2"), Port: 0}

	conn, err := DialTCP(src, target, 123)
	if err != nil {
		skipWithoutNetAdmin(t, err)
		require.NoError(t, err)
	}
	defer conn.Close()

	c := <-accepted
	defer c.Close()
	require.Equal(t, "127.0.0.2", c.RemoteAddr().(*net.TCPAddr).IP.String())
}
