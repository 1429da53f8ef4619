package udpforward

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/mmproxy/internal/config"
	"github.com/mastercactapus/mmproxy/proxyproto"
)

func baseConfig() *config.Config {
	return &config.Config{
		ListenAddr:  "127.0.0.1:0",
		IPv4Forward: "127.0.0.1:9000",
		IPv6Forward: "[::1]:9000",
		Mark:        123,
		Listeners:   1,
		CloseAfter:  1,
		Protocol:    config.ProtocolUDP,
	}
}

func TestNew_ResolvesForwardTargets(t *testing.T) {
	f, err := New(baseConfig(), logrus.New(), nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", f.ipv4Fwd.IP.String())
	assert.Equal(t, "::1", f.ipv6Fwd.IP.String())
	assert.Equal(t, time.Second, f.closeAfter)
}

func TestNew_InvalidIPv4ForwardErrors(t *testing.T) {
	cfg := baseConfig()
	cfg.IPv4Forward = "not-an-address"
	_, err := New(cfg, logrus.New(), nil)
	assert.Error(t, err)
}

func TestSelectTarget_NoHeaderDefaultsToIPv4(t *testing.T) {
	f, err := New(baseConfig(), logrus.New(), nil)
	require.NoError(t, err)

	addr, err := f.selectTarget(proxyproto.Result{})
	require.NoError(t, err)
	assert.Equal(t, f.ipv4Fwd, addr)
}

func TestSelectTarget_IPv6Source(t *testing.T) {
	f, err := New(baseConfig(), logrus.New(), nil)
	require.NoError(t, err)

	r := proxyproto.Result{Addresses: &proxyproto.Addresses{
		Source: proxyproto.Endpoint{IP: net.ParseIP("2001:db8::5"), Port: 1111},
	}}
	addr, err := f.selectTarget(r)
	require.NoError(t, err)
	assert.Equal(t, f.ipv6Fwd, addr)
}

func TestNewSession_RejectsV1Header(t *testing.T) {
	f, err := New(baseConfig(), logrus.New(), nil)
	require.NoError(t, err)

	dg := datagram{
		addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234},
		data: []byte("PROXY UNKNOWN\r\n"),
	}
	log := logrus.NewEntry(logrus.New())
	_, err = f.newSession(dg, log)
	assert.ErrorIs(t, err, errV1NotSupported)
}

func udpLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	return c
}

func TestWatchInactivity_ReapsAfterCloseAfter(t *testing.T) {
	f, err := New(baseConfig(), logrus.New(), nil)
	require.NoError(t, err)
	f.closeAfter = 60 * time.Millisecond

	up := udpLoopback(t)
	defer up.Close()

	s := &session{downAddr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4242}, up: up}
	s.touch()

	removals := make(chan removalReq, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.watchInactivity(ctx, s, removals)

	select {
	case req := <-removals:
		assert.Same(t, s, req.sess)
	case <-time.After(2 * time.Second):
		t.Fatal("session was not reaped")
	}
}

func TestWatchInactivity_StaysAliveWhileTouched(t *testing.T) {
	f, err := New(baseConfig(), logrus.New(), nil)
	require.NoError(t, err)
	f.closeAfter = 80 * time.Millisecond

	up := udpLoopback(t)
	defer up.Close()

	s := &session{downAddr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4242}, up: up}
	s.touch()

	removals := make(chan removalReq, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.touch()
			}
		}
	}()
	go f.watchInactivity(ctx, s, removals)

	select {
	case <-removals:
		close(stop)
		t.Fatal("session reaped despite ongoing activity")
	case <-time.After(150 * time.Millisecond):
	}
	close(stop)
}

func TestReadUpstream_RelaysToDownstreamPeer(t *testing.T) {
	backend := udpLoopback(t)
	defer backend.Close()

	upConn, err := net.DialUDP("udp", nil, backend.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer upConn.Close()

	down := udpLoopback(t)
	defer down.Close()

	peer := udpLoopback(t)
	defer peer.Close()

	s := &session{downAddr: peer.LocalAddr().(*net.UDPAddr), up: upConn}
	s.touch()

	f, err := New(baseConfig(), logrus.New(), nil)
	require.NoError(t, err)

	removals := make(chan removalReq, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go f.readUpstream(ctx, s, down, removals)

	_, err = backend.WriteToUDP([]byte("response"), upConn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)

	buf := make([]byte, 64)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "response", string(buf[:n]))

	upConn.Close()
	select {
	case req := <-removals:
		assert.Same(t, s, req.sess)
	case <-time.After(2 * time.Second):
		t.Fatal("expected removal request after upstream close")
	}
}
