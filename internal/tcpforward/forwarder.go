// Package tcpforward implements the TCP PROXY-protocol forwarder:
// accept, decode the PROXY header, dial upstream from the spoofed
// client address, and relay bytes in both directions via splice(2).
package tcpforward

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/mmproxy/internal/config"
	"github.com/mastercactapus/mmproxy/internal/subnet"
	"github.com/mastercactapus/mmproxy/internal/tproxy"
)

// headBufSize is the size of the single downstream read the session
// handler performs to capture the PROXY header. It must be large
// enough that the header is never under-read; 64 KiB is far larger
// than the largest possible v1 (107 bytes) or v2 (216-byte address
// block plus TLVs, practically bounded well under this) header.
const headBufSize = 64 * 1024

// errNoIPv4Forward and errNoIPv6Forward are returned by selectTarget
// when the decoded source family has no configured backend. Config.Validate
// requires both ipv4-fwd and ipv6-fwd, so in practice these only surface
// if that invariant is ever relaxed.
var (
	errNoIPv4Forward = errors.New("tcpforward: no ipv4 forward target configured")
	errNoIPv6Forward = errors.New("tcpforward: no ipv6 forward target configured")
)

// Forwarder accepts downstream TCP connections, decodes their PROXY
// header, and relays them to a backend dialed from the spoofed client
// address.
type Forwarder struct {
	cfg     *config.Config
	log     *logrus.Logger
	matcher *subnet.Matcher // nil means admit all

	ipv4Fwd *net.TCPAddr
	ipv6Fwd *net.TCPAddr
}

// New builds a Forwarder. matcher may be nil to admit all peers.
func New(cfg *config.Config, log *logrus.Logger, matcher *subnet.Matcher) (*Forwarder, error) {
	v4, err := net.ResolveTCPAddr("tcp4", cfg.IPv4Forward)
	if err != nil {
		return nil, fmt.Errorf("tcpforward: resolve ipv4-fwd %s: %w", cfg.IPv4Forward, err)
	}
	v6, err := net.ResolveTCPAddr("tcp6", cfg.IPv6Forward)
	if err != nil {
		return nil, fmt.Errorf("tcpforward: resolve ipv6-fwd %s: %w", cfg.IPv6Forward, err)
	}
	return &Forwarder{cfg: cfg, log: log, matcher: matcher, ipv4Fwd: v4, ipv6Fwd: v6}, nil
}

// Run listens and accepts forever, spawning one goroutine per
// connection. It returns on a fatal listener error, or with nil once
// ctx is canceled; the caller exits the process on return.
func (f *Forwarder) Run(ctx context.Context) error {
	ln, err := tproxy.ListenTCP(f.cfg.ListenAddr, f.cfg.Listeners > 1, f.cfg.Listeners)
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	f.log.WithFields(logrus.Fields{
		"component": "tcpforward",
		"addr":      f.cfg.ListenAddr,
	}).Info("listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("tcpforward: accept: %w", err)
		}

		tc := conn.(*net.TCPConn)
		peerIP := tc.RemoteAddr().(*net.TCPAddr).IP
		if f.matcher != nil && !f.matcher.Allowed(peerIP) {
			f.log.WithFields(logrus.Fields{
				"component": "tcpforward",
				"src":       peerIP.String(),
			}).Warn("dropped: peer not in allowed-subnets")
			tc.Close()
			continue
		}

		sessionID := uuid.NewString()
		go f.handleSession(sessionID, tc)
	}
}
