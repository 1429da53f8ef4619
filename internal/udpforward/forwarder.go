// Package udpforward implements the UDP PROXY-protocol forwarder: a
// single-writer session table keyed by downstream peer, fed by a
// datagram reader goroutine and reaped by a per-session inactivity
// watcher.
package udpforward

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mastercactapus/mmproxy/internal/config"
	"github.com/mastercactapus/mmproxy/internal/subnet"
	"github.com/mastercactapus/mmproxy/internal/tproxy"
	"github.com/mastercactapus/mmproxy/proxyproto"
)

const datagramBufSize = 64 * 1024

// removalQueueSize bounds the control channel carrying session
// eviction requests back to the single-writer main loop. It is sized
// well above any realistic burst of simultaneous reaps/upstream errors
// so a send never blocks the goroutines that depend on forward
// progress of the reader or watcher.
const removalQueueSize = 128

// Forwarder relays UDP datagrams to a backend dialed from the spoofed
// client address, multiplexing many downstream peers over one
// listening socket.
type Forwarder struct {
	cfg     *config.Config
	log     *logrus.Logger
	matcher *subnet.Matcher

	ipv4Fwd *net.UDPAddr
	ipv6Fwd *net.UDPAddr

	closeAfter time.Duration
}

// New builds a Forwarder. matcher may be nil to admit all peers.
func New(cfg *config.Config, log *logrus.Logger, matcher *subnet.Matcher) (*Forwarder, error) {
	v4, err := net.ResolveUDPAddr("udp4", cfg.IPv4Forward)
	if err != nil {
		return nil, fmt.Errorf("udpforward: resolve ipv4-fwd %s: %w", cfg.IPv4Forward, err)
	}
	v6, err := net.ResolveUDPAddr("udp6", cfg.IPv6Forward)
	if err != nil {
		return nil, fmt.Errorf("udpforward: resolve ipv6-fwd %s: %w", cfg.IPv6Forward, err)
	}
	return &Forwarder{
		cfg:        cfg,
		log:        log,
		matcher:    matcher,
		ipv4Fwd:    v4,
		ipv6Fwd:    v6,
		closeAfter: time.Duration(cfg.CloseAfter) * time.Second,
	}, nil
}

// session holds one downstream peer's forwarding state. lastActive is
// written by both the upstream reader goroutine and the main loop (on
// receipt of a downstream datagram) and read by the inactivity
// watcher, so it is accessed atomically; everything else is owned
// exclusively by the main loop.
type session struct {
	downAddr *net.UDPAddr
	up       *net.UDPConn

	lastActive int64 // unix nanoseconds, atomic

	cancelWatcher context.CancelFunc
}

func (s *session) touch() {
	atomic.StoreInt64(&s.lastActive, time.Now().UnixNano())
}

// removalReq is sent by the upstream reader (on read error/EOF) or the
// inactivity watcher (on timeout) to ask the main loop to evict a
// session. sess disambiguates against a same-address session that the
// main loop already replaced by the time the request is handled.
type removalReq struct {
	sess *session
}

// datagram is one inbound packet handed from the reader goroutine to
// the main loop.
type datagram struct {
	addr *net.UDPAddr
	data []byte
}

// Run listens and relays forever. It returns only on a fatal listener
// error or when ctx is canceled.
func (f *Forwarder) Run(ctx context.Context) error {
	down, err := tproxy.ListenUDP(f.cfg.ListenAddr, f.cfg.Listeners > 1)
	if err != nil {
		return err
	}
	defer down.Close()

	log := f.log.WithFields(logrus.Fields{
		"component": "udpforward",
		"addr":      f.cfg.ListenAddr,
	})
	log.Info("listening")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	datagrams := make(chan datagram, removalQueueSize)
	removals := make(chan removalReq, removalQueueSize)

	go f.readLoop(ctx, down, datagrams)

	sessions := make(map[string]*session)
	defer func() {
		for _, s := range sessions {
			s.cancelWatcher()
			s.up.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case req := <-removals:
			key := req.sess.downAddr.String()
			if sessions[key] != req.sess {
				continue // already replaced or already removed
			}
			delete(sessions, key)
			req.sess.cancelWatcher()
			req.sess.up.Close()
			log.WithField("src", key).Debug("session reaped")

		case dg, ok := <-datagrams:
			if !ok {
				return fmt.Errorf("udpforward: listener closed")
			}
			f.handleDatagram(ctx, log, down, sessions, removals, dg)
		}
	}
}

func (f *Forwarder) readLoop(ctx context.Context, down *net.UDPConn, out chan<- datagram) {
	defer close(out)
	for {
		buf := make([]byte, datagramBufSize)
		n, addr, err := down.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				f.log.WithError(err).WithField("component", "udpforward").Warn("read failed")
			}
			return
		}
		select {
		case out <- datagram{addr: addr, data: buf[:n]}:
		case <-ctx.Done():
			return
		}
	}
}

func (f *Forwarder) handleDatagram(ctx context.Context, log *logrus.Entry, down *net.UDPConn, sessions map[string]*session, removals chan<- removalReq, dg datagram) {
	key := dg.addr.String()

	if f.matcher != nil && !f.matcher.Allowed(dg.addr.IP) {
		log.WithField("src", key).Warn("dropped: peer not in allowed-subnets")
		return
	}

	if s, ok := sessions[key]; ok {
		result, err := proxyproto.Decode(dg.data)
		if err == nil && result.Version == 1 {
			err = errV1NotSupported
		}
		if err != nil {
			log.WithError(err).WithField("src", key).Warn("dropped datagram: invalid PROXY header")
			return
		}
		s.touch()
		if _, err := s.up.Write(result.Rest); err != nil {
			log.WithError(err).WithField("src", key).Debug("write to upstream failed")
		}
		return
	}

	s, err := f.newSession(dg, log)
	if err != nil {
		log.WithError(err).WithField("src", key).Warn("could not open session")
		return
	}
	sessions[key] = s

	watchCtx, cancel := context.WithCancel(ctx)
	s.cancelWatcher = cancel
	go f.watchInactivity(watchCtx, s, removals)
	go f.readUpstream(watchCtx, s, down, removals)
}

// newSession decodes the PROXY header carried by the first datagram
// from a new peer, dials the backend from the spoofed source, and
// flushes any payload bytes that followed the header in the same
// datagram.
func (f *Forwarder) newSession(dg datagram, log *logrus.Entry) (*session, error) {
	result, err := proxyproto.Decode(dg.data)
	if err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if result.Version == 1 {
		return nil, errV1NotSupported
	}

	srcAddr := dg.addr
	if result.Addresses != nil {
		srcAddr = result.Addresses.Source.UDPAddr()
	}

	target, err := f.selectTarget(result)
	if err != nil {
		return nil, err
	}

	up, err := tproxy.DialUDP(srcAddr, target, f.cfg.Mark)
	if err != nil {
		return nil, fmt.Errorf("dial upstream: %w", err)
	}

	if len(result.Rest) > 0 {
		if _, err := up.Write(result.Rest); err != nil {
			up.Close()
			return nil, fmt.Errorf("write prefix to upstream: %w", err)
		}
	}

	s := &session{downAddr: dg.addr, up: up}
	s.touch()
	log.WithFields(logrus.Fields{
		"src": dg.addr.String(),
		"dst": target.String(),
	}).Debug("session opened")
	return s, nil
}

func (f *Forwarder) selectTarget(r proxyproto.Result) (*net.UDPAddr, error) {
	isV4 := true
	if r.Addresses != nil {
		isV4 = r.Addresses.Source.IsIPv4()
	}
	if isV4 {
		return f.ipv4Fwd, nil
	}
	return f.ipv6Fwd, nil
}

// readUpstream relays backend responses to the downstream peer until
// the upstream socket errors, then asks the main loop to reap the
// session.
func (f *Forwarder) readUpstream(ctx context.Context, s *session, down *net.UDPConn, removals chan<- removalReq) {
	buf := make([]byte, datagramBufSize)
	for {
		n, err := s.up.Read(buf)
		if err != nil {
			requestRemoval(ctx, removals, s)
			return
		}
		s.touch()
		if _, err := down.WriteToUDP(buf[:n], s.downAddr); err != nil {
			requestRemoval(ctx, removals, s)
			return
		}
	}
}

// watchInactivity polls s.lastActive and requests a reap once it has
// been idle for closeAfter. Polling at half the timeout notices an idle
// session at most half a closeAfter past its deadline, so a session is
// reaped within about one and a half closeAfter intervals of its last
// activity in the worst case.
func (f *Forwarder) watchInactivity(ctx context.Context, s *session, removals chan<- removalReq) {
	interval := f.closeAfter / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, atomic.LoadInt64(&s.lastActive))
			if time.Since(last) >= f.closeAfter {
				requestRemoval(ctx, removals, s)
				return
			}
		}
	}
}

func requestRemoval(ctx context.Context, removals chan<- removalReq, s *session) {
	select {
	case removals <- removalReq{sess: s}:
	case <-ctx.Done():
	}
}
