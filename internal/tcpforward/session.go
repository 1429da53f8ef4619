package tcpforward

import (
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mastercactapus/mmproxy/internal/tproxy"
	"github.com/mastercactapus/mmproxy/proxyproto"
)

// dialUpstream opens the spoofed-source connection to the backend.
func dialUpstream(src, target *net.TCPAddr, mark int) (*net.TCPConn, error) {
	return tproxy.DialTCP(src, target, mark)
}

// handleSession owns one downstream connection end to end: decode the
// PROXY header, dial the backend from the spoofed source, replay the
// unconsumed prefix, then relay both directions until both have
// finished.
func (f *Forwarder) handleSession(id string, down *net.TCPConn) {
	defer down.Close()

	log := f.log.WithFields(logrus.Fields{
		"component": "tcpforward",
		"session":   id,
		"src":       down.RemoteAddr().String(),
	})

	buf := make([]byte, headBufSize)
	n, err := down.Read(buf)
	if err != nil {
		log.WithError(err).Debug("closed before header")
		return
	}

	result, err := proxyproto.Decode(buf[:n])
	if err != nil {
		log.WithError(err).Warn("invalid PROXY header")
		return
	}

	srcAddr := downstreamSourceAddr(result, down)

	sel := result
	if sel.Addresses == nil {
		// The downstream peer stands in for the client.
		sel.Addresses = &proxyproto.Addresses{Source: proxyproto.Endpoint{IP: srcAddr.IP, Port: srcAddr.Port}}
	}
	targetAddr, err := f.selectTarget(sel)
	if err != nil {
		log.WithError(err).Warn("no forward target for source family")
		return
	}
	log = log.WithField("dst", targetAddr.String())

	up, err := dialUpstream(srcAddr, targetAddr, f.cfg.Mark)
	if err != nil {
		log.WithError(err).Warn("dial upstream failed")
		return
	}
	defer up.Close()

	down.SetNoDelay(true)
	up.SetNoDelay(true)

	if len(result.Rest) > 0 {
		if _, err := up.Write(result.Rest); err != nil {
			log.WithError(err).Warn("write prefix to upstream failed")
			return
		}
	}

	log.Debug("relaying")
	if err := relay(down, up); err != nil {
		log.WithError(err).Debug("relay ended")
	}
}

// selectTarget picks the IPv4 or IPv6 forward target according to the
// family of r's source address. A Result without addresses selects
// IPv4; handleSession fills in the downstream peer as the source before
// calling it, so a header without addresses selects by the family of
// the raw TCP connection.
func (f *Forwarder) selectTarget(r proxyproto.Result) (*net.TCPAddr, error) {
	isV4 := true
	if r.Addresses != nil {
		isV4 = r.Addresses.Source.IsIPv4()
	}
	if isV4 {
		if f.ipv4Fwd == nil {
			return nil, errNoIPv4Forward
		}
		return f.ipv4Fwd, nil
	}
	if f.ipv6Fwd == nil {
		return nil, errNoIPv6Forward
	}
	return f.ipv6Fwd, nil
}

func downstreamSourceAddr(r proxyproto.Result, down *net.TCPConn) *net.TCPAddr {
	if r.Addresses != nil {
		return r.Addresses.Source.TCPAddr()
	}
	return down.RemoteAddr().(*net.TCPAddr)
}

// relay runs both directions of the session concurrently and performs
// a half-close handoff: once one side reaches EOF, the corresponding
// write side of the peer is closed so the peer observes EOF too, while
// the other direction keeps draining until it completes on its own.
func relay(down, up *net.TCPConn) error {
	var g errgroup.Group

	g.Go(func() error {
		err := spliceRelay(down, up)
		up.CloseWrite()
		return err
	})
	g.Go(func() error {
		err := spliceRelay(up, down)
		down.CloseWrite()
		return err
	})

	return g.Wait()
}
