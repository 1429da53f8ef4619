// Package proxyproto decodes HAProxy PROXY protocol v1 (text) and v2
// (binary) headers from the head of a TCP stream or a single UDP
// datagram, recovering the address the far side of a load balancer
// saw before it terminated the connection.
package proxyproto

import (
	"fmt"
	"net"
)

// Endpoint is an address family + port pair as carried by a PROXY header.
type Endpoint struct {
	IP   net.IP
	Port int
}

// String renders the endpoint as host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), fmt.Sprintf("%d", e.Port))
}

// TCPAddr views the endpoint as a *net.TCPAddr.
func (e Endpoint) TCPAddr() *net.TCPAddr { return &net.TCPAddr{IP: e.IP, Port: e.Port} }

// UDPAddr views the endpoint as a *net.UDPAddr.
func (e Endpoint) UDPAddr() *net.UDPAddr { return &net.UDPAddr{IP: e.IP, Port: e.Port} }

// IsIPv4 reports whether the endpoint's address has a 4-byte form.
func (e Endpoint) IsIPv4() bool { return e.IP.To4() != nil }

// Addresses is the (source, destination) pair a PROXY header conveys.
// A nil *Addresses (as returned from Decode) means the header carried
// v1 UNKNOWN or v2 UNSPEC: no address information, the caller must
// substitute the observed peer address.
type Addresses struct {
	Source Endpoint
	Dest   Endpoint
}
