// Package subnet implements the allowed-subnets gate: a peer IP is
// admitted if it falls within any of a configured set of CIDRs.
package subnet

import "net"

// Matcher tests IPs against a fixed set of CIDRs, matching any.
//
// A Matcher with no CIDRs must never be constructed by callers that mean
// "allow all" -- the gate being entirely absent (a nil *Matcher) is how
// the forwarders signal admit-all, matching the donor library's rule
// (SetFilter with a nil filter admits everything without consulting the
// matcher at all).
type Matcher struct {
	nets []*net.IPNet
}

// New builds a Matcher from a set of parsed CIDRs. Iteration order over
// cidrs does not affect the result.
func New(cidrs []*net.IPNet) *Matcher {
	nets := make([]*net.IPNet, len(cidrs))
	copy(nets, cidrs)
	return &Matcher{nets: nets}
}

// Allowed reports whether ip lies within any configured CIDR.
func (m *Matcher) Allowed(ip net.IP) bool {
	for _, n := range m.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
