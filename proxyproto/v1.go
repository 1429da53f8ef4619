package proxyproto

import (
	"bytes"
	"fmt"
	"net"
)

// v1MaxHeaderLen is the longest a v1 header may be per the HAProxy spec,
// not counting the trailing CRLF: "PROXY UNKNOWN\r\n" is the shortest,
// "PROXY TCP6 " + two full IPv6 addresses + two ports + "\r\n" is the
// longest, and HAProxy caps the whole line at 107 bytes plus CRLF.
const v1MaxHeaderLen = 107

func decodeV1(buf []byte) (Result, error) {
	limit := len(buf)
	if limit > v1MaxHeaderLen+2 {
		limit = v1MaxHeaderLen + 2
	}
	idx := bytes.Index(buf[:limit], []byte("\r\n"))
	if idx < 0 {
		if len(buf) < v1MaxHeaderLen+2 {
			return Result{}, ErrShortHeader
		}
		return Result{}, headerErr(buf[:limit], ErrHeaderTooLong)
	}

	line := buf[:idx]
	rest := buf[idx+2:]

	var fam string
	var srcIPStr, dstIPStr string
	var srcPort, dstPort int
	n, err := fmt.Sscanf(string(line), "PROXY %s %s %s %d %d", &fam, &srcIPStr, &dstIPStr, &srcPort, &dstPort)
	if n == 0 && err != nil {
		return Result{}, headerErr(line, err)
	}

	switch fam {
	case "UNKNOWN":
		return Result{Addresses: nil, Rest: rest, Version: 1}, nil
	case "TCP4", "TCP6":
		if err != nil {
			return Result{}, headerErr(line, err)
		}
	default:
		return Result{}, headerErr(line, ErrUnsupportedFamily)
	}

	srcIP := net.ParseIP(srcIPStr)
	if srcIP == nil {
		return Result{}, headerErr(line, ErrInvalidAddress)
	}
	dstIP := net.ParseIP(dstIPStr)
	if dstIP == nil {
		return Result{}, headerErr(line, ErrInvalidAddress)
	}

	return Result{
		Addresses: &Addresses{
			Source: Endpoint{IP: srcIP, Port: srcPort},
			Dest:   Endpoint{IP: dstIP, Port: dstPort},
		},
		Rest:    rest,
		Version: 1,
	}, nil
}

// EncodeV1 renders addr as a v1 textual header, for use by test clients
// that need to drive the forwarders end to end. The forwarders
// themselves never emit PROXY headers.
func EncodeV1(addr Addresses) []byte {
	fam := "TCP4"
	if addr.Source.IP.To4() == nil {
		fam = "TCP6"
	}
	return []byte(fmt.Sprintf("PROXY %s %s %s %d %d\r\n", fam, addr.Source.IP.String(), addr.Dest.IP.String(), addr.Source.Port, addr.Dest.Port))
}

// EncodeV1Unknown renders the v1 UNKNOWN header.
func EncodeV1Unknown() []byte { return []byte("PROXY UNKNOWN\r\n") }
