package proxyproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
)

// Command is the v2 PROXY command (low nibble of byte 13).
type Command byte

const (
	// CommandLocal means the connection was established by the proxy
	// itself (e.g. a health check); address fields, if present, must be
	// ignored.
	CommandLocal Command = 0x00
	// CommandProxy means the connection is relayed on behalf of another
	// node and the address fields reflect the original endpoints.
	CommandProxy Command = 0x01
)

// AddrFamily is the v2 address family (high nibble of byte 14).
type AddrFamily byte

const (
	AddrFamilyUnspec AddrFamily = 0x00
	AddrFamilyInet   AddrFamily = 0x01
	AddrFamilyInet6  AddrFamily = 0x02
	AddrFamilyUnix   AddrFamily = 0x03
)

// Proto is the v2 transport protocol (low nibble of byte 14).
type Proto byte

const (
	ProtoUnspec Proto = 0x00
	ProtoStream Proto = 0x01
	ProtoDgram  Proto = 0x02
)

type rawV2Header struct {
	Sig      [12]byte
	VerCmd   byte
	FamProto byte
	Len      uint16
}

const (
	v2HeaderLen  = 16
	v2AddrLenV4  = 12
	v2AddrLenV6  = 36
	v2AddrLenUds = 216
)

func decodeV2(buf []byte) (Result, error) {
	if len(buf) < v2HeaderLen {
		return Result{}, ErrShortHeader
	}

	var raw rawV2Header
	_ = binary.Read(bytes.NewReader(buf[:v2HeaderLen]), binary.BigEndian, &raw)

	if raw.VerCmd>>4 != 2 {
		return Result{}, headerErr(buf[:v2HeaderLen], ErrInvalidVersion)
	}
	cmd := Command(raw.VerCmd & 0x0f)
	if cmd > CommandProxy {
		return Result{}, headerErr(buf[:v2HeaderLen], ErrInvalidCommand)
	}

	fam := AddrFamily(raw.FamProto >> 4)
	if fam > AddrFamilyUnix {
		return Result{}, headerErr(buf[:v2HeaderLen], ErrInvalidFamily)
	}
	proto := Proto(raw.FamProto & 0x0f)
	if proto > ProtoDgram {
		return Result{}, headerErr(buf[:v2HeaderLen], ErrInvalidProtocol)
	}

	total := v2HeaderLen + int(raw.Len)
	if len(buf) < total {
		return Result{}, ErrShortHeader
	}
	body := buf[v2HeaderLen:total]
	rest := buf[total:]

	if fam == AddrFamilyUnix {
		return Result{}, headerErr(buf[:total], ErrUnixUnsupported)
	}

	var addrLen int
	switch fam {
	case AddrFamilyInet:
		addrLen = v2AddrLenV4
	case AddrFamilyInet6:
		addrLen = v2AddrLenV6
	}
	if len(body) < addrLen {
		if cmd == CommandProxy {
			return Result{}, headerErr(buf[:total], ErrShortHeader)
		}
		addrLen = 0 // LOCAL without an address block
	}

	var addrs *Addresses
	if cmd == CommandProxy && addrLen > 0 {
		src, dst := splitV2Addr(body[:addrLen], fam)
		addrs = &Addresses{Source: src, Dest: dst}
	}

	tlvs, err := ParseTLVs(body[addrLen:])
	if err != nil {
		return Result{}, headerErr(buf[:total], err)
	}

	return Result{
		Addresses: addrs,
		Rest:      rest,
		Version:   2,
		TLVs:      tlvs,
	}, nil
}

func splitV2Addr(b []byte, fam AddrFamily) (src, dst Endpoint) {
	switch fam {
	case AddrFamilyInet:
		srcIP := append(net.IP(nil), b[0:4]...)
		dstIP := append(net.IP(nil), b[4:8]...)
		return Endpoint{IP: srcIP, Port: int(binary.BigEndian.Uint16(b[8:10]))},
			Endpoint{IP: dstIP, Port: int(binary.BigEndian.Uint16(b[10:12]))}
	case AddrFamilyInet6:
		srcIP := append(net.IP(nil), b[0:16]...)
		dstIP := append(net.IP(nil), b[16:32]...)
		return Endpoint{IP: srcIP, Port: int(binary.BigEndian.Uint16(b[32:34]))},
			Endpoint{IP: dstIP, Port: int(binary.BigEndian.Uint16(b[34:36]))}
	}
	return Endpoint{}, Endpoint{}
}

// EncodeV2 renders addr as a v2 binary PROXY header with command PROXY
// and no TLVs, for use by test clients driving the forwarders end to
// end. The forwarders themselves never emit PROXY headers.
func EncodeV2(addr Addresses) ([]byte, error) {
	fam := AddrFamilyInet
	addrLen := v2AddrLenV4
	if addr.Source.IP.To4() == nil {
		fam = AddrFamilyInet6
		addrLen = v2AddrLenV6
	}

	var raw rawV2Header
	copy(raw.Sig[:], sigV2)
	raw.VerCmd = (2 << 4) | byte(CommandProxy)
	raw.FamProto = (byte(fam) << 4) | byte(ProtoStream)
	raw.Len = uint16(addrLen)

	var out bytes.Buffer
	if err := binary.Write(&out, binary.BigEndian, raw); err != nil {
		return nil, err
	}

	switch fam {
	case AddrFamilyInet:
		srcIP := addr.Source.IP.To4()
		dstIP := addr.Dest.IP.To4()
		if srcIP == nil || dstIP == nil {
			return nil, fmt.Errorf("proxyproto: mismatched address families")
		}
		out.Write(srcIP)
		out.Write(dstIP)
		binary.Write(&out, binary.BigEndian, uint16(addr.Source.Port))
		binary.Write(&out, binary.BigEndian, uint16(addr.Dest.Port))
	case AddrFamilyInet6:
		srcIP := addr.Source.IP.To16()
		dstIP := addr.Dest.IP.To16()
		out.Write(srcIP)
		out.Write(dstIP)
		binary.Write(&out, binary.BigEndian, uint16(addr.Source.Port))
		binary.Write(&out, binary.BigEndian, uint16(addr.Dest.Port))
	}

	return out.Bytes(), nil
}
