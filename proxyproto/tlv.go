package proxyproto

import (
	"encoding/binary"
	"io"
)

// PP2Type identifies a v2 TLV record.
type PP2Type byte

const (
	PP2TypeALPN      PP2Type = 0x01
	PP2TypeAuthority PP2Type = 0x02
	PP2TypeCRC32C    PP2Type = 0x03
	PP2TypeNOOP      PP2Type = 0x04
	PP2TypeUniqueID  PP2Type = 0x05
	PP2TypeSSL       PP2Type = 0x20
	PP2TypeNetNS     PP2Type = 0x30

	PP2SubTypeSSLVersion PP2Type = 0x21
	PP2SubTypeSSLCN      PP2Type = 0x22
	PP2SubTypeSSLCipher  PP2Type = 0x23
	PP2SubTypeSSLSigAlg  PP2Type = 0x24
	PP2SubTypeSSLKeyAlg  PP2Type = 0x25
)

// TLV is a single type-length-value record from a v2 header's optional
// trailer (after the fixed address block, before any free-form payload
// the caller appended). This implementation exposes TLVs as data but
// does not act on them: no ALPN/authority/NetNS-based routing.
type TLV struct {
	Type  PP2Type
	Value []byte
}

// ParseTLVs decodes a run of TLV records. No additional validation is
// performed on individual TLV contents beyond the length field.
func ParseTLVs(b []byte) ([]TLV, error) {
	if len(b) == 0 {
		return nil, nil
	}

	var res []TLV
	for len(b) > 0 {
		if len(b) < 3 {
			return nil, io.ErrUnexpectedEOF
		}
		vlen := int(binary.BigEndian.Uint16(b[1:3]))
		if len(b) < 3+vlen {
			return nil, io.ErrUnexpectedEOF
		}
		value := make([]byte, vlen)
		copy(value, b[3:3+vlen])
		res = append(res, TLV{Type: PP2Type(b[0]), Value: value})
		b = b[3+vlen:]
	}
	return res, nil
}

// FindTLV returns the first TLV of type t, if any.
func FindTLV(tlvs []TLV, t PP2Type) ([]byte, bool) {
	for _, tlv := range tlvs {
		if tlv.Type == t {
			return tlv.Value, true
		}
	}
	return nil, false
}
