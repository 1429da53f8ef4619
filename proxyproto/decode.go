package proxyproto

import "bytes"

var (
	sigV1 = []byte("PROXY ")
	sigV2 = []byte{0x0D, 0x0A, 0x0D, 0x0A, 0x00, 0x0D, 0x0A, 0x51, 0x55, 0x49, 0x54, 0x0A}
)

// Result is the outcome of decoding a PROXY header from the head of a
// connection or a single datagram.
type Result struct {
	// Addresses is nil when the header carried v1 UNKNOWN or v2 UNSPEC
	// (or command LOCAL): the caller must substitute the observed peer
	// address rather than the PROXY header's.
	Addresses *Addresses

	// Rest is the slice of buf following the header: for TCP it must be
	// written to the upstream before the relay begins; for UDP it is the
	// forwarded datagram payload.
	Rest []byte

	// Version is 1 or 2.
	Version int

	// TLVs holds the v2 type-length-value records that followed the
	// fixed address block, if any. Always nil for v1.
	TLVs []TLV
}

// Decode parses a PROXY protocol header from the head of buf. It never
// reads past the header: Result.Rest is the unconsumed remainder.
//
// Decode does not loop waiting for more input. If buf does not yet
// contain a complete header, it returns ErrShortHeader; the caller is
// responsible for having read enough of the connection or datagram
// first. PROXY headers are assumed to arrive whole in the first
// segment.
func Decode(buf []byte) (Result, error) {
	switch {
	case bytes.HasPrefix(buf, sigV2):
		return decodeV2(buf)
	case bytes.HasPrefix(buf, sigV1):
		return decodeV1(buf)
	case len(buf) < len(sigV2) && bytes.HasPrefix(sigV2, buf):
		return Result{}, ErrShortHeader
	case len(buf) < len(sigV1) && bytes.HasPrefix(sigV1, buf):
		return Result{}, ErrShortHeader
	default:
		return Result{}, headerErr(buf, ErrInvalidSignature)
	}
}
