package proxyproto

import "errors"

// Sentinel errors returned (possibly wrapped) by Decode. Callers should
// use errors.Is against these rather than matching on Decode's own
// *HeaderError type, per the donor library's InvalidHeaderErr convention
// of keeping the wrapped cause inspectable.
var (
	// ErrShortHeader means buf did not contain a complete header; the
	// caller would need to read more bytes before this input could be
	// decoded. The TCP and UDP forwarders in this module never retry,
	// per the "single read" design documented for the partial-header
	// open question.
	ErrShortHeader = errors.New("proxyproto: incomplete header")

	// ErrInvalidSignature means buf does not begin with either the v1
	// "PROXY " or the v2 12-byte binary signature.
	ErrInvalidSignature = errors.New("proxyproto: invalid signature")

	// ErrHeaderTooLong means a v1 header exceeded the 107-byte limit
	// HAProxy documents without a terminating CRLF.
	ErrHeaderTooLong = errors.New("proxyproto: v1 header too long")

	// ErrUnixUnsupported means a v2 header named AF_UNIX; Unix-domain
	// addresses are explicitly rejected by this implementation.
	ErrUnixUnsupported = errors.New("proxyproto: unix addresses unsupported")

	// ErrInvalidVersion means the v2 signature matched but the high
	// nibble of the version/command byte was not 2.
	ErrInvalidVersion = errors.New("proxyproto: invalid v2 version")

	// ErrInvalidCommand means the low nibble of the version/command byte
	// named a command other than LOCAL or PROXY.
	ErrInvalidCommand = errors.New("proxyproto: invalid v2 command")

	// ErrInvalidFamily means the v2 header named an address family this
	// implementation does not recognize.
	ErrInvalidFamily = errors.New("proxyproto: invalid v2 address family")

	// ErrInvalidProtocol means the v2 header named a transport protocol
	// this implementation does not recognize.
	ErrInvalidProtocol = errors.New("proxyproto: invalid v2 transport protocol")

	// ErrUnsupportedFamily means a v1 header named a family other than
	// TCP4, TCP6, or UNKNOWN.
	ErrUnsupportedFamily = errors.New("proxyproto: unsupported v1 family")

	// ErrInvalidAddress means a v1 header's source or destination field
	// did not parse as an IP address.
	ErrInvalidAddress = errors.New("proxyproto: invalid address")
)

// HeaderError decorates a sentinel error with the bytes consumed so far,
// mirroring the donor library's InvalidHeaderErr: callers that log parse
// failures can include the raw bytes without re-deriving them.
type HeaderError struct {
	Read []byte
	err  error
}

func (e *HeaderError) Error() string { return e.err.Error() }
func (e *HeaderError) Unwrap() error { return e.err }

func headerErr(read []byte, err error) *HeaderError {
	return &HeaderError{Read: read, err: err}
}
