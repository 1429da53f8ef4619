package udpforward

import "errors"

// errV1NotSupported is returned when a datagram decodes as a PROXY
// protocol v1 header. v1 is a text protocol with no
// length prefix, meaningful only at the start of a TCP byte stream; a
// UDP datagram carrying it has no reliable way to separate header from
// payload, so such sessions are rejected rather than guessed at.
var errV1NotSupported = errors.New("udpforward: PROXY v1 is not supported over UDP")
