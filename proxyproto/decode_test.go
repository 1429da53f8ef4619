package proxyproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecode_InvalidSignature(t *testing.T) {
	_, err := Decode([]byte("GET / HTTP/1.1\r\n"))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecode_Empty(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
}

func TestDecode_PartialSignature(t *testing.T) {
	// "PROX" is a prefix of both "PROXY " and could, in principle, grow
	// into a complete header; Decode must ask for more rather than
	// reject it outright.
	_, err := Decode([]byte("PROX"))
	assert.ErrorIs(t, err, ErrShortHeader)
}
