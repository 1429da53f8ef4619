package proxyproto

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseTLVs_Empty(t *testing.T) {
	tlvs, err := ParseTLVs(nil)
	assert.NoError(t, err)
	assert.Nil(t, tlvs)
}

func TestParseTLVs_Truncated(t *testing.T) {
	_, err := ParseTLVs([]byte{0x01, 0x00})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestParseTLVs_Multiple(t *testing.T) {
	buf := []byte{
		byte(PP2TypeNOOP), 0x00, 0x01, 'x',
		byte(PP2TypeCRC32C), 0x00, 0x02, 'y', 'z',
	}
	tlvs, err := ParseTLVs(buf)
	assert.NoError(t, err)
	assert.Len(t, tlvs, 2)
	assert.Equal(t, PP2TypeNOOP, tlvs[0].Type)
	assert.Equal(t, []byte("x"), tlvs[0].Value)
	assert.Equal(t, PP2TypeCRC32C, tlvs[1].Type)
	assert.Equal(t, []byte("yz"), tlvs[1].Value)
}
