package header

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narpc/narpc/pkg/rpcerr"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	buf := make([]byte, RequestSize)
	h := InitRequest(12345, FlagExtraData)
	require.NoError(t, EncodeRequest(buf, &h))

	decoded, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), decoded.RPCID)
	assert.Equal(t, FlagExtraData, decoded.Flags)
	assert.Equal(t, LocalVersion, decoded.Version)
	assert.Equal(t, h.Cookie, decoded.Cookie)
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	buf := make([]byte, ResponseSize)
	h := InitResponse()
	h.Flags = FlagNoResponse
	h.Error = uint8(rpcerr.NoMatch)
	require.NoError(t, EncodeResponse(buf, &h))

	decoded, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, FlagNoResponse, decoded.Flags)
	assert.Equal(t, uint8(rpcerr.NoMatch), decoded.Error)
	assert.Equal(t, h.Cookie, decoded.Cookie)
}

func TestDecodeRequestDetectsBitFlipAsChecksumError(t *testing.T) {
	buf := make([]byte, RequestSize)
	h := InitRequest(1, 0)
	require.NoError(t, EncodeRequest(buf, &h))

	buf[5] ^= 0x01 // flip a bit inside the rpc id field

	_, err := DecodeRequest(buf)
	require.Error(t, err)
	assert.Equal(t, rpcerr.ChecksumError, rpcerr.CodeOf(err))
}

func TestDecodeResponseDetectsBitFlipAsChecksumError(t *testing.T) {
	buf := make([]byte, ResponseSize)
	h := InitResponse()
	require.NoError(t, EncodeResponse(buf, &h))

	buf[1] ^= 0x01

	_, err := DecodeResponse(buf)
	require.Error(t, err)
	assert.Equal(t, rpcerr.ChecksumError, rpcerr.CodeOf(err))
}

func TestVerifyRequestRejectsBadMagic(t *testing.T) {
	h := InitRequest(1, 0)
	h.Magic = 0xAA
	err := VerifyRequest(h)
	require.Error(t, err)
	assert.Equal(t, rpcerr.ProtocolError, rpcerr.CodeOf(err))
}

func TestVerifyRequestRejectsMajorMismatch(t *testing.T) {
	h := InitRequest(1, 0)
	h.Version.Major = LocalVersion.Major + 1
	err := VerifyRequest(h)
	require.Error(t, err)
	assert.Equal(t, rpcerr.ProtocolError, rpcerr.CodeOf(err))
}

func TestVerifyRequestToleratesMinorPatchSkew(t *testing.T) {
	h := InitRequest(1, 0)
	h.Version.Minor = LocalVersion.Minor + 1
	h.Version.Patch = LocalVersion.Patch + 3
	assert.NoError(t, VerifyRequest(h))
}

func TestDecodeRequestRejectsShortBuffer(t *testing.T) {
	_, err := DecodeRequest(make([]byte, RequestSize-1))
	require.Error(t, err)
	assert.Equal(t, rpcerr.SizeError, rpcerr.CodeOf(err))
}

func TestSizeOfPanicsOnUnknownKind(t *testing.T) {
	assert.Panics(t, func() { SizeOf(Kind(99)) })
}

func TestCRC16MatchesKnownVector(t *testing.T) {
	// CRC-16/ARC of the ASCII string "123456789" is the well-known
	// conformance vector 0xBB3D.
	got := crc16([]byte("123456789"), 0)
	assert.Equal(t, uint16(0xBB3D), got)
}
