// Package header implements C1: the fixed-size request/response header
// that precedes every eager payload. It is the one part of the wire format
// that is never delegated to a user codec — its layout, byte order, and
// checksum are fixed so that a peer can always identify and validate a
// message before it knows anything about the RPC it carries.
package header

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/narpc/narpc/internal/logger"
	"github.com/narpc/narpc/pkg/rpcerr"
)

// Magic is the fixed identifier byte every request header begins its
// checksum domain with; response headers carry no magic byte of their own.
const Magic uint8 = 0xD7

// Flag bits carried in both header kinds.
const (
	FlagExtraData uint8 = 1 << 0 // a bulk descriptor for a spilled payload follows in the payload region
	FlagNoResponse uint8 = 1 << 1 // set on requests whose registration disabled the response
)

// Sizes, in bytes, of the two header kinds once encoded. These are the H
// values the framing engine uses to find where payload starts.
const (
	RequestSize  = 1 + 4 + 8 + 1 + 4 + 2 // magic, version, rpc id, flags, cookie, crc16
	ResponseSize = 1 + 1 + 4 + 2 + 1     // flags, error, cookie, crc16, padding
)

// Version is the packed major.minor.patch the local build advertises.
type Version struct {
	Major, Minor, Patch uint8
}

// LocalVersion is the protocol version this build speaks. Bumping Major is
// a breaking wire change; Minor/Patch skew is tolerated (see VerifyRequest).
var LocalVersion = Version{Major: 1, Minor: 0, Patch: 0}

func (v Version) pack() uint32 {
	return uint32(v.Major)<<24 | uint32(v.Minor)<<16 | uint32(v.Patch)
}

func unpackVersion(u uint32) Version {
	return Version{
		Major: uint8(u >> 24),
		Minor: uint8(u >> 16),
		Patch: uint8(u),
	}
}

// cookieCounter seeds request cookies from a monotonic counter rather than
// a random source, so cookies are unique within a process lifetime but not
// across restarts.
var cookieCounter atomic.Uint32

func nextCookie() uint32 {
	return cookieCounter.Add(1)
}

// Request is the header prefixed to every client-to-server eager message.
type Request struct {
	Magic   uint8
	Version Version
	RPCID   uint64
	Flags   uint8
	Cookie  uint32
	CRC16   uint16
}

// Response is the header prefixed to every server-to-client eager message.
// It carries no RPC id; the handle that issued the forward supplies the
// correlation.
type Response struct {
	Flags  uint8
	Error  uint8
	Cookie uint32
	CRC16  uint16
	// one byte of padding, written as zero and ignored on decode
}

// InitRequest builds a fresh request header for id with flags, assigning it
// a new cookie.
func InitRequest(id uint64, flags uint8) Request {
	return Request{
		Magic:   Magic,
		Version: LocalVersion,
		RPCID:   id,
		Flags:   flags,
		Cookie:  nextCookie(),
	}
}

// InitResponse builds a fresh response header, assigning it a new cookie.
// Callers that want the cookie to echo the request's should overwrite it
// after InitResponse returns.
func InitResponse() Response {
	return Response{Cookie: nextCookie()}
}

// EncodeRequest writes exactly RequestSize bytes to buf[0:], computing and
// filling CRC16 as it goes (with the CRC field itself treated as zero
// during the computation).
func EncodeRequest(buf []byte, h *Request) error {
	if len(buf) < RequestSize {
		return rpcerr.New("header.EncodeRequest", rpcerr.SizeError)
	}
	buf[0] = h.Magic
	binary.LittleEndian.PutUint32(buf[1:5], h.Version.pack())
	binary.LittleEndian.PutUint64(buf[5:13], h.RPCID)
	buf[13] = h.Flags
	binary.LittleEndian.PutUint32(buf[14:18], h.Cookie)
	buf[18], buf[19] = 0, 0 // crc field zeroed during computation

	h.CRC16 = crc16(buf[:RequestSize], 0)
	binary.LittleEndian.PutUint16(buf[18:20], h.CRC16)
	return nil
}

// DecodeRequest reads a request header from buf[0:RequestSize] and verifies
// it in the same pass (magic, version, CRC16).
func DecodeRequest(buf []byte) (Request, error) {
	var h Request
	if len(buf) < RequestSize {
		return h, rpcerr.New("header.DecodeRequest", rpcerr.SizeError)
	}

	wireCRC := binary.LittleEndian.Uint16(buf[18:20])

	zeroed := make([]byte, RequestSize)
	copy(zeroed, buf[:RequestSize])
	zeroed[18], zeroed[19] = 0, 0
	computed := crc16(zeroed, 0)

	h.Magic = buf[0]
	h.Version = unpackVersion(binary.LittleEndian.Uint32(buf[1:5]))
	h.RPCID = binary.LittleEndian.Uint64(buf[5:13])
	h.Flags = buf[13]
	h.Cookie = binary.LittleEndian.Uint32(buf[14:18])
	h.CRC16 = wireCRC

	if computed != wireCRC {
		return h, rpcerr.New("header.DecodeRequest", rpcerr.ChecksumError)
	}
	if err := VerifyRequest(h); err != nil {
		return h, err
	}
	return h, nil
}

// VerifyRequest checks the header fields that DecodeRequest's CRC check
// does not cover: magic and protocol compatibility. Major version must
// match exactly; minor/patch skew in either direction is accepted (the
// local build simply has not been told about that skew).
func VerifyRequest(h Request) error {
	if h.Magic != Magic {
		return rpcerr.New("header.VerifyRequest", rpcerr.ProtocolError)
	}
	if h.Version.Major != LocalVersion.Major {
		return rpcerr.New("header.VerifyRequest", rpcerr.ProtocolError)
	}
	if h.Version.Minor != LocalVersion.Minor || h.Version.Patch != LocalVersion.Patch {
		logger.Warn("peer protocol version skew",
			"peer_version", fmt.Sprintf("%d.%d.%d", h.Version.Major, h.Version.Minor, h.Version.Patch),
			"local_version", fmt.Sprintf("%d.%d.%d", LocalVersion.Major, LocalVersion.Minor, LocalVersion.Patch),
			"rpc_id", h.RPCID,
		)
	}
	return nil
}

// EncodeResponse writes exactly ResponseSize bytes to buf[0:].
func EncodeResponse(buf []byte, h *Response) error {
	if len(buf) < ResponseSize {
		return rpcerr.New("header.EncodeResponse", rpcerr.SizeError)
	}
	buf[0] = h.Flags
	buf[1] = h.Error
	binary.LittleEndian.PutUint32(buf[2:6], h.Cookie)
	buf[6], buf[7] = 0, 0
	buf[8] = 0 // padding

	h.CRC16 = crc16(buf[:ResponseSize], 0)
	binary.LittleEndian.PutUint16(buf[6:8], h.CRC16)
	return nil
}

// DecodeResponse reads and verifies a response header from buf[0:ResponseSize].
func DecodeResponse(buf []byte) (Response, error) {
	var h Response
	if len(buf) < ResponseSize {
		return h, rpcerr.New("header.DecodeResponse", rpcerr.SizeError)
	}

	wireCRC := binary.LittleEndian.Uint16(buf[6:8])

	zeroed := make([]byte, ResponseSize)
	copy(zeroed, buf[:ResponseSize])
	zeroed[6], zeroed[7] = 0, 0
	computed := crc16(zeroed, 0)

	h.Flags = buf[0]
	h.Error = buf[1]
	h.Cookie = binary.LittleEndian.Uint32(buf[2:6])
	h.CRC16 = wireCRC

	if computed != wireCRC {
		return h, rpcerr.New("header.DecodeResponse", rpcerr.ChecksumError)
	}
	return h, nil
}

// Kind distinguishes the two header shapes for size queries.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
)

// SizeOf returns the fixed on-wire size of the given header kind.
func SizeOf(kind Kind) int {
	switch kind {
	case KindRequest:
		return RequestSize
	case KindResponse:
		return ResponseSize
	default:
		panic(fmt.Sprintf("header: unknown kind %d", kind))
	}
}
