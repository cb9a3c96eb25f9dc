package proc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/narpc/narpc/pkg/bufpool"
)

// ByteArray is a variable-length byte payload, the data shape used by the
// overflow/spill test scenario: small enough to round-trip eagerly most of
// the time, but with no upper bound, so it is the shape that actually
// exercises the "more data" sub-protocol.
type ByteArray struct {
	Data []byte

	// pooled records whether Data was handed out by bufpool, so FREE mode
	// knows to return it instead of leaving it for the garbage collector.
	pooled bool
}

// ByteArrayCodec encodes/decodes a *ByteArray as [length:uint32][data], and
// on a FREE pass returns any pool-backed buffer it allocated during DECODE.
// Unlike XDR() (pkg/proc/xdr.go), this codec supports spilling: Encode just
// writes through the Cursor, so the Cursor's own fixed/aux transition
// handles overflow transparently.
func ByteArrayCodec() Func {
	return func(c *Cursor, v any) error {
		ba, ok := v.(*ByteArray)
		if !ok {
			return fmt.Errorf("bytearray codec: expected *ByteArray, got %T", v)
		}
		switch c.Mode() {
		case ModeEncode:
			var lenBuf [4]byte
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(ba.Data)))
			if _, err := c.Write(lenBuf[:]); err != nil {
				return err
			}
			if len(ba.Data) > 0 {
				if _, err := c.Write(ba.Data); err != nil {
					return err
				}
			}
			return nil
		case ModeDecode:
			var lenBuf [4]byte
			if _, err := io.ReadFull(c, lenBuf[:]); err != nil {
				return fmt.Errorf("bytearray decode length: %w", err)
			}
			n := binary.LittleEndian.Uint32(lenBuf[:])
			buf := bufpool.Get(int(n))
			if _, err := io.ReadFull(c, buf); err != nil {
				bufpool.Put(buf)
				return fmt.Errorf("bytearray decode data: %w", err)
			}
			ba.Data = buf
			ba.pooled = true
			return nil
		case ModeFree:
			if ba.pooled && ba.Data != nil {
				bufpool.Put(ba.Data)
				ba.Data = nil
				ba.pooled = false
			}
			return nil
		default:
			return fmt.Errorf("bytearray codec: unknown mode %v", c.Mode())
		}
	}
}
