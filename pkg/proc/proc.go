// Package proc implements the generic processor ("proc") cursor that every
// codec in this module is driven through. A proc wraps a fixed-size eager
// window and transparently grows an auxiliary buffer when an encode
// overflows it, mirroring the external serialization engine the framing
// engine treats as a collaborator: callers hand it a Func, the proc tracks
// whether that Func ended up spilling, and the framing engine (pkg/engine)
// decides what to do about it.
package proc

import (
	"bytes"
	"errors"
	"hash"
	"hash/crc32"
	"io"
)

// Mode selects which pass a Func is being run for. The same Func is invoked
// once per mode over the lifetime of a handle's input or output: ENCODE (or
// DECODE) to move bytes, then FREE to release any memory the DECODE pass
// allocated.
type Mode int

const (
	ModeEncode Mode = iota
	ModeDecode
	ModeFree
)

func (m Mode) String() string {
	switch m {
	case ModeEncode:
		return "encode"
	case ModeDecode:
		return "decode"
	case ModeFree:
		return "free"
	default:
		return "unknown"
	}
}

// Func is a user-registered codec: it moves v's fields through c according
// to c.Mode(). A registration stores one Func per direction, and each must
// be idempotent across repeated FREE calls.
type Func func(c *Cursor, v any) error

// ErrCannotSpill is returned by Cursor.Write when the cursor was constructed
// with spilling disabled (the XDR build toggle, see pkg/config) and an
// encode would otherwise overflow the fixed window. The framing engine
// surfaces this as rpcerr.SizeError rather than truncating silently.
var ErrCannotSpill = errors.New("proc: payload exceeds eager buffer and spilling is disabled")

// Cursor is the read/write position handed to a Func. In ENCODE mode it is
// an io.Writer backed first by a fixed-size window and, on overflow, by a
// growable auxiliary buffer. In DECODE mode it is an io.Reader over
// whatever byte source the framing engine selected (the eager payload
// region or a previously pulled spill buffer). In FREE mode it carries no
// data at all; a Func runs purely for its side effects.
type Cursor struct {
	mode Mode

	fixed    []byte
	fixedPos int
	aux      *bytes.Buffer
	spilled  bool
	canSpill bool

	src io.Reader

	used int

	crcEnabled bool
	crc        hash.Hash32
}

// NewEncoder returns a Cursor that writes into fixed, spilling into a
// growable buffer once fixed is exhausted unless allowSpill is false (the
// XDR-mode build toggle), in which case an overflow reports ErrCannotSpill.
func NewEncoder(fixed []byte, checksum bool, allowSpill bool) *Cursor {
	c := &Cursor{mode: ModeEncode, fixed: fixed, canSpill: allowSpill, crcEnabled: checksum}
	if checksum {
		c.crc = crc32.NewIEEE()
	}
	return c
}

// NewDecoder returns a Cursor that reads from src.
func NewDecoder(src io.Reader, checksum bool) *Cursor {
	c := &Cursor{mode: ModeDecode, src: src, crcEnabled: checksum}
	if checksum {
		c.crc = crc32.NewIEEE()
	}
	return c
}

// NewFree returns a Cursor in FREE mode. Funcs must tolerate Write/Read
// never being called on it.
func NewFree() *Cursor {
	return &Cursor{mode: ModeFree}
}

// Mode reports which pass is in progress.
func (c *Cursor) Mode() Mode { return c.mode }

// Write implements io.Writer for ENCODE mode. Bytes land in the fixed
// window until it fills; from that point on the entire payload (including
// whatever had already been written to fixed) is relocated into a freshly
// allocated auxiliary buffer so the spilled region stays contiguous.
func (c *Cursor) Write(p []byte) (int, error) {
	if c.mode != ModeEncode {
		return 0, errors.New("proc: Write called outside ENCODE mode")
	}
	n := len(p)
	c.used += n
	if c.crcEnabled {
		c.crc.Write(p)
	}

	if c.spilled {
		c.aux.Write(p)
		return n, nil
	}

	remaining := len(c.fixed) - c.fixedPos
	if remaining >= n {
		copy(c.fixed[c.fixedPos:], p)
		c.fixedPos += n
		return n, nil
	}

	if !c.canSpill {
		return 0, ErrCannotSpill
	}

	c.spilled = true
	c.aux = new(bytes.Buffer)
	c.aux.Write(c.fixed[:c.fixedPos])
	c.aux.Write(p)
	return n, nil
}

// Read implements io.Reader for DECODE mode, delegating to the configured
// source and tracking the running checksum alongside it.
func (c *Cursor) Read(p []byte) (int, error) {
	if c.mode != ModeDecode {
		return 0, errors.New("proc: Read called outside DECODE mode")
	}
	n, err := c.src.Read(p)
	if n > 0 {
		c.used += n
		if c.crcEnabled {
			c.crc.Write(p[:n])
		}
	}
	return n, err
}

// Spilled reports whether an ENCODE pass grew an auxiliary buffer.
func (c *Cursor) Spilled() bool { return c.spilled }

// FixedBytes returns the bytes written so far within the fixed window. It
// is only meaningful when Spilled is false; once spilled, the complete
// payload lives in SpillBytes instead.
func (c *Cursor) FixedBytes() []byte {
	if c.spilled {
		return nil
	}
	return c.fixed[:c.fixedPos]
}

// SpillBytes returns the complete encoded payload once Spilled is true. The
// caller (pkg/engine) takes ownership of the returned slice; the cursor
// must not be reused afterward.
func (c *Cursor) SpillBytes() []byte {
	if c.aux == nil {
		return nil
	}
	return c.aux.Bytes()
}

// Used returns the number of payload bytes moved so far (fixed region only,
// unless spilled, in which case it is the full payload size).
func (c *Cursor) Used() int { return c.used }

// Checksum returns the running CRC32 over everything moved through the
// cursor. Only meaningful when the cursor was constructed with checksum
// enabled.
func (c *Cursor) Checksum() uint32 {
	if c.crc == nil {
		return 0
	}
	return c.crc.Sum32()
}
