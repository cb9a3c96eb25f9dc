// Package engine implements C4, the framing engine: the three operations
// (get_struct, set_struct, free_struct) that move a registered Go value
// through a handle's eager buffer, the wire header, and — when the eager
// window is not big enough — a spilled bulk transfer.
//
// The engine itself never talks to a transport directly except to
// register a spilled buffer for pickup (RegisterBulk); actually pulling a
// spilled payload across the wire is pkg/control's job, driven by the
// "more data" hook installed at the class/context layer (C6).
package engine

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/narpc/narpc/internal/logger"
	"github.com/narpc/narpc/pkg/bufpool"
	"github.com/narpc/narpc/pkg/handle"
	"github.com/narpc/narpc/pkg/header"
	"github.com/narpc/narpc/pkg/na"
	"github.com/narpc/narpc/pkg/proc"
	"github.com/narpc/narpc/pkg/rpcerr"
)

// Spilled payloads are announced in the eager payload region as:
//
//	[payloadSize uint32][descLen uint32][descriptor bytes]
//
// payloadSize is carried explicitly rather than left for the puller to
// infer from the (transport-opaque) descriptor, so pkg/control can size its
// landing buffer without knowing anything about a particular na.Transport's
// descriptor layout.
const spillAnnounceFixedLen = 8

// Options configures one Engine. A class (C6) constructs a single Engine
// and shares it across every handle it creates.
type Options struct {
	// Checksum enables CRC32 protection of eager-path payloads. It does
	// not cover spilled payloads; those are carried one-sided, outside
	// the header's own framing.
	Checksum bool

	// AllowSpill gates whether set_struct may hand an overflowing encode
	// off to a bulk transfer. The "XDR mode" build toggle is modeled as
	// AllowSpill=false: disabling spill uniformly, rather than
	// special-casing any particular codec, is the interpretation this
	// module takes of that toggle (see DESIGN.md).
	AllowSpill bool

	// InputEagerSize and OutputEagerSize are the total buffer sizes
	// (header included) a context reserves for each direction. C6 passes
	// its configured per-direction sizes through unchanged; SetStruct
	// subtracts the header and CRC sizes itself.
	InputEagerSize  int
	OutputEagerSize int
}

// Engine runs get_struct/set_struct/free_struct against a handle.
type Engine struct {
	opts      Options
	transport na.Transport
}

// New returns an Engine bound to transport, used only to register bulk
// regions when an encode spills.
func New(opts Options, transport na.Transport) *Engine {
	return &Engine{opts: opts, transport: transport}
}

func headerKindFor(dir handle.Direction) header.Kind {
	if dir == handle.Input {
		return header.KindRequest
	}
	return header.KindResponse
}

func (e *Engine) eagerSize(dir handle.Direction) int {
	if dir == handle.Input {
		return e.opts.InputEagerSize
	}
	return e.opts.OutputEagerSize
}

func (e *Engine) crcSize() int {
	if e.opts.Checksum {
		return 4
	}
	return 0
}

// GetStruct decodes dir's wire bytes on h into out. On success it
// increments h's reference count and moves h to StateDecoded.
func (e *Engine) GetStruct(h *handle.Handle, dir handle.Direction, out any) error {
	rec, ok := h.Registry.Lookup(h.RPCID)
	if !ok {
		return rpcerr.Wrap("engine.GetStruct", rpcerr.NoMatch, h.RPCID, h.ID)
	}
	if dir == handle.Output && rec.ResponseSupp {
		return rpcerr.Wrap("engine.GetStruct", rpcerr.ProtocolError, h.RPCID, h.ID)
	}

	codec := rec.InCodec
	if dir == handle.Output {
		codec = rec.OutCodec
	}
	if codec == nil || out == nil {
		return rpcerr.Wrap("engine.GetStruct", rpcerr.InvalidParam, h.RPCID, h.ID)
	}

	raw := h.Buf(dir)
	hsize := header.SizeOf(headerKindFor(dir))
	if len(raw) < hsize {
		return rpcerr.Wrap("engine.GetStruct", rpcerr.SizeError, h.RPCID, h.ID)
	}

	var flags uint8
	switch dir {
	case handle.Input:
		hdr, err := header.DecodeRequest(raw[:hsize])
		if err != nil {
			return rpcerr.Wrap("engine.GetStruct", rpcerr.CodeOf(err), h.RPCID, h.ID)
		}
		flags = hdr.Flags
	case handle.Output:
		hdr, err := header.DecodeResponse(raw[:hsize])
		if err != nil {
			return rpcerr.Wrap("engine.GetStruct", rpcerr.CodeOf(err), h.RPCID, h.ID)
		}
		flags = hdr.Flags
		h.RespondCode = rpcerr.Code(hdr.Error)
	}

	var payload []byte
	if flags&header.FlagExtraData != 0 {
		spill := h.GetSpill(dir)
		if spill == nil {
			return rpcerr.Wrap("engine.GetStruct", rpcerr.ProtocolError, h.RPCID, h.ID)
		}
		payload = spill.Data
	} else {
		body := raw[hsize:]
		crcSize := e.crcSize()
		if len(body) < crcSize {
			return rpcerr.Wrap("engine.GetStruct", rpcerr.SizeError, h.RPCID, h.ID)
		}
		var wantCRC uint32
		if e.opts.Checksum {
			wantCRC = binary.LittleEndian.Uint32(body[:crcSize])
		}
		payload = body[crcSize:]
		if e.opts.Checksum {
			if got := crc32.ChecksumIEEE(payload); got != wantCRC {
				return rpcerr.Wrap("engine.GetStruct", rpcerr.ChecksumError, h.RPCID, h.ID)
			}
		}
	}

	cur := proc.NewDecoder(bytes.NewReader(payload), false)
	if err := codec(cur, out); err != nil {
		return rpcerr.Wrap("engine.GetStruct", rpcerr.OtherError, h.RPCID, h.ID)
	}

	h.RefIncr()
	h.SetState(handle.StateDecoded)
	return nil
}

// SetStruct encodes in as dir's wire bytes on h, including the header.
// When the codec's output overflows the configured eager window and
// spilling is permitted, the payload region instead carries a bulk
// descriptor and moreData reports true; the spill has then already been
// registered with the transport and attached to h.
func (e *Engine) SetStruct(h *handle.Handle, dir handle.Direction, in any) (moreData bool, err error) {
	var rec *rpcRecord
	if r, ok := h.Registry.Lookup(h.RPCID); ok {
		rec = &rpcRecord{responseSupp: r.ResponseSupp}
		if dir == handle.Input {
			rec.codec = r.InCodec
		} else {
			rec.codec = r.OutCodec
		}
	}

	hsize := header.SizeOf(headerKindFor(dir))
	crcSize := e.crcSize()

	if rec == nil || rec.codec == nil || in == nil {
		buf := bufpool.Get(hsize)[:hsize]
		if err := e.encodeHeader(h, dir, buf, 0); err != nil {
			return false, err
		}
		h.SetBuf(dir, buf)
		h.SetState(handle.StateEncoded)
		return false, nil
	}

	eagerCap := e.eagerSize(dir)
	fixedPayload := eagerCap - hsize - crcSize
	if fixedPayload < 0 {
		fixedPayload = 0
	}

	cur := proc.NewEncoder(make([]byte, fixedPayload), false, e.opts.AllowSpill)
	if encErr := rec.codec(cur, in); encErr != nil {
		if errors.Is(encErr, proc.ErrCannotSpill) {
			return false, rpcerr.Wrap("engine.SetStruct", rpcerr.SizeError, h.RPCID, h.ID)
		}
		return false, rpcerr.Wrap("engine.SetStruct", rpcerr.OtherError, h.RPCID, h.ID)
	}

	var payload []byte
	flags := uint8(0)
	if dir == handle.Input && rec.responseSupp {
		flags |= header.FlagNoResponse
	}

	if cur.Spilled() {
		if e.transport == nil {
			return false, rpcerr.Wrap("engine.SetStruct", rpcerr.OtherError, h.RPCID, h.ID)
		}
		spillData := cur.SpillBytes()
		bulk := e.transport.RegisterBulk(spillData)
		desc := bulk.Descriptor()

		descBuf := make([]byte, spillAnnounceFixedLen+len(desc))
		binary.LittleEndian.PutUint32(descBuf[0:4], uint32(len(spillData)))
		binary.LittleEndian.PutUint32(descBuf[4:8], uint32(len(desc)))
		copy(descBuf[spillAnnounceFixedLen:], desc)

		if len(descBuf) > fixedPayload {
			bulk.Free()
			return false, rpcerr.Wrap("engine.SetStruct", rpcerr.SizeError, h.RPCID, h.ID)
		}

		h.SetSpill(dir, spillData, bulk)
		payload = descBuf
		flags |= header.FlagExtraData
		moreData = true
	} else {
		payload = cur.FixedBytes()
	}

	buf := bufpool.Get(hsize + crcSize + len(payload))
	buf = buf[:hsize+crcSize+len(payload)]
	copy(buf[hsize+crcSize:], payload)
	if e.opts.Checksum {
		crcVal := crc32.ChecksumIEEE(payload)
		binary.LittleEndian.PutUint32(buf[hsize:hsize+crcSize], crcVal)
	}

	if err := e.encodeHeader(h, dir, buf, flags); err != nil {
		return false, err
	}

	h.SetBuf(dir, buf)
	h.SetState(handle.StateEncoded)
	return moreData, nil
}

// FreeStruct runs v's codec in FREE mode and drops h's reference, releasing
// it (and any attached spill) once the count reaches zero. The returned
// bool is Handle.Destroy's own result: true exactly when this call was the
// one that brought the refcount to zero, the signal callers use to retire
// h from whatever table is tracking it (see Controller.FreeStruct).
func (e *Engine) FreeStruct(h *handle.Handle, dir handle.Direction, v any) (bool, error) {
	if v != nil {
		if rec, ok := h.Registry.Lookup(h.RPCID); ok {
			codec := rec.InCodec
			if dir == handle.Output {
				codec = rec.OutCodec
			}
			if codec != nil {
				if err := codec(proc.NewFree(), v); err != nil {
					logger.Warn("free_struct codec returned an error", "rpc_id", h.RPCID, "handle_id", h.ID, "err", err)
				}
			}
		}
	}
	return h.Destroy(), nil
}

func (e *Engine) encodeHeader(h *handle.Handle, dir handle.Direction, buf []byte, flags uint8) error {
	switch dir {
	case handle.Input:
		hdr := header.InitRequest(h.RPCID, flags)
		return header.EncodeRequest(buf, &hdr)
	case handle.Output:
		hdr := header.InitResponse()
		hdr.Flags = flags
		hdr.Error = uint8(h.RespondCode)
		return header.EncodeResponse(buf, &hdr)
	}
	return nil
}

// rpcRecord is the narrow view of a registry.Record that SetStruct needs;
// kept local so engine does not re-import registry.Record's full field set
// through every call site.
type rpcRecord struct {
	codec        proc.Func
	responseSupp bool
}
