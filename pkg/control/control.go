// Package control implements C5: the forward/respond controller that sits
// between a caller's get_struct/set_struct calls (pkg/engine) and the
// transport (pkg/na). It owns the handle state transitions from
// StateInFlight onward, the forward completion trampoline, and the server
// "more data" hook that pulls a spilled request payload before dispatch.
package control

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/narpc/narpc/internal/logger"
	"github.com/narpc/narpc/pkg/bufpool"
	"github.com/narpc/narpc/pkg/engine"
	"github.com/narpc/narpc/pkg/handle"
	"github.com/narpc/narpc/pkg/header"
	"github.com/narpc/narpc/pkg/metrics"
	"github.com/narpc/narpc/pkg/na"
	"github.com/narpc/narpc/pkg/registry"
	"github.com/narpc/narpc/pkg/rpcerr"
)

// Controller drives one context's worth of in-flight and inbound handles
// through the transport. A class (C6) constructs one Controller per
// context it opens.
type Controller struct {
	transport na.Transport
	engine    *engine.Engine
	registry  *registry.Registry
	ctxID     uint8
	crcSize   int

	// handles is the server-side table of inbound handles, keyed by id.
	// HandleInbound populates it so a registration's Handler — which
	// only receives a handle id, matching the original callback shape —
	// can look the handle back up to drive GetStruct/SetStruct/Respond.
	handles sync.Map

	metrics metrics.RPCMetrics
}

// SetMetrics attaches m as the destination for this controller's
// observability. Passing nil (the default) disables collection.
func (ctl *Controller) SetMetrics(m metrics.RPCMetrics) {
	ctl.metrics = m
}

// New returns a Controller bound to transport/eng/reg for context ctxID.
// checksum must match the Options.Checksum the Engine was built with: the
// controller needs to know the eager payload's CRC width to find the
// spill-announcement bytes that follow it.
func New(transport na.Transport, eng *engine.Engine, reg *registry.Registry, ctxID uint8, checksum bool) *Controller {
	crcSize := 0
	if checksum {
		crcSize = 4
	}
	return &Controller{transport: transport, engine: eng, registry: reg, ctxID: ctxID, crcSize: crcSize}
}

// Lookup returns the inbound handle id identifies, or (nil, false). Valid
// for handles HandleInbound created on this controller until Forget is
// called for that id.
func (ctl *Controller) Lookup(id uint64) (*handle.Handle, bool) {
	v, ok := ctl.handles.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*handle.Handle), true
}

// Forget evicts id from the inbound handle table. FreeStruct calls it once a
// server-side handle's refcount has reached zero.
func (ctl *Controller) Forget(id uint64) {
	ctl.handles.Delete(id)
}

// FreeStruct runs the engine's free_struct for h/dir/v and, when that call
// brings h's refcount to zero, forgets h's id from the inbound handle
// table in the same step. Both directions' free_struct calls should run
// through this wrapper rather than calling Engine.FreeStruct directly, so
// the table never outlives the handles it tracks.
func (ctl *Controller) FreeStruct(h *handle.Handle, dir handle.Direction, v any) error {
	released, err := ctl.engine.FreeStruct(h, dir, v)
	if err != nil {
		return err
	}
	if released {
		ctl.Forget(h.ID)
		if ctl.metrics != nil {
			ctl.metrics.SetLiveHandles(ctl.ctxID, ctl.LiveHandles())
		}
	}
	return nil
}

// LiveHandles returns the number of inbound handles still tracked, i.e.
// not yet Forget-ed. A context may not be destroyed while this is nonzero.
func (ctl *Controller) LiveHandles() int {
	n := 0
	ctl.handles.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CtxID returns the context id this controller serves.
func (ctl *Controller) CtxID() uint8 { return ctl.ctxID }

// Forward sends h's already set_struct-encoded input to h.Addr. cb fires
// exactly once: with the response stored in h's output buffer (ready
// for GetStruct) for a normal RPC, or with no response buffer at all for
// one whose registration suppressed it. If h was canceled before the
// transport reports completion, cb instead observes rpcerr.Canceled
// regardless of what the transport itself returned.
func (ctl *Controller) Forward(h *handle.Handle, cb func(err error)) error {
	buf := h.Buf(handle.Input)
	if len(buf) == 0 {
		return rpcerr.Wrap("control.Forward", rpcerr.InvalidParam, h.RPCID, h.ID)
	}

	h.UserCB = cb
	h.SetState(handle.StateInFlight)

	noResponse := false
	if rec, ok := ctl.registry.Lookup(h.RPCID); ok {
		noResponse = rec.ResponseSupp
	}

	start := time.Now()
	err := ctl.transport.Forward(h.Addr, ctl.ctxID, buf, noResponse, func(respPayload []byte, ferr error) {
		ctl.onForwardComplete(h, respPayload, ferr, start)
	})
	if err != nil {
		return rpcerr.Wrap("control.Forward", rpcerr.NAError, h.RPCID, h.ID)
	}
	return nil
}

func (ctl *Controller) onForwardComplete(h *handle.Handle, respPayload []byte, ferr error, start time.Time) {
	// The origin's own input spill, if any, is released as soon as the
	// transport reports completion. When a response came back, the target
	// pulled the spill before dispatching, so it is finished with it.
	spilled := h.GetSpill(handle.Input) != nil
	h.ClearSpill(handle.Input)

	deliver := func(err error) {
		h.SetState(handle.StateDelivered)
		if h.Canceled() {
			err = rpcerr.New("control.Forward", rpcerr.Canceled)
			if ctl.metrics != nil {
				ctl.metrics.RecordCanceled(h.RPCID)
			}
		}
		if ctl.metrics != nil {
			ctl.metrics.RecordForward(h.RPCID, spilled, rpcerr.CodeOf(err).String(), time.Since(start))
		}
		if h.UserCB != nil {
			h.UserCB(err)
		}
	}

	if ferr != nil {
		deliver(rpcerr.Wrap("control.Forward", rpcerr.NAError, h.RPCID, h.ID))
		return
	}
	if respPayload == nil {
		deliver(nil)
		return
	}

	h.SetBuf(handle.Output, respPayload)

	extra, err := hasExtraData(header.KindResponse, respPayload)
	if err != nil {
		deliver(rpcerr.Wrap("control.Forward", rpcerr.ProtocolError, h.RPCID, h.ID))
		return
	}
	if !extra {
		deliver(nil)
		return
	}

	spilled = true
	ctl.pullSpill(h, handle.Output, respPayload, deliver)
}

// Respond sends h's already set_struct-encoded output back to h.Addr
// through respond, the RespondFunc the server's RequestHandler was handed
// for this inbound request. Unlike Forward, no trampoline wraps cb: a
// response never itself expects a second response, so the completion
// signal from the transport is exactly what the caller asked for.
func (ctl *Controller) Respond(h *handle.Handle, respond na.RespondFunc, cb func(err error)) error {
	buf := h.Buf(handle.Output)
	if len(buf) == 0 {
		return rpcerr.Wrap("control.Respond", rpcerr.InvalidParam, h.RPCID, h.ID)
	}
	spilled := h.GetSpill(handle.Output) != nil
	start := time.Now()
	respond(buf, func(err error) {
		h.SetState(handle.StateDelivered)
		if err != nil {
			err = rpcerr.Wrap("control.Respond", rpcerr.NAError, h.RPCID, h.ID)
		}
		if ctl.metrics != nil {
			ctl.metrics.RecordRespond(h.RPCID, spilled, rpcerr.CodeOf(err).String(), time.Since(start))
		}
		if cb != nil {
			cb(err)
		}
	})
	return nil
}

// HandleInbound is installed as the na.RequestHandler for ctl's context. It
// builds a fresh handle for the inbound request, pulls a spilled request
// body first if one was announced, and otherwise dispatches straight to
// the registration's Handler.
func (ctl *Controller) HandleInbound(newHandleID func() uint64) na.RequestHandler {
	return func(from na.Address, payload []byte, respond na.RespondFunc) {
		hsize := header.SizeOf(header.KindRequest)
		if len(payload) < hsize {
			logger.Warn("control: inbound request shorter than header", "size", len(payload))
			return
		}
		hdr, err := header.DecodeRequest(payload[:hsize])
		if err != nil {
			logger.Warn("control: inbound request failed header validation", "err", err)
			return
		}

		h := handle.New(newHandleID(), ctl.registry, from, ctl.ctxID, hdr.RPCID)
		h.SetBuf(handle.Input, payload)
		h.RespondFn = respond
		ctl.handles.Store(h.ID, h)

		rec, ok := ctl.registry.Lookup(hdr.RPCID)
		if !ok {
			logger.Warn("control: inbound request for unregistered rpc", "rpc_id", hdr.RPCID)
			return
		}

		dispatch := func() {
			h.SetState(handle.StateDelivered)
			rec.Handler(h.ID)
		}

		extra, err := hasExtraData(header.KindRequest, payload)
		if err != nil {
			logger.Warn("control: inbound request flag decode failed", "rpc_id", hdr.RPCID, "err", err)
			return
		}
		if !extra {
			dispatch()
			return
		}

		ctl.pullSpill(h, handle.Input, payload, func(err error) {
			if err != nil {
				logger.Warn("control: more-data pull failed", "rpc_id", hdr.RPCID, "handle_id", h.ID, "err", err)
				return
			}
			dispatch()
		})
	}
}

// pullSpill is the "more data" hook: it decodes the spill announcement
// set_struct wrote into buf's payload region, allocates a landing buffer
// whose backing allocation is rounded up to a page multiple
// (bufpool.GetAligned; the start address is not page-aligned), and pulls the described bulk region from the peer before
// invoking done.
func (ctl *Controller) pullSpill(h *handle.Handle, dir handle.Direction, buf []byte, done func(error)) {
	h.SetState(handle.StateExtraPull)

	hsize := header.SizeOf(headerKindFor(dir))
	body := buf[hsize:]
	if len(body) < ctl.crcSize+8 {
		done(rpcerr.Wrap("control.pullSpill", rpcerr.SizeError, h.RPCID, h.ID))
		return
	}
	region := body[ctl.crcSize:]
	payloadSize := binary.LittleEndian.Uint32(region[0:4])
	descLen := binary.LittleEndian.Uint32(region[4:8])
	if uint32(len(region)) < 8+descLen {
		done(rpcerr.Wrap("control.pullSpill", rpcerr.SizeError, h.RPCID, h.ID))
		return
	}
	desc := na.BulkDescriptor(region[8 : 8+descLen])

	landing := bufpool.GetAligned(int(payloadSize))
	ctl.transport.Pull(h.Addr, desc, landing, func(err error) {
		if err != nil {
			bufpool.Put(landing)
			done(rpcerr.Wrap("control.pullSpill", rpcerr.NAError, h.RPCID, h.ID))
			return
		}
		h.SetSpill(dir, landing, nil)
		done(nil)
	})
}

func headerKindFor(dir handle.Direction) header.Kind {
	if dir == handle.Input {
		return header.KindRequest
	}
	return header.KindResponse
}

func hasExtraData(kind header.Kind, buf []byte) (bool, error) {
	hsize := header.SizeOf(kind)
	if len(buf) < hsize {
		return false, fmt.Errorf("control: buffer shorter than %s header", kindName(kind))
	}
	switch kind {
	case header.KindRequest:
		hdr, err := header.DecodeRequest(buf[:hsize])
		if err != nil {
			return false, err
		}
		return hdr.Flags&header.FlagExtraData != 0, nil
	case header.KindResponse:
		hdr, err := header.DecodeResponse(buf[:hsize])
		if err != nil {
			return false, err
		}
		return hdr.Flags&header.FlagExtraData != 0, nil
	default:
		return false, fmt.Errorf("control: unknown header kind %d", kind)
	}
}

func kindName(kind header.Kind) string {
	if kind == header.KindRequest {
		return "request"
	}
	return "response"
}
