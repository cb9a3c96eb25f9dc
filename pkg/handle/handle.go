// Package handle implements C3: the per-RPC object that carries a
// reference count, the raw eager buffers for each direction, the extra
// ("spill") buffer slot, and the user callback/argument for whichever
// forward or respond is currently outstanding.
//
// Where the original keeps a void-pointer "private data" blob hung off
// every handle with a matching destructor function pointer, this package
// just gives the handle typed fields for that state directly — there is
// no downcast to get back to it.
package handle

import (
	"sync"
	"sync/atomic"

	"github.com/narpc/narpc/pkg/na"
	"github.com/narpc/narpc/pkg/registry"
	"github.com/narpc/narpc/pkg/rpcerr"
)

// State is the handle's position in the per-handle state machine.
type State int32

const (
	StateFresh State = iota
	StateEncoded
	StateInFlight
	StateExtraPull
	StateDelivered
	StateDecoded
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateEncoded:
		return "encoded"
	case StateInFlight:
		return "in_flight"
	case StateExtraPull:
		return "extra_pull"
	case StateDelivered:
		return "delivered"
	case StateDecoded:
		return "decoded"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// Direction discriminates which of the RPC's two structs an operation
// applies to. The framing engine and controller share one implementation
// across both, taking Direction as a parameter rather than duplicating
// code per direction.
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Spill is the extra-buffer slot for one direction: the bytes a codec
// grew past the eager window, plus the bulk handle that makes them
// available (origin side) or that received them (target side).
type Spill struct {
	Data []byte
	Bulk na.BulkHandle
}

// Handle is a single RPC in flight or being served.
type Handle struct {
	mu sync.Mutex

	ID       uint64
	Registry *registry.Registry
	Addr     na.Address
	CtxID    uint8
	RPCID    uint64

	refCount atomic.Int32
	state    atomic.Int32
	canceled atomic.Bool

	InBuf  []byte
	OutBuf []byte

	InSpill  *Spill
	OutSpill *Spill

	UserCB  func(err error)
	UserArg any

	// RespondCode is the application-level status a target attaches to
	// its response (set before encoding, read back after decoding).
	RespondCode rpcerr.Code

	// RespondFn is the transport-bound callback a server-side handle was
	// handed alongside its inbound request; pkg/control.Respond sends
	// the encoded output through it.
	RespondFn na.RespondFunc
}

// New creates a handle with refcount 1, in StateFresh.
func New(id uint64, reg *registry.Registry, addr na.Address, ctxID uint8, rpcID uint64) *Handle {
	h := &Handle{ID: id, Registry: reg, Addr: addr, CtxID: ctxID, RPCID: rpcID}
	h.refCount.Store(1)
	h.state.Store(int32(StateFresh))
	return h
}

// State returns the handle's current state.
func (h *Handle) State() State { return State(h.state.Load()) }

// SetState moves the handle to s. Exported so pkg/engine and pkg/control,
// which drive the state machine, do not need a second mutex around it.
func (h *Handle) SetState(s State) { h.state.Store(int32(s)) }

// RefCount returns the current reference count.
func (h *Handle) RefCount() int32 { return h.refCount.Load() }

// RefIncr atomically increments the reference count, returning the new
// value. Called by get_struct on a successful decode.
func (h *Handle) RefIncr() int32 { return h.refCount.Add(1) }

// Destroy decrements the reference count and, if it reaches zero, releases
// both spill slots and moves the handle to StateReleased. Returns true iff
// this call was the one that brought refcount to zero.
func (h *Handle) Destroy() bool {
	if h.refCount.Add(-1) > 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseSpillLocked(Input)
	h.releaseSpillLocked(Output)
	h.SetState(StateReleased)
	return true
}

func (h *Handle) slot(dir Direction) **Spill {
	if dir == Input {
		return &h.InSpill
	}
	return &h.OutSpill
}

// SetSpill attaches a freshly-claimed spill buffer to dir, taking
// ownership of both data and bulk. Any previous spill on that direction is
// released first.
func (h *Handle) SetSpill(dir Direction, data []byte, bulk na.BulkHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseSpillLocked(dir)
	*h.slot(dir) = &Spill{Data: data, Bulk: bulk}
}

// GetSpill returns the spill attached to dir, or nil.
func (h *Handle) GetSpill(dir Direction) *Spill {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *h.slot(dir)
}

// ClearSpill releases and detaches dir's spill, if any.
func (h *Handle) ClearSpill(dir Direction) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseSpillLocked(dir)
}

func (h *Handle) releaseSpillLocked(dir Direction) {
	s := h.slot(dir)
	if *s == nil {
		return
	}
	if (*s).Bulk != nil {
		(*s).Bulk.Free()
	}
	*s = nil
}

// Reset reuses a handle whose only remaining reference is the caller's own
// with a new target address and RPC id. It refuses to reuse a handle that
// still carries an attached spill buffer (reset re-validates the spill slot
// is clear before allowing reuse) or that has outstanding
// references beyond the caller's.
func (h *Handle) Reset(addr na.Address, rpcID uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.refCount.Load() != 1 {
		return rpcerr.Wrap("handle.Reset", rpcerr.InvalidParam, rpcID, h.ID)
	}
	if h.InSpill != nil || h.OutSpill != nil {
		return rpcerr.Wrap("handle.Reset", rpcerr.ProtocolError, rpcID, h.ID)
	}

	h.Addr = addr
	h.RPCID = rpcID
	h.InBuf = nil
	h.OutBuf = nil
	h.UserCB = nil
	h.UserArg = nil
	h.canceled.Store(false)
	h.SetState(StateFresh)
	return nil
}

// Cancel marks the handle canceled; the next completion delivered through
// pkg/control reports rpcerr.Canceled to the user callback regardless of
// what the transport itself reported.
func (h *Handle) Cancel() { h.canceled.Store(true) }

// Canceled reports whether Cancel has been called.
func (h *Handle) Canceled() bool { return h.canceled.Load() }

func (dir Direction) buf(h *Handle) *[]byte {
	if dir == Input {
		return &h.InBuf
	}
	return &h.OutBuf
}

// Buf returns the raw eager-region bytes (header included) currently
// stored for dir.
func (h *Handle) Buf(dir Direction) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return *dir.buf(h)
}

// SetBuf stores the raw eager-region bytes for dir.
func (h *Handle) SetBuf(dir Direction, buf []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*dir.buf(h) = buf
}
