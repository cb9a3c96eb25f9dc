// Package registry implements C2: the per-class mapping from RPC id to its
// registration record — input/output codecs, server handler, opaque user
// data, and the response-suppressed flag. It is read on every incoming
// message and mutated rarely (at startup, mostly), so it is protected by a
// coarse RWMutex rather than anything more elaborate.
package registry

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/narpc/narpc/internal/logger"
	"github.com/narpc/narpc/pkg/proc"
	"github.com/narpc/narpc/pkg/rpcerr"
)

// Handler is the server-side callback invoked once a request has been fully
// decoded. It receives the handle id (the caller looks up the handle
// itself through whatever context it was given) so the framing engine
// stays decoupled from any particular handle representation.
type Handler func(handleID uint64)

// FreeFunc releases a registration's associated user data. It is invoked
// exactly once: when register_data replaces a previous value, and again at
// class teardown for whatever value is retained at that point.
type FreeFunc func(data any)

// Record is one RPC's registration. ID never changes; Register/RegisterName
// update the codecs, handler and name, RegisterData the user data and its
// free callback, and DisableResponse the response flag.
type Record struct {
	ID           uint64
	Name         string
	InCodec      proc.Func
	OutCodec     proc.Func
	Handler      Handler
	UserData     any
	FreeUserData FreeFunc
	ResponseSupp bool
}

// Summary is a read-only view of a Record for debugging/introspection
// (see Registry.Snapshot).
type Summary struct {
	ID                 uint64
	Name               string
	ResponseSuppressed bool
}

// Registry is the per-class id → Record map.
type Registry struct {
	mu      sync.RWMutex
	records map[uint64]*Record
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{records: make(map[uint64]*Record)}
}

// Register installs in_codec/out_codec/handler under id. Re-registering an
// already-known id updates only the codec and handler pointers, leaving
// UserData, FreeUserData, and ResponseSupp untouched.
func (r *Registry) Register(id uint64, inCodec, outCodec proc.Func, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok {
		rec.InCodec = inCodec
		rec.OutCodec = outCodec
		rec.Handler = handler
		return nil
	}

	r.records[id] = &Record{
		ID:       id,
		InCodec:  inCodec,
		OutCodec: outCodec,
		Handler:  handler,
	}
	return nil
}

// RegisterName derives id from a stable hash of name and registers under
// it, returning the id. Calling RegisterName again with the same name
// returns the same id and updates codecs/handler per Register's semantics.
func (r *Registry) RegisterName(name string, inCodec, outCodec proc.Func, handler Handler) (uint64, error) {
	id := HashName(name)
	r.mu.Lock()
	if rec, ok := r.records[id]; ok {
		rec.InCodec = inCodec
		rec.OutCodec = outCodec
		rec.Handler = handler
		rec.Name = name
		r.mu.Unlock()
		return id, nil
	}
	r.records[id] = &Record{ID: id, Name: name, InCodec: inCodec, OutCodec: outCodec, Handler: handler}
	r.mu.Unlock()
	return id, nil
}

// HashName derives a stable 64-bit id from an RPC name via xxhash.
func HashName(name string) uint64 {
	return xxhash.Sum64String(name)
}

// Registered reports whether id has a registration.
func (r *Registry) Registered(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[id]
	return ok
}

// Lookup returns a copy of the registration for id, or (nil, false).
func (r *Registry) Lookup(id uint64) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, false
	}
	clone := *rec
	return &clone, true
}

// RegisterData attaches data to id's registration, invoking the previous
// FreeFunc (if any) on the value it replaces before installing the new one
// and its free callback. Returns rpcerr.NoMatch if id is unregistered.
func (r *Registry) RegisterData(id uint64, data any, free FreeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return rpcerr.New("registry.RegisterData", rpcerr.NoMatch)
	}
	if rec.FreeUserData != nil && rec.UserData != nil {
		rec.FreeUserData(rec.UserData)
	}
	rec.UserData = data
	rec.FreeUserData = free
	return nil
}

// RegisteredData returns id's user data, or nil if unregistered or unset.
func (r *Registry) RegisteredData(id uint64) any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil
	}
	return rec.UserData
}

// DisableResponse toggles whether id's RPC is one-way: set_struct marks its
// requests no-response, get_struct refuses its output direction, and
// Forward completes without waiting for a response. Controller.Respond
// does not consult the flag.
func (r *Registry) DisableResponse(id uint64, disabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return rpcerr.New("registry.DisableResponse", rpcerr.NoMatch)
	}
	rec.ResponseSupp = disabled
	return nil
}

// Teardown invokes every retained registration's free callback exactly
// once, and then clears the registry. A panicking free callback is logged
// and does not prevent the rest from running — callback panics are the
// caller's concern, not the registry's.
func (r *Registry) Teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.FreeUserData == nil || rec.UserData == nil {
			continue
		}
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("registry free callback panicked", logger.RPCID(rec.ID), "panic", p)
				}
			}()
			rec.FreeUserData(rec.UserData)
		}()
	}
	r.records = make(map[uint64]*Record)
}

// Snapshot returns a read-only summary of every registration, for the
// narpcd registry debugging subcommand.
func (r *Registry) Snapshot() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, Summary{ID: rec.ID, Name: rec.Name, ResponseSuppressed: rec.ResponseSupp})
	}
	return out
}
