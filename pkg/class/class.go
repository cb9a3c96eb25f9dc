// Package class implements C6: the long-lived container (Class) and its
// progress scopes (Context) that wire the lower layers together — the
// registry a class owns, the engine/controller pair each context builds
// around it, and the server-side receive posting a listening context
// performs at creation.
package class

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/narpc/narpc/internal/logger"
	"github.com/narpc/narpc/pkg/control"
	"github.com/narpc/narpc/pkg/engine"
	"github.com/narpc/narpc/pkg/handle"
	"github.com/narpc/narpc/pkg/header"
	"github.com/narpc/narpc/pkg/na"
	"github.com/narpc/narpc/pkg/na/loopback"
	"github.com/narpc/narpc/pkg/registry"
	"github.com/narpc/narpc/pkg/rpcerr"
)

// Default eager-buffer and pre-post sizing, overridable via Options.
const (
	DefaultEagerSize    = 4096
	DefaultPrePostCount = 256
)

// Options configures a Class beyond the bare transport/protocol string.
type Options struct {
	// Checksum enables CRC32 protection of eager-path payloads.
	Checksum bool
	// AllowSpill gates whether an oversize encode may hand off to a bulk
	// transfer; false models the "XDR mode" build toggle (pkg/config).
	AllowSpill bool
	// InputEagerSize/OutputEagerSize are the total per-direction eager
	// buffer sizes, header included. Zero selects DefaultEagerSize.
	InputEagerSize  int
	OutputEagerSize int
	// PrePostCount is how many receive buffers a listening context
	// reports posting at creation. Zero selects DefaultPrePostCount.
	PrePostCount int
}

func (o Options) withDefaults() Options {
	if o.InputEagerSize <= 0 {
		o.InputEagerSize = DefaultEagerSize
	}
	if o.OutputEagerSize <= 0 {
		o.OutputEagerSize = DefaultEagerSize
	}
	if o.PrePostCount <= 0 {
		o.PrePostCount = DefaultPrePostCount
	}
	return o
}

// Class is the long-lived container parameterized by a transport and
// protocol string. It owns the RPC registry, shared across every context
// it creates, and the per-handle id allocator.
type Class struct {
	name     string
	protocol string
	listen   bool
	opts     Options

	transport na.Transport
	registry  *registry.Registry

	nextHandleID atomic.Uint64

	mu       sync.Mutex
	contexts map[uint8]*Context
}

// Init parses a "protocol://info" address string and opens a loopback
// transport registered under it (this module ships no real NA plugin; see
// pkg/na/loopback). listen marks whether this class should pre-post
// receive buffers on the contexts it creates.
func Init(info string, listen bool) (*Class, error) {
	return InitOpt(info, listen, Options{})
}

// InitOpt is Init with explicit Options.
func InitOpt(info string, listen bool, opts Options) (*Class, error) {
	name, protocol, err := parseInfo(info)
	if err != nil {
		return nil, rpcerr.New("class.InitOpt", rpcerr.InvalidParam)
	}
	return InitFromTransport(name, protocol, loopback.New(name), listen, opts)
}

// InitFromTransport builds a Class directly around an already-constructed
// na.Transport, bypassing address-string parsing. Useful for tests and for
// composing with a non-default na.Transport implementation.
func InitFromTransport(name, protocol string, transport na.Transport, listen bool, opts Options) (*Class, error) {
	if transport == nil {
		return nil, rpcerr.New("class.InitFromTransport", rpcerr.InvalidParam)
	}
	return &Class{
		name:      name,
		protocol:  protocol,
		listen:    listen,
		opts:      opts.withDefaults(),
		transport: transport,
		registry:  registry.New(),
		contexts:  make(map[uint8]*Context),
	}, nil
}

func parseInfo(info string) (name, protocol string, err error) {
	for i := 0; i < len(info)-2; i++ {
		if info[i] == ':' && info[i+1] == '/' && info[i+2] == '/' {
			return info[i+3:], info[:i], nil
		}
	}
	return "", "", fmt.Errorf("class: malformed address %q, want protocol://name", info)
}

// Registry exposes the class's shared registration table, the one piece
// of state every context built on this class reads and (rarely) mutates.
func (c *Class) Registry() *registry.Registry { return c.registry }

// Lookup resolves a peer by name through this class's transport, for the
// origin side of a forward to find its target address.
func (c *Class) Lookup(name string) (na.Address, error) { return c.transport.Lookup(name) }

// Name returns the address this class's transport was opened under.
func (c *Class) Name() string { return c.name }

// Protocol returns the protocol scheme this class was opened with.
func (c *Class) Protocol() string { return c.protocol }

// InputEagerSize returns the number of bytes a set_struct/get_struct caller
// has available for the input struct once the header is accounted for.
func (c *Class) InputEagerSize() int {
	return c.opts.InputEagerSize - header.SizeOf(header.KindRequest)
}

// OutputEagerSize is InputEagerSize's output-direction counterpart.
func (c *Class) OutputEagerSize() int {
	return c.opts.OutputEagerSize - header.SizeOf(header.KindResponse)
}

// Finalize tears the class down: invokes every retained registration's
// free callback exactly once and releases the registry.
func (c *Class) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.contexts) != 0 {
		return rpcerr.New("class.Finalize", rpcerr.ProtocolError)
	}
	c.registry.Teardown()
	return nil
}

// Cleanup is a best-effort post-finalize scrub. This module keeps no
// temporary on-disk state of its own (no tmp files, no socket paths to
// unlink), so it only logs; it exists to match the corpus's
// init/finalize/cleanup lifecycle shape.
func (c *Class) Cleanup() {
	logger.Debug("class cleanup", "name", c.name, "protocol", c.protocol)
}

// CreateContext opens a new progress scope with an automatically assigned
// id (the lowest id not already in use).
func (c *Class) CreateContext() (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := 0; id <= 255; id++ {
		if _, taken := c.contexts[uint8(id)]; !taken {
			return c.createContextLocked(uint8(id))
		}
	}
	return nil, rpcerr.New("class.CreateContext", rpcerr.NoMemError)
}

// CreateContextWithID opens a new progress scope under the given id.
func (c *Class) CreateContextWithID(id uint8) (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, taken := c.contexts[id]; taken {
		return nil, rpcerr.New("class.CreateContextWithID", rpcerr.InvalidParam)
	}
	return c.createContextLocked(id)
}

func (c *Class) createContextLocked(id uint8) (*Context, error) {
	eng := engine.New(engine.Options{
		Checksum:        c.opts.Checksum,
		AllowSpill:      c.opts.AllowSpill,
		InputEagerSize:  c.opts.InputEagerSize,
		OutputEagerSize: c.opts.OutputEagerSize,
	}, c.transport)

	ctl := control.New(c.transport, eng, c.registry, id, c.opts.Checksum)

	ctx := &Context{class: c, id: id, engine: eng, ctl: ctl}

	if c.listen {
		if err := c.transport.PostReceive(id, ctl.HandleInbound(func() uint64 {
			return c.nextHandleID.Add(1)
		})); err != nil {
			return nil, rpcerr.New("class.createContextLocked", rpcerr.NAError)
		}
		logger.Info("posted receive buffers", "class", c.name, "context_id", id, "count", c.opts.PrePostCount)
	}

	c.contexts[id] = ctx
	return ctx, nil
}

// destroyContext removes id from the class's live-context set. Called by
// Context.Destroy.
func (c *Class) destroyContext(id uint8) {
	c.mu.Lock()
	delete(c.contexts, id)
	c.mu.Unlock()
}

// NewOriginHandle allocates a fresh client-side handle targeting addr for
// rpcID, with a class-assigned id.
func (c *Class) NewOriginHandle(addr na.Address, rpcID uint64) *handle.Handle {
	return handle.New(c.nextHandleID.Add(1), c.registry, addr, 0, rpcID)
}

// Context is a progress scope bound to a Class and carrying an 8-bit
// target id, wrapping one engine.Engine and one control.Controller.
type Context struct {
	class  *Class
	id     uint8
	engine *engine.Engine
	ctl    *control.Controller

	mu       sync.Mutex
	userPriv any
}

// ClassOf returns the Class this context was created from.
func (ctx *Context) ClassOf() *Class { return ctx.class }

// IDOf returns this context's target id.
func (ctx *Context) IDOf() uint8 { return ctx.id }

// Engine returns the engine.Engine this context's get_struct/set_struct
// calls should run through.
func (ctx *Context) Engine() *engine.Engine { return ctx.engine }

// Controller returns the control.Controller this context's forward/respond
// calls should run through.
func (ctx *Context) Controller() *control.Controller { return ctx.ctl }

// SetUserPriv attaches opaque caller-defined state to the context.
func (ctx *Context) SetUserPriv(v any) {
	ctx.mu.Lock()
	ctx.userPriv = v
	ctx.mu.Unlock()
}

// GetUserPriv returns whatever SetUserPriv last attached, or nil.
func (ctx *Context) GetUserPriv() any {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.userPriv
}

// Destroy closes the context. It refuses to do so while any server-side
// inbound handle created on it is still live — destruction requires every
// outstanding handle to be released first.
func (ctx *Context) Destroy() error {
	if ctx.ctl.LiveHandles() != 0 {
		return rpcerr.New("class.Context.Destroy", rpcerr.ProtocolError)
	}
	ctx.class.destroyContext(ctx.id)
	return nil
}

