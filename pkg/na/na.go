// Package na defines the external-collaborator contracts this module codes
// against but does not implement: the actual NA (network abstraction)
// plugin layer — transports, address resolution, memory registration, and
// posting of unexpected receives (explicitly out of scope here). The
// framing engine, forward/respond controller, and class/context wiring are
// all written purely in terms of these interfaces so a real transport can
// be substituted without touching them. See pkg/na/loopback for the
// in-memory implementation this module's own tests run against.
package na

// Address identifies a peer reachable through a Transport.
type Address interface {
	String() string
}

// BulkDescriptor is the opaque, serializable reference to a registered
// memory region that a remote peer can PULL from. Its on-wire
// representation is transport-defined; the framing engine only ever
// treats it as an opaque byte string to embed in the payload region
// alongside the FlagExtraData bit.
type BulkDescriptor []byte

// BulkHandle is a local, registered memory region made available for
// one-sided transfer. The handle that created it (set_struct, on spill)
// owns the underlying bytes until Free is called.
type BulkHandle interface {
	Descriptor() BulkDescriptor
	Free()
}

// RequestHandler is installed per context via Transport.PostReceive. It is
// invoked once per inbound eager message with the raw payload (header
// included — decoding it is the framing engine's job, not the
// transport's) and a RespondFunc bound to whichever peer sent it.
type RequestHandler func(from Address, payload []byte, respond RespondFunc)

// RespondFunc delivers a response payload back to the peer that issued the
// request a RequestHandler is currently processing. onComplete fires once
// the transport considers the response delivered.
type RespondFunc func(payload []byte, onComplete func(err error))

// Transport is the NA plugin contract. A production implementation would
// bind this to real wire I/O; pkg/na/loopback binds it to in-process
// channels for tests and the bundled CLI demo.
type Transport interface {
	// Self returns this transport's own address.
	Self() Address

	// Lookup resolves name to a reachable Address.
	Lookup(name string) (Address, error)

	// Forward sends payload to addr's context ctxID. onComplete fires
	// exactly once: with the peer's response payload for a normal RPC, or
	// with a nil payload once the send itself is considered delivered for
	// an RPC whose registration suppresses the response.
	Forward(addr Address, ctxID uint8, payload []byte, noResponse bool, onComplete func(respPayload []byte, err error)) error

	// RegisterBulk wraps data as a read-only region a peer may PULL from.
	RegisterBulk(data []byte) BulkHandle

	// Pull initiates a one-sided transfer from the region desc describes
	// (on the peer identified by from) into the local buffer into.
	// onComplete fires once the transfer finishes or fails.
	Pull(from Address, desc BulkDescriptor, into []byte, onComplete func(err error)) error

	// PostReceive installs handler as the receiver for context ctxID.
	// Auto-repost (receiving indefinitely until the context is destroyed)
	// is implicit: handler stays installed until replaced or the context
	// is torn down.
	PostReceive(ctxID uint8, handler RequestHandler) error
}
