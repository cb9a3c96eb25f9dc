package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging. The field helpers below and
// LogContext emit their attributes under these keys.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // external trace ID for request correlation

	// ========================================================================
	// Class / Context
	// ========================================================================
	KeyClass     = "class"      // class name (transport + protocol string)
	KeyProtocol  = "protocol"   // protocol string the class was opened with
	KeyContextID = "context_id" // 8-bit target context id

	// ========================================================================
	// RPC identity
	// ========================================================================
	KeyRPCID    = "rpc_id"    // 64-bit RPC id
	KeyRPCName  = "rpc_name"  // RPC name, when registered via register_name
	KeyHandleID = "handle_id" // handle sequence number
	KeyTarget   = "target"    // peer address string
	KeyCookie   = "cookie"    // header correlation cookie
	KeyFlags    = "flags"     // header flag byte

	// ========================================================================
	// Framing
	// ========================================================================
	KeyDirection    = "direction"     // "input" or "output"
	KeyEagerSize    = "eager_size"    // size of the eager buffer region
	KeyPayloadSize  = "payload_size"  // bytes written to the wire, header included
	KeySpillSize    = "spill_size"    // size of the extra/spill buffer, when present
	KeyMoreData     = "more_data"     // whether the extra-data flag was set
	KeyChecksum     = "checksum"      // computed checksum value
	KeyChecksumWant = "checksum_want" // checksum value carried in the header

	// ========================================================================
	// Reference counting / lifecycle
	// ========================================================================
	KeyRefCount = "ref_count" // handle reference count after the operation
	KeyState    = "state"     // handle state machine state

	// ========================================================================
	// Status
	// ========================================================================
	KeyStatus    = "status"     // operation status code
	KeyStatusMsg = "status_msg" // human-readable status message

	// ========================================================================
	// Misc
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyErr        = "error"
	KeyOperation  = "operation"
	KeyAttempt    = "attempt"
)

// Class returns a field for the owning class name.
func Class(name string) slog.Attr { return slog.String(KeyClass, name) }

// Protocol returns a field for the protocol string.
func Protocol(p string) slog.Attr { return slog.String(KeyProtocol, p) }

// ContextID returns a field for the 8-bit context id.
func ContextID(id uint8) slog.Attr { return slog.Int(KeyContextID, int(id)) }

// RPCID returns a field for the 64-bit RPC id.
func RPCID(id uint64) slog.Attr { return slog.Uint64(KeyRPCID, id) }

// RPCName returns a field for the RPC name.
func RPCName(name string) slog.Attr { return slog.String(KeyRPCName, name) }

// HandleID returns a field identifying a handle across its lifetime.
func HandleID(id uint64) slog.Attr { return slog.Uint64(KeyHandleID, id) }

// Target returns a field for the peer address.
func Target(addr string) slog.Attr { return slog.String(KeyTarget, addr) }

// Cookie returns a field for the header correlation cookie.
func Cookie(c uint32) slog.Attr { return slog.Uint64(KeyCookie, uint64(c)) }

// Flags returns a field for the header flag byte.
func Flags(f uint8) slog.Attr { return slog.String(KeyFlags, fmt.Sprintf("0x%02x", f)) }

// Direction returns a field for "input" or "output".
func Direction(d string) slog.Attr { return slog.String(KeyDirection, d) }

// EagerSize returns a field for the eager buffer size.
func EagerSize(n int) slog.Attr { return slog.Int(KeyEagerSize, n) }

// PayloadSize returns a field for the total bytes placed on the wire.
func PayloadSize(n int) slog.Attr { return slog.Int(KeyPayloadSize, n) }

// SpillSize returns a field for the size of an attached extra buffer.
func SpillSize(n int) slog.Attr { return slog.Int(KeySpillSize, n) }

// MoreData returns a field recording whether the extra-data flag was set.
func MoreData(b bool) slog.Attr { return slog.Bool(KeyMoreData, b) }

// Checksum returns a field for a computed checksum.
func Checksum(v uint32) slog.Attr { return slog.Uint64(KeyChecksum, uint64(v)) }

// ChecksumWant returns a field for the checksum carried on the wire.
func ChecksumWant(v uint32) slog.Attr { return slog.Uint64(KeyChecksumWant, uint64(v)) }

// RefCount returns a field for a handle's reference count.
func RefCount(n int32) slog.Attr { return slog.Int64(KeyRefCount, int64(n)) }

// State returns a field for the handle state machine's current state.
func State(s string) slog.Attr { return slog.String(KeyState, s) }

// Status returns a field for an operation's status code.
func Status(code int) slog.Attr { return slog.Int(KeyStatus, code) }

// StatusMsg returns a field for a human-readable status message.
func StatusMsg(msg string) slog.Attr { return slog.String(KeyStatusMsg, msg) }

// DurationMs returns a field for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns a field wrapping an error's message, or an empty string if nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyErr, "")
	}
	return slog.String(KeyErr, err.Error())
}

// Operation returns a field naming the operation being logged.
func Operation(op string) slog.Attr { return slog.String(KeyOperation, op) }

// Attempt returns a field for a retry attempt counter.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }
