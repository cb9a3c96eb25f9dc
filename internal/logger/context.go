package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request-scoped logging context for a single RPC in flight.
type LogContext struct {
	TraceID   string    // distributed trace ID, when tracing is wired up by the caller
	Class     string    // class name (transport + protocol string)
	ContextID uint8     // 8-bit target context id
	RPCID     uint64    // registered RPC id
	RPCName   string    // RPC name, when registered via register_name
	HandleID  uint64    // handle sequence number, for correlating get/set/free across log lines
	Target    string    // peer address string
	StartTime time.Time // for duration calculation
}

// WithContext returns a new context with the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a handle about to be dispatched.
func NewLogContext(class string, handleID uint64) *LogContext {
	return &LogContext{
		Class:     class,
		HandleID:  handleID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithRPC returns a copy with the rpc id/name set.
func (lc *LogContext) WithRPC(id uint64, name string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.RPCID = id
		clone.RPCName = name
	}
	return clone
}

// WithTarget returns a copy with the peer target address set.
func (lc *LogContext) WithTarget(target string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Target = target
	}
	return clone
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
