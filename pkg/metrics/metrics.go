// Package metrics defines the observability surface narpcd's layers record
// into, and the toggle controlling whether a Prometheus registry backs it.
//
// Collecting metrics is optional: every RPCMetrics method is nil-safe on a
// nil receiver, so a Class built without InitRegistry having been called
// pays no collection cost at all.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection backed by reg. Passing nil
// disables collection (the zero-overhead default).
func InitRegistry(reg *prometheus.Registry) {
	mu.Lock()
	registry = reg
	mu.Unlock()
}

// IsEnabled reports whether InitRegistry has been called with a non-nil
// registry.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the active registry, or nil if metrics are disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// RPCMetrics provides observability for the framing engine and
// forward/respond controller. Implementations can track per-RPC latency,
// spill behavior, and error outcomes. Pass nil to disable collection with
// zero overhead.
type RPCMetrics interface {
	// RecordForward records a completed Forward call: the RPC id, whether
	// it spilled on either side, its outcome error code ("success" on success),
	// and how long it took end to end.
	RecordForward(rpcID uint64, spilled bool, errCode string, duration time.Duration)

	// RecordRespond records a completed Respond call, mirroring RecordForward
	// for the target side of an RPC.
	RecordRespond(rpcID uint64, spilled bool, errCode string, duration time.Duration)

	// RecordSpill records a set_struct call that overflowed its eager
	// window and handed off to a bulk transfer, by direction ("input" or
	// "output") and the payload size that spilled.
	RecordSpill(direction string, bytes uint64)

	// SetLiveHandles updates the current count of tracked inbound handles
	// for a context, keyed by its target id.
	SetLiveHandles(ctxID uint8, count int)

	// RecordCanceled records a handle whose in-flight RPC was canceled
	// before the transport reported completion.
	RecordCanceled(rpcID uint64)
}
