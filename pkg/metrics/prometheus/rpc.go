// Package prometheus implements metrics.RPCMetrics on top of
// client_golang.
package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/narpc/narpc/pkg/metrics"
)

// rpcMetrics is the Prometheus-backed metrics.RPCMetrics implementation.
type rpcMetrics struct {
	forwardDuration *prometheus.HistogramVec
	respondDuration *prometheus.HistogramVec
	spillBytes      *prometheus.CounterVec
	liveHandles     *prometheus.GaugeVec
	canceled        prometheus.Counter
}

// NewRPCMetrics creates a new Prometheus-backed RPC metrics instance.
//
// Returns nil if metrics are not enabled (metrics.InitRegistry not called),
// so callers can hold onto the result unconditionally and let its nil-safe
// methods no-op.
func NewRPCMetrics() *rpcMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &rpcMetrics{
		forwardDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "narpc_forward_duration_seconds",
				Help:    "Duration of Forward calls by spill state and outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"spilled", "error_code"},
		),
		respondDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "narpc_respond_duration_seconds",
				Help:    "Duration of Respond calls by spill state and outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"spilled", "error_code"},
		),
		spillBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "narpc_spill_bytes_total",
				Help: "Total bytes handed off to bulk transfer by direction",
			},
			[]string{"direction"},
		),
		liveHandles: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "narpc_live_handles",
				Help: "Inbound handles currently tracked by a context",
			},
			[]string{"context_id"},
		),
		canceled: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "narpc_forward_canceled_total",
				Help: "Total Forward calls whose handle was canceled before completion",
			},
		),
	}
}

func (m *rpcMetrics) RecordForward(rpcID uint64, spilled bool, errCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.forwardDuration.WithLabelValues(boolLabel(spilled), errCode).Observe(duration.Seconds())
}

func (m *rpcMetrics) RecordRespond(rpcID uint64, spilled bool, errCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.respondDuration.WithLabelValues(boolLabel(spilled), errCode).Observe(duration.Seconds())
}

func (m *rpcMetrics) RecordSpill(direction string, bytes uint64) {
	if m == nil {
		return
	}
	m.spillBytes.WithLabelValues(direction).Add(float64(bytes))
}

func (m *rpcMetrics) SetLiveHandles(ctxID uint8, count int) {
	if m == nil {
		return
	}
	m.liveHandles.WithLabelValues(strconv.Itoa(int(ctxID))).Set(float64(count))
}

func (m *rpcMetrics) RecordCanceled(rpcID uint64) {
	if m == nil {
		return
	}
	m.canceled.Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
