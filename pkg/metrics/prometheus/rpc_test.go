package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/narpc/narpc/pkg/metrics"
)

func TestNewRPCMetricsNilWhenDisabled(t *testing.T) {
	metrics.InitRegistry(nil)
	assert.Nil(t, NewRPCMetrics())
}

func TestNilRPCMetricsMethodsAreNoOps(t *testing.T) {
	var m *rpcMetrics
	assert.NotPanics(t, func() {
		m.RecordForward(1, false, "", time.Millisecond)
		m.RecordRespond(1, false, "", time.Millisecond)
		m.RecordSpill("input", 10)
		m.SetLiveHandles(1, 2)
		m.RecordCanceled(1)
	})
}

func TestRPCMetricsRecordsAgainstRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.InitRegistry(reg)
	defer metrics.InitRegistry(nil)

	m := NewRPCMetrics()
	require.NotNil(t, m)

	m.RecordForward(1, true, "", 5*time.Millisecond)
	m.RecordSpill("output", 4096)
	m.SetLiveHandles(3, 7)
	m.RecordCanceled(9)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
