package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestThroughputTracker_ComputesRecordsPerSecond(t *testing.T) {
	tr := NewThroughputTracker("events-test")
	tr.Increment(5)
	time.Sleep(10 * time.Millisecond)

	got := tr.GetAndReset()
	assert.Greater(t, got, 0.0)

	gauge := testutil.ToFloat64(Throughput.WithLabelValues("events-test"))
	assert.Equal(t, got, gauge)
}

func TestThroughputTracker_ResetsCountBetweenWindows(t *testing.T) {
	tr := NewThroughputTracker("profiles-test")
	tr.Increment(10)
	first := tr.GetAndReset()
	assert.Greater(t, first, 0.0)

	second := tr.GetAndReset()
	assert.Equal(t, 0.0, second, "no records were added since the last reset")
}
