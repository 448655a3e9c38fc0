package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	return NewCollector(prometheus.NewRegistry())
}

func TestSnapshotEmptyWindow(t *testing.T) {
	c := newTestCollector(t)
	snap := c.Snapshot()
	assert.Equal(t, 0, snap.WindowSize)
	assert.False(t, snap.Unhealthy())
}

func TestSnapshotComputesPercentilesAndErrorRate(t *testing.T) {
	c := newTestCollector(t)
	for i := 0; i < 8; i++ {
		status := 200
		if i == 0 {
			status = 500
		}
		c.Record(Record{TTFTMs: float64(100 * (i + 1)), TotalMs: float64(1000 * (i + 1)), Status: status, Provider: "p", Model: "m"})
	}

	snap := c.Snapshot()
	require.Equal(t, 8, snap.WindowSize)
	assert.InDelta(t, 1.0/8.0, snap.ErrorRate, 0.001)
	assert.Greater(t, snap.TTFTMs.P99, snap.TTFTMs.P50)
	assert.Equal(t, 100.0, snap.TTFTMs.Min)
	assert.Equal(t, 800.0, snap.TTFTMs.Max)
}

func TestRingBufferWrapsAtCapacity(t *testing.T) {
	c := newTestCollector(t)
	c.window = newRing(3)

	for i := 1; i <= 5; i++ {
		c.Record(Record{TTFTMs: float64(i)})
	}

	snap := c.window.snapshot()
	require.Len(t, snap, 3)
	// Oldest two records (1, 2) were overwritten; only 3, 4, 5 remain,
	// in chronological order.
	assert.Equal(t, 3.0, snap[0].TTFTMs)
	assert.Equal(t, 4.0, snap[1].TTFTMs)
	assert.Equal(t, 5.0, snap[2].TTFTMs)
}

func TestUnhealthyTripsOnTTFTThreshold(t *testing.T) {
	c := newTestCollector(t)
	c.Record(Record{TTFTMs: 2000, Status: 200})

	assert.True(t, c.Snapshot().Unhealthy())
}

func TestCoalesceAggregatesCountRoles(t *testing.T) {
	c := newTestCollector(t)
	c.Record(Record{CoalesceRole: "leader", Status: 200})
	c.Record(Record{CoalesceRole: "follower", Status: 200})
	c.Record(Record{CoalesceRole: "follower", Status: 200})

	snap := c.Snapshot()
	assert.Equal(t, 1, snap.Coalesce.Leaders)
	assert.Equal(t, 2, snap.Coalesce.Followers)
}
