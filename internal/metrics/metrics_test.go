package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCountersAndTimers(t *testing.T) {
	m := NewMetrics()

	m.IncrementCounter("orders_created")
	m.IncrementCounter("orders_created")
	m.IncrementCounterBy("counter_drift_repairs", 3)

	counters := m.GetCounters()
	require.Equal(t, int64(2), counters["orders_created"])
	require.Equal(t, int64(3), counters["counter_drift_repairs"])

	m.RecordTimer("create_order", 10*time.Millisecond)
	m.RecordTimer("create_order", 30*time.Millisecond)

	timers := m.GetTimers()
	timer, ok := timers["create_order"]
	require.True(t, ok)
	require.Equal(t, int64(2), timer.Count)
	require.Equal(t, int64(40), timer.TotalTimeMs)
	require.Equal(t, int64(30), timer.MaxTimeMs)
	require.Equal(t, 20.0, timer.AverageTimeMs)
}

func TestHealthChecks(t *testing.T) {
	m := NewMetrics()

	m.SetHealth("database", true)
	m.SetHealth("delivery_queue", false)

	checks := m.GetHealthChecks()
	require.True(t, checks["database"])
	require.False(t, checks["delivery_queue"])

	all := m.GetAllMetrics()
	require.Contains(t, all, "counters")
	require.Contains(t, all, "timers")
	require.Contains(t, all, "health_checks")
	require.Contains(t, all, "uptime_seconds")
}
