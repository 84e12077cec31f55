package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterAddsEveryCollector(t *testing.T) {
	m := New("hopperkv_test")
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	// A second registration against the same registry must fail: proves
	// every collector in New actually got registered, not silently skipped.
	require.Error(t, m.Register(reg))
}

func TestObserveGetLabelsHitAndMiss(t *testing.T) {
	m := New("hopperkv_test")
	m.ObserveGet(true)
	m.ObserveGet(false)
	m.ObserveGet(false)

	require.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("get", "hit")))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Requests.WithLabelValues("get", "miss")))
}

func TestObserveSetLabelsOkAndErr(t *testing.T) {
	m := New("hopperkv_test")
	m.ObserveSet(true)
	m.ObserveSet(false)

	require.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("set", "ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Requests.WithLabelValues("set", "err")))
}

func TestResourceCountersAccumulate(t *testing.T) {
	m := New("hopperkv_test")
	m.AddDBRCU(3)
	m.AddDBRCU(4)
	m.AddDBWCU(2)
	m.AddNetBW(1024)

	require.Equal(t, float64(7), testutil.ToFloat64(m.DBRCUConsumed))
	require.Equal(t, float64(2), testutil.ToFloat64(m.DBWCUConsumed))
	require.Equal(t, float64(1024), testutil.ToFloat64(m.NetBWConsumed))
}

func TestGaugesReportLastValue(t *testing.T) {
	m := New("hopperkv_test")
	m.SetCacheSize(100)
	m.SetCacheSize(200)
	m.SetAllocImproveRatio(1.5)
	m.SetTenantCacheSize("tenant-a", 50)
	m.SetTenantCacheSize("tenant-b", 75)

	require.Equal(t, float64(200), testutil.ToFloat64(m.CacheSize))
	require.Equal(t, float64(1.5), testutil.ToFloat64(m.AllocImproveRatio))
	require.Equal(t, float64(50), testutil.ToFloat64(m.TenantCacheSize.WithLabelValues("tenant-a")))
	require.Equal(t, float64(75), testutil.ToFloat64(m.TenantCacheSize.WithLabelValues("tenant-b")))
}
