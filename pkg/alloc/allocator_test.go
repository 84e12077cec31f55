package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chenhao-ye/hopperkv/pkg/mrc"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
)

func mustCurve(t *testing.T, ticks []uint64, ratios []float64) *mrc.Curve {
	t.Helper()
	c, err := mrc.New(ticks, ratios, mrc.DefaultOptions())
	require.NoError(t, err)
	return c
}

func flatCurve(t *testing.T) *mrc.Curve {
	// A curve with miss ratio pinned at 1 everywhere, modeling demand that
	// never benefits from caching (used by the read-write DRF scenario).
	return mustCurve(t, []uint64{1, 1000}, []float64{1, 1})
}

// TestDoAllocTrivialSingleTenant covers spec scenario 1: a lone tenant's
// allocation is left untouched since there's nothing to trade against.
func TestDoAllocTrivialSingleTenant(t *testing.T) {
	p := Params{CacheDelta: 1, MinCacheSize: 1, AllocTotalNetBW: true}
	a := NewAllocator(DefaultPolicy(), p)
	curve := mustCurve(t, []uint64{1, 2, 4, 8, 10}, []float64{0.9, 0.8, 0.7, 0.6, 0.4})
	base := resrc.Vector{CacheSize: 20, Stateless: resrc.Stateless{RCU: 2, WCU: 1.2, NetBW: 6}}
	a.AddTenant(resrc.Stateless{RCU: 0.5, WCU: 0.5, NetBW: 4}, base, curve, 1.0)

	improve := a.DoAlloc()
	require.Equal(t, 0.0, improve)
	require.Equal(t, base, a.Tenant(0).Resrc)
}

// TestDoAllocSymmetricFourTenant covers spec scenario 2: identical tenants
// form a fixed point; nothing should move and the improvement ratio is 0.
func TestDoAllocSymmetricFourTenant(t *testing.T) {
	p := Params{CacheDelta: 1, MinCacheSize: 1, AllocTotalNetBW: true}
	a := NewAllocator(DefaultPolicy(), p)
	curve := mustCurve(t, []uint64{1, 2, 4, 8, 10}, []float64{0.9, 0.8, 0.7, 0.6, 0.4})
	base := resrc.Vector{CacheSize: 2, Stateless: resrc.Stateless{RCU: 2, WCU: 2, NetBW: 16}}
	demand := resrc.Stateless{RCU: 1, WCU: 1, NetBW: 1}
	for i := 0; i < 4; i++ {
		a.AddTenant(demand, base, curve, 1.0)
	}

	improve := a.DoAlloc()
	require.InDelta(t, 0.0, improve, 1e-9)
	for i := 0; i < 4; i++ {
		// Proportional redistribution recomputes each share in floating
		// point, so the stateless dimensions come back equal up to rounding.
		r := a.Tenant(i).Resrc
		require.Equal(t, base.CacheSize, r.CacheSize)
		require.InDelta(t, base.Stateless.RCU, r.Stateless.RCU, 1e-9)
		require.InDelta(t, base.Stateless.WCU, r.Stateless.WCU, 1e-9)
		require.InDelta(t, base.Stateless.NetBW, r.Stateless.NetBW, 1e-9)
	}
}

// TestDoAllocReadWriteDRF covers spec scenario 3: two tenants with a flat
// (mr=1 always) curve and opposite rcu/wcu-heavy demands converge to a
// dominant-resource-fair split under conserving redistribution.
func TestDoAllocReadWriteDRF(t *testing.T) {
	p := Params{CacheDelta: 1, MinCacheSize: 0, AllocTotalNetBW: true}
	a := NewAllocator(DefaultPolicy(), p)
	curve := flatCurve(t)
	base := resrc.Vector{CacheSize: 2, Stateless: resrc.Stateless{RCU: 2, WCU: 2, NetBW: 16}}
	a.AddTenant(resrc.Stateless{RCU: 0.8, WCU: 0.2, NetBW: 4}, base, curve, 1.0)
	a.AddTenant(resrc.Stateless{RCU: 0.2, WCU: 0.8, NetBW: 4}, base, curve, 1.0)

	a.DoAlloc()

	rA := a.Tenant(0).Resrc
	rB := a.Tenant(1).Resrc
	require.Equal(t, uint64(2), rA.CacheSize)
	require.InDelta(t, 3.2, rA.Stateless.RCU, 0.01)
	require.InDelta(t, 0.8, rA.Stateless.WCU, 0.01)
	require.InDelta(t, 16.0, rA.Stateless.NetBW, 0.01)

	require.Equal(t, uint64(2), rB.CacheSize)
	require.InDelta(t, 0.8, rB.Stateless.RCU, 0.01)
	require.InDelta(t, 3.2, rB.Stateless.WCU, 0.01)
	require.InDelta(t, 16.0, rB.Stateless.NetBW, 0.01)
}

// TestDoAllocTradeBasic covers spec scenario 4: two tenants with differing
// MRCs trade cache for db_rcu/net_bw via the harvest phase.
func TestDoAllocTradeBasic(t *testing.T) {
	p := Params{CacheDelta: 1, MinCacheSize: 0, AllocTotalNetBW: true}
	a := NewAllocator(DefaultPolicy(), p)
	curveA := mustCurve(t, []uint64{1, 2, 4, 8, 10}, []float64{0.9, 0.85, 0.8, 0.7, 0.5})
	curveB := mustCurve(t, []uint64{1, 2, 4, 8, 10}, []float64{0.8, 0.6, 0.3, 0.2, 0.15})
	base := resrc.Vector{CacheSize: 4, Stateless: resrc.Stateless{RCU: 2, WCU: 2, NetBW: 16}}
	demand := resrc.Stateless{RCU: 0.8, WCU: 0.2, NetBW: 4}
	a.AddTenant(demand, base, curveA, 1.0)
	a.AddTenant(demand, base, curveB, 1.0)

	a.DoAlloc()

	rA := a.Tenant(0).Resrc
	rB := a.Tenant(1).Resrc

	// A relinquishes cache (less valuable to it, given a worse curve at
	// low sizes) for stateless resources; B does the opposite.
	require.Less(t, rA.CacheSize, base.CacheSize)
	require.Greater(t, rB.CacheSize, base.CacheSize)
	require.Equal(t, uint64(8), rA.CacheSize+rB.CacheSize) // cache is conserved

	require.InDelta(t, 2.75, rA.Stateless.RCU, 0.1)
	require.InDelta(t, 1.69, rA.Stateless.WCU, 0.1)
	require.InDelta(t, 13.56, rA.Stateless.NetBW, 0.2)

	require.InDelta(t, 1.25, rB.Stateless.RCU, 0.1)
	require.InDelta(t, 2.31, rB.Stateless.WCU, 0.1)
	require.InDelta(t, 18.44, rB.Stateless.NetBW, 0.2)
}

// TestDoAllocConservation checks the conservation invariant from §8: total
// stateless resources before and after a conserving redistribution match
// within epsilon.
func TestDoAllocConservation(t *testing.T) {
	p := Params{CacheDelta: 1, MinCacheSize: 0, AllocTotalNetBW: true}
	a := NewAllocator(DefaultPolicy(), p)
	curve := mustCurve(t, []uint64{1, 2, 4, 8, 10}, []float64{0.9, 0.8, 0.7, 0.6, 0.4})
	bases := []resrc.Vector{
		{CacheSize: 4, Stateless: resrc.Stateless{RCU: 3, WCU: 1, NetBW: 20}},
		{CacheSize: 6, Stateless: resrc.Stateless{RCU: 1, WCU: 3, NetBW: 10}},
		{CacheSize: 2, Stateless: resrc.Stateless{RCU: 2, WCU: 2, NetBW: 15}},
	}
	var totalBefore resrc.Stateless
	for i, b := range bases {
		a.AddTenant(resrc.Stateless{RCU: 0.5, WCU: 0.5, NetBW: 3}, b, curve, 1.0)
		totalBefore = totalBefore.Add(b.Stateless)
		_ = i
	}

	a.DoAlloc()

	var totalAfter resrc.Stateless
	for i := 0; i < len(bases); i++ {
		totalAfter = totalAfter.Add(a.Tenant(i).Resrc.Stateless)
	}
	require.True(t, totalBefore.IsAlmostEqual(totalAfter),
		"before=%+v after=%+v", totalBefore, totalAfter)
}

// TestDoAllocReservedFloor checks the reserved-floor invariant: memshare
// never drives a tenant's cache below its reserved ratio of its starting
// size.
func TestDoAllocReservedFloor(t *testing.T) {
	p := Params{CacheDelta: 1, MinCacheSize: 0, AllocTotalNetBW: true}
	policy := Policy{Harvest: false, Conserving: true, Memshare: true}
	a := NewAllocator(policy, p)
	curveHungry := mustCurve(t, []uint64{1, 2, 4, 8, 16, 32}, []float64{0.9, 0.8, 0.6, 0.3, 0.1, 0.01})
	curveFlat := flatCurve(t)
	base := resrc.Vector{CacheSize: 8, Stateless: resrc.Stateless{RCU: 2, WCU: 2, NetBW: 10}}
	a.AddTenant(resrc.Stateless{RCU: 1, WCU: 1, NetBW: 1}, base, curveHungry, 1.0)
	a.AddTenant(resrc.Stateless{RCU: 1, WCU: 1, NetBW: 1}, base, curveFlat, 1.0)

	a.DoAlloc()

	for i := 0; i < 2; i++ {
		tn := a.Tenant(i)
		require.GreaterOrEqual(t, tn.Resrc.CacheSize, tn.reservedCacheSize)
	}
}

// TestDoAllocSymmetry checks the symmetry invariant: identical tenants form
// a fixed point regardless of tenant count.
func TestDoAllocSymmetry(t *testing.T) {
	p := DefaultParams()
	p.CacheDelta = 1
	a := NewAllocator(DefaultPolicy(), p)
	curve := mustCurve(t, []uint64{1, 2, 4, 8, 10}, []float64{0.9, 0.8, 0.7, 0.6, 0.4})
	base := resrc.Vector{CacheSize: 20, Stateless: resrc.Stateless{RCU: 5, WCU: 5, NetBW: 50}}
	demand := resrc.Stateless{RCU: 1, WCU: 1, NetBW: 2}
	for i := 0; i < 3; i++ {
		a.AddTenant(demand, base, curve, 1.0)
	}

	improve := a.DoAlloc()
	require.InDelta(t, 0.0, improve, 1e-9)
	for i := 0; i < 3; i++ {
		require.Equal(t, base, a.Tenant(i).Resrc)
	}
}
