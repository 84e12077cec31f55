package resrc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatelessAddSub(t *testing.T) {
	a := Stateless{RCU: 1, WCU: 2, NetBW: 3}
	b := Stateless{RCU: 0.5, WCU: 0.5, NetBW: 1}
	require.Equal(t, Stateless{RCU: 1.5, WCU: 2.5, NetBW: 4}, a.Add(b))
	require.Equal(t, Stateless{RCU: 0.5, WCU: 1.5, NetBW: 2}, a.Sub(b))
}

func TestStatelessDivMinRatio(t *testing.T) {
	a := Stateless{RCU: 10, WCU: 20, NetBW: 5}
	b := Stateless{RCU: 5, WCU: 5, NetBW: 5}
	// ratios: 2, 4, 1 -> min is 1
	require.InDelta(t, 1.0, a.Div(b), 1e-9)
}

func TestStatelessIsAlmostEmpty(t *testing.T) {
	require.True(t, Stateless{RCU: 1e-8, WCU: -1e-8, NetBW: 0}.IsAlmostEmpty())
	require.False(t, Stateless{RCU: 0.001, WCU: 0, NetBW: 0}.IsAlmostEmpty())
}

func TestStatelessIsAlmostEqual(t *testing.T) {
	a := Stateless{RCU: 1, WCU: 2, NetBW: 3}
	b := Stateless{RCU: 1.00001, WCU: 2, NetBW: 3}
	require.True(t, a.IsAlmostEqual(b))
	c := Stateless{RCU: 1.1, WCU: 2, NetBW: 3}
	require.False(t, a.IsAlmostEqual(c))
}

func TestVectorAdd(t *testing.T) {
	v1 := Vector{CacheSize: 10, Stateless: Stateless{RCU: 1}}
	v2 := Vector{CacheSize: 5, Stateless: Stateless{RCU: 2}}
	got := v1.Add(v2)
	require.Equal(t, uint64(15), got.CacheSize)
	require.InDelta(t, 3.0, got.Stateless.RCU, 1e-9)
}

func TestVectorDivN(t *testing.T) {
	v := Vector{CacheSize: 20, Stateless: Stateless{RCU: 4, WCU: 8, NetBW: 2}}
	got := v.DivN(4)
	require.Equal(t, uint64(5), got.CacheSize)
	require.Equal(t, Stateless{RCU: 1, WCU: 2, NetBW: 0.5}, got.Stateless)
}
