// Package resrc implements the resource-vector algebra HARE allocates over:
// a stateless triple (rcu, wcu, net bandwidth) and a full vector that adds a
// cache-size dimension. All operators are componentwise except Div, which
// computes the dominant-resource (min-ratio) improvement ratio used
// throughout the allocator.
package resrc

import "math"

// Epsilons below which a stateless dimension is considered zero for the
// purposes of convergence and conservation checks. Named per-dimension
// because RCU/WCU/bandwidth live on different natural scales.
const (
	RCUEpsilon   = 0.0001
	WCUEpsilon   = 0.0001
	NetBWEpsilon = 0.0001
)

// Stateless holds the three resources HARE trades that are not cache: db
// read capacity units/sec, db write capacity units/sec, and network
// bandwidth bytes/sec.
type Stateless struct {
	RCU   float64
	WCU   float64
	NetBW float64
}

// Add returns the componentwise sum.
func (s Stateless) Add(o Stateless) Stateless {
	return Stateless{RCU: s.RCU + o.RCU, WCU: s.WCU + o.WCU, NetBW: s.NetBW + o.NetBW}
}

// Sub returns the componentwise difference.
func (s Stateless) Sub(o Stateless) Stateless {
	return Stateless{RCU: s.RCU - o.RCU, WCU: s.WCU - o.WCU, NetBW: s.NetBW - o.NetBW}
}

// Scale multiplies every dimension by factor.
func (s Stateless) Scale(factor float64) Stateless {
	return Stateless{RCU: s.RCU * factor, WCU: s.WCU * factor, NetBW: s.NetBW * factor}
}

// DivN divides every dimension by an even count (equal-share division).
func (s Stateless) DivN(n uint32) Stateless {
	d := float64(n)
	return Stateless{RCU: s.RCU / d, WCU: s.WCU / d, NetBW: s.NetBW / d}
}

// Div computes the dominant-resource (DRF) improvement ratio of s over o:
// the minimum of the three per-dimension ratios. This is the min-ratio
// division operator from §3 of the spec, used both to cap a tenant's
// effective throughput and to estimate the allocator's bottleneck.
func (s Stateless) Div(o Stateless) float64 {
	return math.Min(s.RCU/o.RCU, math.Min(s.WCU/o.WCU, s.NetBW/o.NetBW))
}

// IsEmpty reports whether every dimension is exactly zero.
func (s Stateless) IsEmpty() bool {
	return s.RCU == 0 && s.WCU == 0 && s.NetBW == 0
}

// IsAlmostEmpty reports whether every dimension is within its epsilon of
// zero — the termination test for "nothing left to redistribute".
func (s Stateless) IsAlmostEmpty() bool {
	return math.Abs(s.RCU) < RCUEpsilon &&
		math.Abs(s.WCU) < WCUEpsilon &&
		math.Abs(s.NetBW) < NetBWEpsilon
}

// IsAlmostEqual reports whether s and o are within epsilon of each other in
// every dimension — used by conservation invariant checks.
func (s Stateless) IsAlmostEqual(o Stateless) bool {
	return s.Sub(o).IsAlmostEmpty()
}

// Vector is the generalized per-tenant allocation: Stateless plus the cache
// dimension (bytes).
type Vector struct {
	CacheSize uint64
	Stateless Stateless
}

// Add returns the componentwise sum, including cache size.
func (v Vector) Add(o Vector) Vector {
	return Vector{CacheSize: v.CacheSize + o.CacheSize, Stateless: v.Stateless.Add(o.Stateless)}
}

// AddStateless returns v with only its stateless part bumped by s.
func (v Vector) AddStateless(s Stateless) Vector {
	return Vector{CacheSize: v.CacheSize, Stateless: v.Stateless.Add(s)}
}

// DivN divides every dimension, including cache size, by an even count.
func (v Vector) DivN(n uint32) Vector {
	return Vector{CacheSize: v.CacheSize / uint64(n), Stateless: v.Stateless.DivN(n)}
}
