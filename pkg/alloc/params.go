package alloc

import "math"

// Trading and numeric constants from §4.3 and §9. Unlike the source's
// process-wide `hare::params` globals, these live on a Params value owned by
// an Allocator instance — see the "Global mutable state" design note.
const (
	// MaxTradeRound bounds the harvest trading loop.
	MaxTradeRound = 10000

	// MinImproveRatioDelta is the minimum estimated-improvement gain a
	// trade must clear to be committed; below this, trading stops.
	MinImproveRatioDelta = 0.0001

	// MaxMissRatio: stop trading cache for rcu/net once the predicted
	// miss ratio would exceed this (tail-latency / low queue depth
	// consideration).
	MaxMissRatio = 1.0

	// MinMissRatio: stop trading rcu/net for cache once the predicted
	// miss ratio would fall below this (MRC estimation error is
	// amplified near saturation).
	MinMissRatio = 0.0

	// MemshareReservedRatio is the fraction of a tenant's initial cache
	// size that can never be donated away by the memshare policy.
	MemshareReservedRatio = 0.5
)

// Sentinel offer values: a relinquish offer of RelinqAbortOffer means
// "abort this deal"; a compensate offer of CompenAbortOffer means the same
// (the compensating side demands more than any plausible partner could
// supply). float32 max is used deliberately, matching the source, to avoid
// float64 overflow when arithmetic combines it with real quantities.
var (
	RelinqAbortOffer = 0.0
	CompenAbortOffer = float64(math.MaxFloat32)
)

// Params bundles the allocator's tunables (§6 "Allocator engine API"
// configuration setters/getters).
type Params struct {
	// CacheDelta is the unit of cache exchanged in one trade round.
	CacheDelta uint64
	// MinCacheSize is the least cache a tenant may be left with after a
	// harvest "give up cache" trade.
	MinCacheSize uint64
	MinDBRCU     float64
	MinDBWCU     float64
	MinNetBW     float64

	// AllocTotalNetBW controls whether net bandwidth is a tradable
	// dimension at all (Redis only observes client-facing bandwidth;
	// whether to also account for storage-facing bandwidth is a policy
	// choice). Read-only at runtime per §6.
	AllocTotalNetBW bool
}

// DefaultParams matches the documented defaults in §6: cache_delta = 4MiB,
// min_cache_size = 4MiB, min_net_bw = 80KiB/s.
func DefaultParams() Params {
	return Params{
		CacheDelta:      4 * 1024 * 1024,
		MinCacheSize:    4 * 1024 * 1024,
		MinDBRCU:        0,
		MinDBWCU:        0,
		MinNetBW:        80 * 1024,
		AllocTotalNetBW: true,
	}
}

// Policy selects which mutually-exclusive allocator phases run.
type Policy struct {
	// Harvest enables the cache-for-rcu/net trading phase; if false, this
	// degenerates to a cache-unaware DRF allocation.
	Harvest bool
	// Conserving enables proportional-share redistribution of leftover
	// stateless resources; if false, a non-conserving scale-up is used
	// and some resources may be left unallocated.
	Conserving bool
	// Memshare enables the alternative cache-only allocation pass.
	// Mutually exclusive with Harvest.
	Memshare bool
}

// DefaultPolicy matches the source's Allocator default constructor
// arguments: harvest and conserving enabled, memshare disabled.
func DefaultPolicy() Policy {
	return Policy{Harvest: true, Conserving: true, Memshare: false}
}
