package alloc

import (
	"github.com/chenhao-ye/hopperkv/pkg/logutil"
	"github.com/chenhao-ye/hopperkv/pkg/mrc"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
)

// Tenant is one allocatee in a HARE run: its cacheless demand, its current
// resource vector (mutated in place as the allocator trades and redistributes
// across rounds), and the miss-ratio curve that predicts how its db_rcu and
// network-bandwidth demand respond to more or less cache.
//
// Tenant is not safe for concurrent use; the allocator owns a slice of
// Tenants and mutates them from a single goroutine per DoAlloc call.
type Tenant struct {
	Idx int

	demandCacheless resrc.Stateless
	Resrc           resrc.Vector
	mrc             *mrc.Curve
	netBWAlpha      float64

	rcuDeltaRelinq float64
	rcuDeltaCompen float64
	netDeltaRelinq float64
	netDeltaCompen float64

	// Miss-ratio deltas if given one cache_delta more/less cache. Populated
	// by UpdateMRDelta; consumed by the memshare ranking pass.
	mrIncIfMoreCache float64
	mrDecIfLessCache float64

	reservedCacheSize uint64

	// allocTotalNetBWFlag mirrors the run-wide Params.AllocTotalNetBW; the
	// allocator stamps it onto every tenant at the start of a DoAlloc round
	// so tenant methods can read it without threading a Params through
	// every call.
	allocTotalNetBWFlag bool

	log logutil.Logger
}

// SetAllocTotalNetBW is called by the allocator once per round.
func (t *Tenant) SetAllocTotalNetBW(v bool) { t.allocTotalNetBWFlag = v }

// NewTenant constructs a Tenant. base is the tenant's starting resource
// allocation (including its starting cache_size, from which the memshare
// reserved floor is derived). demandCacheless is the tenant's stateless
// demand when every request misses the cache.
func NewTenant(idx int, demandCacheless resrc.Stateless, base resrc.Vector, curve *mrc.Curve, netBWAlpha float64) *Tenant {
	return &Tenant{
		Idx:               idx,
		demandCacheless:   demandCacheless,
		Resrc:             base,
		mrc:               curve,
		netBWAlpha:        netBWAlpha,
		reservedCacheSize: uint64(float64(base.CacheSize) * MemshareReservedRatio),
		log:               logutil.New().WithTenant(idx),
	}
}

// RCUDeltaRelinq, RCUDeltaCompen, NetDeltaRelinq, NetDeltaCompen expose the
// offers computed by UpdateRCUNetDelta, for the allocator's trading ranker.
func (t *Tenant) RCUDeltaRelinq() float64 { return t.rcuDeltaRelinq }
func (t *Tenant) RCUDeltaCompen() float64 { return t.rcuDeltaCompen }
func (t *Tenant) NetDeltaRelinq() float64 { return t.netDeltaRelinq }
func (t *Tenant) NetDeltaCompen() float64 { return t.netDeltaCompen }
func (t *Tenant) MRIncIfMoreCache() float64 { return t.mrIncIfMoreCache }
func (t *Tenant) MRDecIfLessCache() float64 { return t.mrDecIfLessCache }

// CollectIdle scales a tenant's stateless allocation down to what it can
// actually use at its current cache size and miss ratio, returning the
// freed-up remainder for the allocator to redistribute.
func (t *Tenant) CollectIdle() resrc.Stateless {
	demand := t.demandCacheless
	mr, err := t.mrc.Get(t.Resrc.CacheSize)
	if err != nil {
		mr = 1
	}
	demand.RCU *= mr
	if allocTotalNetBW(t) {
		demand.NetBW *= mr + (1-t.netBWAlpha)*(1-mr)
	}

	tp := t.Resrc.Stateless.Div(demand)
	used := demand.Scale(tp)
	idle := t.Resrc.Stateless.Sub(used)
	t.Resrc.Stateless = used
	return idle
}

// allocTotalNetBW is threaded through DoAlloc's Params; tenants don't own a
// Params, so the allocator sets this via SetAllocTotalNetBW before a round.
func allocTotalNetBW(t *Tenant) bool { return t.allocTotalNetBWFlag }

// UpdateRCUNetDelta recomputes the give-more/take-less cache offers this
// tenant would make in the next harvest trading round.
func (t *Tenant) UpdateRCUNetDelta(p Params) {
	t.predRCUNetDeltaIfMoreCache(p)
	t.predRCUNetDeltaIfLessCache(p)
	t.log.Tracef("rcu_delta_relinq=%.2f, rcu_delta_compen=%.2f, net_delta_relinq=%.2f, net_delta_compen=%.2f",
		t.rcuDeltaRelinq, t.rcuDeltaCompen, t.netDeltaRelinq, t.netDeltaCompen)
}

// UpdateMRDelta recomputes the memshare ranking criteria: how much the miss
// ratio would fall/rise with one cache_delta more/less cache.
func (t *Tenant) UpdateMRDelta(p Params) {
	currMR, err := t.mrc.Get(t.Resrc.CacheSize)
	if err != nil {
		currMR = 1
	}
	moreMR, err := t.mrc.Get(t.Resrc.CacheSize + p.CacheDelta)
	if err != nil {
		moreMR = currMR
	}
	var lessMR float64
	if t.Resrc.CacheSize < p.CacheDelta {
		lessMR = 1
	} else if mr, err := t.mrc.Get(t.Resrc.CacheSize - p.CacheDelta); err == nil {
		lessMR = mr
	} else {
		lessMR = currMR
	}
	t.mrIncIfMoreCache = currMR - moreMR
	t.mrDecIfLessCache = lessMR - currMR
	t.log.Tracef("cache=%d, curr_mr=%.1f%%, more_mr=%.1f%%, less_mr=%.1f%%, mr_inc=%.1f%%, mr_dec=%.1f%%",
		t.Resrc.CacheSize, currMR*100, moreMR*100, lessMR*100, t.mrIncIfMoreCache*100, t.mrDecIfLessCache*100)
}

// CanDonate reports whether the tenant can give up delta cache bytes without
// dropping below its memshare-reserved floor.
func (t *Tenant) CanDonate(delta uint64) bool {
	return t.Resrc.CacheSize >= t.reservedCacheSize+delta
}

// ScaleStatelessResrc multiplies the tenant's whole stateless allocation by
// factor — used by the non-conserving redistribution pass.
func (t *Tenant) ScaleStatelessResrc(factor float64) {
	t.Resrc.Stateless = t.Resrc.Stateless.Scale(factor)
}

// ScaleStatelessResrcByOwned adds avail to the tenant's stateless resources
// in proportion to what it already owns relative to sum; where sum's
// dimension is zero (nobody owns any of that resource yet), falls back to
// an even split across evenDenom tenants.
func (t *Tenant) ScaleStatelessResrcByOwned(avail, sum resrc.Stateless, evenDenom int) {
	rcuFactor := 1.0 / float64(evenDenom)
	if sum.RCU != 0 {
		rcuFactor = t.Resrc.Stateless.RCU / sum.RCU
	}
	wcuFactor := 1.0 / float64(evenDenom)
	if sum.WCU != 0 {
		wcuFactor = t.Resrc.Stateless.WCU / sum.WCU
	}
	netFactor := 1.0 / float64(evenDenom)
	if sum.NetBW != 0 {
		netFactor = t.Resrc.Stateless.NetBW / sum.NetBW
	}
	t.Resrc.Stateless.RCU += avail.RCU * rcuFactor
	t.Resrc.Stateless.WCU += avail.WCU * wcuFactor
	t.Resrc.Stateless.NetBW += avail.NetBW * netFactor
}

// RelocateCache moves one cache_delta of cache from donor to receiver.
func RelocateCache(receiver, donor *Tenant, cacheDelta uint64) {
	receiver.Resrc.CacheSize += cacheDelta
	donor.Resrc.CacheSize -= cacheDelta
}

// RelocateResrc executes one harvest trade: relinq receives cache_delta
// cache bytes and gives up rcuRelinq (and netRelinq) of stateless resource;
// compen gives up the cache and receives rcuCompen (and netCompen). The net
// bandwidth legs apply only when allocTotalNetBW is set.
func RelocateResrc(relinq, compen *Tenant, cacheDelta uint64, rcuRelinq, rcuCompen, netRelinq, netCompen float64, allocTotalNetBW bool) {
	compen.Resrc.CacheSize -= cacheDelta
	relinq.Resrc.CacheSize += cacheDelta
	compen.Resrc.Stateless.RCU += rcuCompen
	relinq.Resrc.Stateless.RCU -= rcuRelinq
	if allocTotalNetBW {
		compen.Resrc.Stateless.NetBW += netCompen
		relinq.Resrc.Stateless.NetBW -= netRelinq
	}
}

// AggregateResrc sums the stateless resources currently held across tenants.
func AggregateResrc(tenants []*Tenant) resrc.Stateless {
	var sum resrc.Stateless
	for _, t := range tenants {
		sum = sum.Add(t.Resrc.Stateless)
	}
	return sum
}

// Report logs the tenant's current allocation at trace level; detailed also
// computes and logs its estimated achieved throughput relative to demand.
func (t *Tenant) Report(detailed bool) {
	if !detailed {
		t.log.Tracef("cache_size=%d, db_rcu=%.2f, db_wcu=%.2f, net_bw=%.2f",
			t.Resrc.CacheSize, t.Resrc.Stateless.RCU, t.Resrc.Stateless.WCU, t.Resrc.Stateless.NetBW)
		return
	}
	demand := t.demandCacheless
	mr, err := t.mrc.GetConst(t.Resrc.CacheSize)
	if err != nil {
		mr = 1
	}
	demand.RCU *= mr
	if allocTotalNetBW(t) {
		demand.NetBW *= mr
	}
	tput := t.Resrc.Stateless.Div(demand)
	t.log.Tracef("cache_size=%d, db_rcu=%.2f, db_wcu=%.2f, net_bw=%.2f, tput=%.2f",
		t.Resrc.CacheSize, t.Resrc.Stateless.RCU, t.Resrc.Stateless.WCU, t.Resrc.Stateless.NetBW, tput)
}

// predRCUNetDeltaIfMoreCache computes what this tenant would relinquish in
// db_rcu/net bandwidth if given one more cache_delta of cache, such that its
// achieved throughput stays the same. A RelinqAbortOffer result means no
// deal is possible (e.g. the tenant is already hitting 100% from cache).
func (t *Tenant) predRCUNetDeltaIfMoreCache(p Params) {
	abort := func() {
		t.rcuDeltaRelinq = RelinqAbortOffer
		if allocTotalNetBW(t) {
			t.netDeltaRelinq = RelinqAbortOffer
		}
	}

	currMR, err := t.mrc.Get(t.Resrc.CacheSize)
	if err != nil {
		abort()
		return
	}
	if currMR <= mrc.Epsilon {
		abort()
		return
	}

	predMR, err := t.mrc.Get(t.Resrc.CacheSize + p.CacheDelta)
	if err != nil {
		abort()
		return
	}
	if predMR < MinMissRatio {
		abort()
		return
	}

	deltaMR := currMR - predMR
	if deltaMR <= mrc.Epsilon {
		abort()
		return
	}

	t.rcuDeltaRelinq = t.Resrc.Stateless.RCU * deltaMR / currMR
	if allocTotalNetBW(t) {
		t.netDeltaRelinq = t.Resrc.Stateless.NetBW * deltaMR * t.netBWAlpha /
			(currMR*t.netBWAlpha + 1 - t.netBWAlpha)
	}
	t.log.Tracef("if cache %d -> %d, then miss_ratio %.3f -> %.3f, rcu_relinq=%.2f, net_relinq=%.2f",
		t.Resrc.CacheSize, t.Resrc.CacheSize+p.CacheDelta, currMR, predMR, t.rcuDeltaRelinq, t.netDeltaRelinq)
}

// predRCUNetDeltaIfLessCache computes what this tenant demands in
// compensation if one cache_delta of cache were taken away.
func (t *Tenant) predRCUNetDeltaIfLessCache(p Params) {
	abort := func() {
		t.rcuDeltaCompen = CompenAbortOffer
		if allocTotalNetBW(t) {
			t.netDeltaCompen = CompenAbortOffer
		}
	}
	immediate := func() {
		t.rcuDeltaCompen = 0
		if allocTotalNetBW(t) {
			t.netDeltaCompen = 0
		}
	}

	if t.Resrc.CacheSize < p.MinCacheSize+p.CacheDelta {
		abort()
		return
	}

	currMR, err := t.mrc.Get(t.Resrc.CacheSize)
	if err != nil {
		abort()
		return
	}
	predMR, err := t.mrc.Get(t.Resrc.CacheSize - p.CacheDelta)
	if err != nil {
		abort()
		return
	}
	if predMR > MaxMissRatio {
		abort()
		return
	}

	deltaMR := predMR - currMR
	if deltaMR <= mrc.Epsilon {
		immediate()
		return
	}

	// Order matters: predMR near-zero means still no miss after losing
	// cache, so the tenant shouldn't ask for anything; currMR near-zero
	// (but predMR not) means it's impossible to compute a sane ratio.
	if predMR <= mrc.Epsilon {
		immediate()
		return
	} else if currMR <= mrc.Epsilon {
		abort()
		return
	}

	t.rcuDeltaCompen = t.Resrc.Stateless.RCU * deltaMR / currMR
	if allocTotalNetBW(t) {
		t.netDeltaCompen = t.Resrc.Stateless.NetBW * deltaMR * t.netBWAlpha /
			(currMR*t.netBWAlpha + 1 - t.netBWAlpha)
	}
	t.log.Tracef("if cache %d -> %d, then miss_ratio %.3f -> %.3f, rcu_compen=%.2f, net_compen=%.2f",
		t.Resrc.CacheSize, t.Resrc.CacheSize-p.CacheDelta, currMR, predMR, t.rcuDeltaCompen, t.netDeltaCompen)
}
