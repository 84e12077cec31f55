// Package alloc implements HARE: the cache-aware multi-resource fair
// allocator. One Allocator instance owns a fixed set of Tenants for the
// duration of a single DoAlloc run — idle resources are first collected back
// from every tenant, then (optionally) harvested by trading cache for
// stateless resources across a bottleneck estimate, then redistributed
// proportionally (or scaled up, if non-conserving) across tenants.
package alloc

import (
	"time"

	"github.com/chenhao-ye/hopperkv/pkg/logutil"
	"github.com/chenhao-ye/hopperkv/pkg/mrc"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
)

// Allocator runs one HARE allocation round over a fixed tenant set. It is
// not safe for concurrent use — the caller must serialize DoAlloc and
// AddTenant calls (the server package does this by running allocation on a
// single ticker-driven goroutine).
type Allocator struct {
	policy Policy
	params Params

	tenants    []*Tenant
	totalResrc resrc.Vector

	log logutil.Logger
}

// NewAllocator constructs an empty Allocator under the given policy and
// params; tenants are added one at a time with AddTenant.
func NewAllocator(policy Policy, params Params) *Allocator {
	return &Allocator{policy: policy, params: params, log: logutil.New()}
}

// AddTenant registers a new tenant and returns its index, used to retrieve
// its result later via Tenant.
func (a *Allocator) AddTenant(demandCacheless resrc.Stateless, base resrc.Vector, curve *mrc.Curve, netBWAlpha float64) int {
	idx := len(a.tenants)
	a.totalResrc = a.totalResrc.Add(base)
	t := NewTenant(idx, demandCacheless, base, curve, netBWAlpha)
	a.tenants = append(a.tenants, t)
	a.log.Tracef("Tenant-%d demand vector: { db_rcu=%.2f, db_wcu=%.2f, net_bw=%.2f }, net_bw_alpha=%.2f",
		idx, demandCacheless.RCU, demandCacheless.WCU, demandCacheless.NetBW, netBWAlpha)
	return idx
}

// Tenant returns the tenant registered at idx.
func (a *Allocator) Tenant(idx int) *Tenant { return a.tenants[idx] }

// NumTenants reports how many tenants are registered.
func (a *Allocator) NumTenants() int { return len(a.tenants) }

// AllocResult snapshots every tenant's current resource vector.
func (a *Allocator) AllocResult() []resrc.Vector {
	out := make([]resrc.Vector, len(a.tenants))
	for i, t := range a.tenants {
		out[i] = t.Resrc
	}
	return out
}

// DoAlloc runs one full HARE round and returns the estimated throughput
// improvement ratio achieved by redistribution (0 if nothing could be
// improved, e.g. with a single tenant or an already-saturated system).
func (a *Allocator) DoAlloc() float64 {
	improveRatio := 0.0

	a.log.Infof("hare.allocator.policy { harvest=%v, conserving=%v, memshare=%v }",
		a.policy.Harvest, a.policy.Conserving, a.policy.Memshare)

	for _, t := range a.tenants {
		t.SetAllocTotalNetBW(a.params.AllocTotalNetBW)
	}

	if len(a.tenants) <= 1 {
		return improveRatio
	}

	if a.policy.Memshare {
		a.doMemshare()
	}

	var resrcAvail resrc.Stateless
	for _, t := range a.tenants {
		idle := t.CollectIdle()
		a.log.Tracef("Collect idle resources from Tenant-%d { db_rcu=%.2f, db_wcu=%.2f, net_bw=%.2f }",
			t.Idx, idle.RCU, idle.WCU, idle.NetBW)
		resrcAvail = resrcAvail.Add(idle)
	}
	a.log.Tracef("Total idle resources { db_rcu=%.2f, db_wcu=%.2f, net_bw=%.2f }",
		resrcAvail.RCU, resrcAvail.WCU, resrcAvail.NetBW)

	if a.policy.Harvest {
		resrcAvail = a.doHarvest(resrcAvail)
	}

	a.log.Tracef("Total resources to redistribute { db_rcu=%.2f, db_wcu=%.2f, net_bw=%.2f }",
		resrcAvail.RCU, resrcAvail.WCU, resrcAvail.NetBW)

	if !resrcAvail.IsAlmostEmpty() {
		improveRatio = a.doRedistribute(resrcAvail)
	}

	for _, t := range a.tenants {
		t.Report(false)
	}
	return improveRatio
}

// doHarvest runs the cache-for-bandwidth trading loop: each round, the
// tenant most willing to relinquish the current bottleneck resource for
// cache is matched against the tenant demanding the least compensation for
// giving up cache, so long as the deal improves the estimated bottleneck
// ratio by at least MinImproveRatioDelta.
func (a *Allocator) doHarvest(resrcAvail resrc.Stateless) resrc.Stateless {
	prevImprove, isRCUBottleneck, isNetBottleneck := a.estimateBottleneck(resrcAvail)

	for _, t := range a.tenants {
		t.UpdateRCUNetDelta(a.params)
	}

	t0 := time.Now()
	tradeRound := uint32(0)

	for ; tradeRound < MaxTradeRound; tradeRound++ {
		var relinq, compen *Tenant

		switch {
		case isRCUBottleneck:
			relinq = maxBy(a.tenants, func(t *Tenant) float64 { return t.RCUDeltaRelinq() })
			compen = minBy(a.tenants, func(t *Tenant) float64 { return t.RCUDeltaCompen() })
		case a.params.AllocTotalNetBW && isNetBottleneck:
			relinq = maxBy(a.tenants, func(t *Tenant) float64 { return t.NetDeltaRelinq() })
			compen = minBy(a.tenants, func(t *Tenant) float64 { return t.NetDeltaCompen() })
		default:
			// neither cache-correlated resource is the bottleneck; no point
			// continuing to trade.
			goto done
		}

		if relinq == compen {
			// both sides happened to be the same tenant; re-pick the
			// second-best compensator instead of forcing a self-trade.
			if isRCUBottleneck {
				compen = secondMinBy(a.tenants, relinq, func(t *Tenant) float64 { return t.RCUDeltaCompen() })
			} else {
				compen = secondMinBy(a.tenants, relinq, func(t *Tenant) float64 { return t.NetDeltaCompen() })
			}
			if compen == nil {
				goto done
			}
		}

		{
			rcuRelinq := relinq.RCUDeltaRelinq()
			netRelinq := relinq.NetDeltaRelinq()
			rcuCompen := compen.RCUDeltaCompen()
			netCompen := compen.NetDeltaCompen()

			a.log.Tracef("Deal candidates: Tenant-%d: rcu_relinq=%.2f, net_relinq=%.2f; Tenant-%d: rcu_compen=%.2f, net_compen=%.2f",
				relinq.Idx, rcuRelinq, netRelinq, compen.Idx, rcuCompen, netCompen)

			rcuProfit := rcuRelinq - rcuCompen
			netProfit := netRelinq - netCompen

			resrcIfDeal := resrcAvail
			resrcIfDeal.RCU += rcuProfit
			resrcIfDeal.NetBW += netProfit

			currImprove, nextRCUBottleneck, nextNetBottleneck := a.estimateBottleneck(resrcIfDeal)
			if currImprove-prevImprove < MinImproveRatioDelta {
				a.log.Tracef("Deal cancelled due to low improvement gain: %.1f%% -> %.1f%%",
					prevImprove*100, currImprove*100)
				goto done
			}

			prevImprove = currImprove
			isRCUBottleneck, isNetBottleneck = nextRCUBottleneck, nextNetBottleneck
			resrcAvail = resrcIfDeal

			a.log.Tracef("Deal is made with rcu_profit=%.2f and net_profit=%.2f; estimated_improve_ratio=%.1f%%",
				rcuProfit, netProfit, currImprove*100)

			RelocateResrc(relinq, compen, a.params.CacheDelta, rcuRelinq, rcuCompen, netRelinq, netCompen, a.params.AllocTotalNetBW)

			relinq.UpdateRCUNetDelta(a.params)
			compen.UpdateRCUNetDelta(a.params)
		}
	}

done:
	a.log.Infof("Trading takes %d rounds with %s", tradeRound, time.Since(t0))
	return resrcAvail
}

// doRedistribute hands out resrcAvail across tenants, either proportionally
// to what each already holds (conserving — all of resrcAvail is spent) or by
// scaling every tenant up by the same factor (non-conserving — some of
// resrcAvail may be left unspent, which the caller does not currently act
// on further).
func (a *Allocator) doRedistribute(resrcAvail resrc.Stateless) float64 {
	resrcSum := a.totalResrc.Stateless.Sub(resrcAvail)
	improveRatio := resrcAvail.Div(resrcSum)

	if a.policy.Conserving {
		for _, t := range a.tenants {
			t.ScaleStatelessResrcByOwned(resrcAvail, resrcSum, len(a.tenants))
		}
		a.log.Tracef("Expect to improve tput by %.1f%%", improveRatio*100)
	} else {
		scaleFactor := 1 + improveRatio
		for _, t := range a.tenants {
			t.ScaleStatelessResrc(scaleFactor)
		}
	}
	return improveRatio
}

// doMemshare runs the alternative cache-only allocation pass: the tenant
// whose miss ratio would improve most from one more cache_delta (the
// receiver) is matched against the tenant, sorted by whose miss ratio would
// worsen least from one less cache_delta, that can afford to donate without
// breaching its reserved floor. The trade proceeds only while the receiver's
// gain exceeds the donor's loss.
func (a *Allocator) doMemshare() {
	t0 := time.Now()
	tradeRound := uint32(0)

	for {
		for _, t := range a.tenants {
			t.UpdateMRDelta(a.params)
		}

		receiver := maxBy(a.tenants, func(t *Tenant) float64 { return t.MRIncIfMoreCache() })

		donors := append([]*Tenant(nil), a.tenants...)
		sortByMRDecIfLessCache(donors)

		var donor *Tenant
		for _, d := range donors {
			if d == receiver {
				continue
			}
			if d.CanDonate(a.params.CacheDelta) {
				donor = d
				break
			}
		}

		if donor == nil {
			a.log.Infof("Memshare fails to find a donator")
			break
		}

		mrInc := receiver.MRIncIfMoreCache()
		mrDec := donor.MRDecIfLessCache()

		if mrInc > mrDec {
			RelocateCache(receiver, donor, a.params.CacheDelta)
			a.log.Tracef("Memshare relocates cache from Tenant-%d (-%.1f%%) to Tenant-%d (+%.1f%%)",
				donor.Idx, mrDec*100, receiver.Idx, mrInc*100)
			tradeRound++
		} else {
			a.log.Tracef("Memshare terminates, because relocating cache from Tenant-%d (-%.1f%%) to Tenant-%d (+%.1f%%) does not profit",
				donor.Idx, mrDec*100, receiver.Idx, mrInc*100)
			break
		}
	}

	a.log.Infof("Memshare: trading takes %d rounds with %s", tradeRound, time.Since(t0))
}

// estimateBottleneck reports the dominant-resource improvement ratio if
// resrcAvail were added to what tenants currently hold, and which dimension
// realizes that ratio (the bottleneck HARE should trade for next).
func (a *Allocator) estimateBottleneck(resrcAvail resrc.Stateless) (improveRatio float64, isRCUBottleneck, isNetBottleneck bool) {
	resrcSum := a.totalResrc.Stateless.Sub(resrcAvail)
	improveRatio = resrcAvail.Div(resrcSum)
	isRCUBottleneck = improveRatio == resrcAvail.RCU/resrcSum.RCU
	isNetBottleneck = improveRatio == resrcAvail.NetBW/resrcSum.NetBW
	a.log.Tracef("resrc_avail=[%.2f, %.2f, %.2f], resrc_sum=[%.2f, %.2f, %.2f], estimated_improve_ratio=%.1f%%, is_rcu_bottleneck=%v, is_net_bottleneck=%v",
		resrcAvail.RCU, resrcAvail.WCU, resrcAvail.NetBW, resrcSum.RCU, resrcSum.WCU, resrcSum.NetBW, improveRatio*100, isRCUBottleneck, isNetBottleneck)
	return improveRatio, isRCUBottleneck, isNetBottleneck
}

func maxBy(tenants []*Tenant, key func(*Tenant) float64) *Tenant {
	best := tenants[0]
	bestKey := key(best)
	for _, t := range tenants[1:] {
		if k := key(t); k > bestKey {
			best, bestKey = t, k
		}
	}
	return best
}

func minBy(tenants []*Tenant, key func(*Tenant) float64) *Tenant {
	best := tenants[0]
	bestKey := key(best)
	for _, t := range tenants[1:] {
		if k := key(t); k < bestKey {
			best, bestKey = t, k
		}
	}
	return best
}

// secondMinBy finds the minimum over tenants excluding exclude, returning
// nil if exclude is the only tenant.
func secondMinBy(tenants []*Tenant, exclude *Tenant, key func(*Tenant) float64) *Tenant {
	var best *Tenant
	var bestKey float64
	for _, t := range tenants {
		if t == exclude {
			continue
		}
		if best == nil || key(t) < bestKey {
			best, bestKey = t, key(t)
		}
	}
	return best
}

func sortByMRDecIfLessCache(tenants []*Tenant) {
	for i := 1; i < len(tenants); i++ {
		for j := i; j > 0 && tenants[j].MRDecIfLessCache() < tenants[j-1].MRDecIfLessCache(); j-- {
			tenants[j], tenants[j-1] = tenants[j-1], tenants[j]
		}
	}
}
