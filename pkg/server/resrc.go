package server

import (
	"context"

	"github.com/chenhao-ye/hopperkv/pkg/resrc"
)

// ResrcGet reports tenantID's currently allocated resource vector: the
// last values applied via ResrcSet (by a RESRC.SET call, or by the
// allocator's own Reallocate pushing HARE's redistribution results).
func (s *Instance) ResrcGet(ctx context.Context, tenantID string) (resrc.Vector, error) {
	t, err := s.tenantByID(tenantID)
	if err != nil {
		return resrc.Vector{}, err
	}
	var v resrc.Vector
	err = t.exec(ctx, func() {
		v = resrc.Vector{
			CacheSize: t.allocatedCacheSize,
			Stateless: resrc.Stateless{
				RCU:   t.allocatedDBRCU,
				WCU:   t.allocatedDBWCU,
				NetBW: t.allocatedNetBW,
			},
		}
	})
	return v, err
}

// ResrcSet applies a new resource allocation to tenantID: cacheSize/
// dbRCU/dbWCU/netBW each take effect only when >= 0 — a negative value
// means "leave this dimension unchanged", matching HOPPER.RESRC.SET's
// per-argument skip convention. Allocator state itself is never touched
// here: this only pushes already-decided caps down into the limiters
// that enforce them, the same boundary RESRC.SET crosses over RPC in a
// multi-process deployment.
func (s *Instance) ResrcSet(ctx context.Context, tenantID string, cacheSize int64, dbRCU, dbWCU, netBW float64) error {
	t, err := s.tenantByID(tenantID)
	if err != nil {
		return err
	}
	return t.exec(ctx, func() {
		if cacheSize >= 0 {
			t.allocatedCacheSize = uint64(cacheSize)
			if s.metrics != nil {
				s.metrics.SetTenantCacheSize(t.id, t.allocatedCacheSize)
			}
		}
		if dbRCU >= 0 {
			t.worker.SetRCULimit(dbRCU)
			t.allocatedDBRCU = dbRCU
		}
		if dbWCU >= 0 {
			t.worker.SetWCULimit(dbWCU)
			t.allocatedDBWCU = dbWCU
		}
		if netBW >= 0 {
			t.netLimiter.ProposeNewRate(netBW)
			t.allocatedNetBW = netBW
		}
	})
}

// Reallocate runs one round of HARE reallocation across every tenant and
// pushes the results into each tenant's limiters via ResrcSet, exactly as
// an external controller would over RESRC.SET. Intended to be driven by a
// periodic ticker goroutine (see Instance.runAllocator).
func (s *Instance) Reallocate(ctx context.Context) error {
	improveRatio := s.allocator.DoAlloc()
	if s.metrics != nil {
		s.metrics.SetAllocImproveRatio(improveRatio)
	}
	results := s.allocator.AllocResult()

	for _, t := range s.allTenants() {
		if t.allocIdx >= len(results) {
			continue
		}
		v := results[t.allocIdx]
		if err := s.ResrcSet(ctx, t.id, int64(v.CacheSize), v.Stateless.RCU, v.Stateless.WCU, v.Stateless.NetBW); err != nil {
			return err
		}
	}
	return nil
}
