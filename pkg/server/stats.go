package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/chenhao-ye/hopperkv/pkg/stats"
)

// StatsReport is the full STATS reply: the ghost-cache-derived estimated
// memory-footprint curve (nil when the ghost cache has no samples yet, per
// the source's ghost.ticks/miss_cnt/hit_cnt -> null convention) plus the
// request/resource-consumption counters.
type StatsReport struct {
	GhostTicks   []uint64 // estimated real-byte cache sizes, one per curve tier
	GhostMissCnt []uint64 // cumulative misses at each tier, prefixed by the total access count
	GhostHitCnt  []uint64 // cumulative hits at each tier, prefixed by the total access count

	ReqCnt  uint64
	HitCnt  uint64
	MissCnt uint64

	DBRCUConsumpIfMiss uint64
	NetBWConsumpIfMiss uint64
	NetBWConsumpIfHit  uint64

	DBRCUConsump uint64
	DBWCUConsump uint64
	NetBWConsump uint64
}

// Stats assembles tenantID's current STATS reply, including the
// memory-calibrated ghost-cache curve if memProvider reports enough
// information to estimate it.
func (s *Instance) Stats(ctx context.Context, tenantID string, memProvider stats.MemStatsProvider) (StatsReport, error) {
	t, err := s.tenantByID(tenantID)
	if err != nil {
		return StatsReport{}, err
	}

	var report StatsReport
	err = t.exec(ctx, func() {
		ms := stats.MemStats{
			TotalAllocated: memProvider.TotalAllocated(),
			KeysCount:      t.ghostCache.KeysCount(),
			AvgKVSize:      t.stats.AvgKVSize(),
		}
		curve := t.ghostCache.GetCacheStatCurve()
		ticks, totalAccessCnt := stats.EstimateGhostTicks(ms, curve)
		if ticks != nil {
			report.GhostTicks = make([]uint64, len(ticks))
			report.GhostMissCnt = make([]uint64, 0, len(ticks)+1)
			report.GhostHitCnt = make([]uint64, 0, len(ticks)+1)
			report.GhostMissCnt = append(report.GhostMissCnt, totalAccessCnt)
			report.GhostHitCnt = append(report.GhostHitCnt, totalAccessCnt)
			for i, tick := range ticks {
				report.GhostTicks[i] = tick.Mem
				report.GhostMissCnt = append(report.GhostMissCnt, tick.MissCnt)
				report.GhostHitCnt = append(report.GhostHitCnt, tick.HitCnt)
			}
		}

		report.ReqCnt = t.stats.ReqCnt
		report.HitCnt = t.stats.HitCnt
		report.MissCnt = t.stats.MissCnt
		report.DBRCUConsumpIfMiss = t.stats.DBRCUConsumpIfMiss
		report.NetBWConsumpIfMiss = t.stats.NetBWConsumpIfMiss
		report.NetBWConsumpIfHit = t.stats.NetBWConsumpIfHit
		report.DBRCUConsump = t.stats.DBRCUConsump
		report.DBWCUConsump = t.stats.DBWCUConsump
		report.NetBWConsump = t.stats.NetBWConsump
	})
	if err != nil {
		return StatsReport{}, err
	}
	return report, nil
}

// String renders the report the way an operator trace log or CLI would:
// counts and cumulative byte totals in human units rather than raw integers.
func (r StatsReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "req=%s hit=%s miss=%s\n", humanize.Comma(int64(r.ReqCnt)),
		humanize.Comma(int64(r.HitCnt)), humanize.Comma(int64(r.MissCnt)))
	fmt.Fprintf(&b, "db: rcu=%s wcu=%s rcu_if_miss=%s\n", humanize.Comma(int64(r.DBRCUConsump)),
		humanize.Comma(int64(r.DBWCUConsump)), humanize.Comma(int64(r.DBRCUConsumpIfMiss)))
	fmt.Fprintf(&b, "net: %s (hit %s, miss %s)\n", humanize.Bytes(r.NetBWConsump),
		humanize.Bytes(r.NetBWConsumpIfHit), humanize.Bytes(r.NetBWConsumpIfMiss))
	if r.GhostTicks != nil {
		fmt.Fprintf(&b, "ghost curve: %d tiers, largest %s\n", len(r.GhostTicks),
			humanize.Bytes(r.GhostTicks[len(r.GhostTicks)-1]))
	}
	return b.String()
}
