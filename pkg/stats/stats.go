// Package stats accumulates the per-instance request/resource counters
// reported by STATS, and the memory-estimation glue that turns a ghost
// cache's sampled miss-ratio curve into calibrated real-byte estimates.
package stats

import (
	"github.com/VividCortex/ewma"

	"github.com/chenhao-ye/hopperkv/pkg/resrc"
)

// KVSizeDecayAge is chosen so the resulting EWMA smoothing factor
// (2/(age+1)) approximates the source's kv_size_decay_rate = 0.99 — the
// running average retains ~99% of its previous value per sample.
const KVSizeDecayAge = 199

// Stats accumulates request counts and resource-consumption estimates
// across the instance's lifetime, plus a running average key/value size
// used by EstimateGhostTicks to detect abnormal per-key memory overhead.
//
// Not safe for concurrent use — per the single command-thread ownership
// model, only the command thread records into it.
type Stats struct {
	ReqCnt  uint64
	HitCnt  uint64
	MissCnt uint64

	// Demand vector: what would be consumed if every GET missed.
	DBRCUConsumpIfMiss uint64
	NetBWConsumpIfMiss uint64
	NetBWConsumpIfHit  uint64

	// Actual consumption.
	DBRCUConsump uint64
	DBWCUConsump uint64
	NetBWConsump uint64

	avgKVSize ewma.MovingAverage
	sampled   bool

	// allocTotalNetBW mirrors policy.alloc_total_net_bw: whether upstream
	// (cache-to-store) bandwidth is charged in addition to client-facing
	// bandwidth.
	allocTotalNetBW bool
}

// New builds an empty Stats accumulator.
func New(allocTotalNetBW bool) *Stats {
	return &Stats{
		avgKVSize:       ewma.NewMovingAverage(KVSizeDecayAge),
		allocTotalNetBW: allocTotalNetBW,
	}
}

// AvgKVSize reports the current running average key+value size.
func (s *Stats) AvgKVSize() float64 {
	return s.avgKVSize.Value()
}

func (s *Stats) recordKVSize(keySize, valSize int) {
	cur := float64(keySize + valSize)
	if !s.sampled {
		s.avgKVSize.Set(cur)
		s.sampled = true
		return
	}
	s.avgKVSize.Add(cur)
}

// RecordGetDone records a completed GET: hit/miss counters, demand and
// actual RCU/bandwidth consumption, and the running kv-size average.
func (s *Stats) RecordGetDone(keySize, valSize int, isMiss bool) {
	s.ReqCnt++
	if isMiss {
		s.MissCnt++
	} else {
		s.HitCnt++
	}

	rcu := resrc.KVToRCU(keySize, valSize)
	s.DBRCUConsumpIfMiss += rcu
	if isMiss {
		s.DBRCUConsump += rcu
	}

	netClient := resrc.KVToNetGetClient(keySize, valSize)
	s.NetBWConsumpIfMiss += netClient
	s.NetBWConsumpIfHit += netClient
	s.NetBWConsump += netClient

	if s.allocTotalNetBW {
		netStorage := resrc.KVToNetGetStorage(keySize, valSize)
		s.NetBWConsumpIfMiss += netStorage
		if isMiss {
			s.NetBWConsump += netStorage
		}
	}

	s.recordKVSize(keySize, valSize)
}

// RecordSetDone records a completed SET. admitWrite mirrors
// cache.admit_write: the running kv-size average only reflects sets that
// were actually admitted into the cache.
func (s *Stats) RecordSetDone(keySize, valSize int, admitWrite bool) {
	s.ReqCnt++
	s.DBWCUConsump += resrc.KVToWCU(keySize, valSize)

	netClient := resrc.KVToNetSetClient(keySize, valSize)
	s.NetBWConsumpIfMiss += netClient
	s.NetBWConsumpIfHit += netClient
	s.NetBWConsump += netClient

	if s.allocTotalNetBW {
		netStorage := resrc.KVToNetSetStorage(keySize, valSize)
		s.NetBWConsumpIfMiss += netStorage
		s.NetBWConsumpIfHit += netStorage
		s.NetBWConsump += netStorage
	}

	if admitWrite {
		s.recordKVSize(keySize, valSize)
	}
}
