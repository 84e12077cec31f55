package stats

import "github.com/chenhao-ye/hopperkv/pkg/ghost"

// Profiling-derived calibration parameters for translating a ghost
// cache's sampled miss-ratio-curve tiers into real memory-footprint
// estimates. The underlying model: total_memory = base_overhead +
// bytes_per_key*keys_count, which breaks down for very small caches where
// fixed overhead isn't amortized away — hence the small-cache correction.
const (
	CalibFixed      = true
	CalibAbnormal   = true
	CalibSmallCache = false

	MinTotalAllocated = 20 * 1024 * 1024
	MaxPerKeyOverhead = 300

	MemFixedOverhead = 1 * 1024 * 1024

	SmallCacheThreshold = 4 * 1024 * 1024
	SmallCacheOverhead  = 2 * 1024 * 1024
)

// MemStats is the process memory accounting EstimateGhostTicks calibrates
// against. Go has no analog to Redis's MEMORY STATS breakdown
// (startup.allocated/clients.normal/functions.caches); callers not
// tracking those separately may leave them zero, matching the "fixed
// overhead" branch taking over for the startup/runtime contribution.
type MemStats struct {
	TotalAllocated   uint64
	KeysCount        uint64
	StartupAllocated uint64
	ClientsNormal    uint64
	FunctionsCaches  uint64
	AvgKVSize        float64
}

// GhostTick is one calibrated point on the estimated memory-footprint
// curve paired with its tier's cumulative hit/miss counts.
type GhostTick struct {
	Mem     uint64
	HitCnt  uint64
	MissCnt uint64
}

// EstimateGhostTicks converts a ghost cache's sampled per-tier key-count
// and byte-size curve into real memory-footprint estimates, reproducing
// the source's base-overhead/memory-amplification calibration. Returns
// nil ticks if the cache holds no keys or curve is empty. totalAccessCnt
// is the access count observed at the cache's smallest tier — the leading
// element the source prepends to its reported miss_cnt series.
func EstimateGhostTicks(ms MemStats, curve []ghost.TierPoint) (ticks []GhostTick, totalAccessCnt uint64) {
	if ms.KeysCount == 0 || len(curve) == 0 {
		return nil, 0
	}

	bytesStartup := ms.StartupAllocated + ms.ClientsNormal + ms.FunctionsCaches
	switch {
	case CalibSmallCache && ms.TotalAllocated > bytesStartup &&
		ms.TotalAllocated-bytesStartup < SmallCacheThreshold:
		if bytesStartup+SmallCacheOverhead < ms.TotalAllocated {
			bytesStartup += SmallCacheOverhead
		}
	case CalibFixed:
		if bytesStartup+MemFixedOverhead < ms.TotalAllocated {
			bytesStartup += MemFixedOverhead
		}
	}

	bytesPerKey := float64(0)
	if ms.TotalAllocated > bytesStartup {
		bytesPerKey = float64(ms.TotalAllocated-bytesStartup) / float64(ms.KeysCount)
	}

	if CalibAbnormal && ms.TotalAllocated < MinTotalAllocated &&
		bytesPerKey > ms.AvgKVSize+MaxPerKeyOverhead {
		bytesPerKey = ms.AvgKVSize + MaxPerKeyOverhead
		startupF := float64(ms.TotalAllocated) - bytesPerKey*float64(ms.KeysCount)
		if startupF < 0 {
			startupF = 0
		}
		bytesStartup = uint64(startupF)
	}

	first := curve[0]
	totalAccessCnt = first.Stat.HitCnt + first.Stat.MissCnt
	memAmplify := bytesPerKey / (float64(first.AggSize) / float64(first.KeyCount))
	for _, c := range curve {
		if ms.KeysCount > c.KeyCount {
			break
		}
		memAmplify = bytesPerKey / (float64(c.AggSize) / float64(c.KeyCount))
	}

	ticks = make([]GhostTick, len(curve))
	for i, c := range curve {
		dataMem := float64(c.AggSize) * memAmplify
		mem := dataMem + float64(bytesStartup)
		if CalibSmallCache && dataMem < SmallCacheThreshold {
			mem += SmallCacheOverhead
			if CalibFixed {
				mem -= MemFixedOverhead
			}
		}
		if mem < 0 {
			mem = 0
		}
		ticks[i] = GhostTick{Mem: uint64(mem), HitCnt: c.Stat.HitCnt, MissCnt: c.Stat.MissCnt}
	}
	return ticks, totalAccessCnt
}
