package stats

import "runtime"

// MemStatsProvider reports the current process's total allocated bytes,
// the input EstimateGhostTicks calibrates ghost-cache tier estimates
// against.
type MemStatsProvider interface {
	TotalAllocated() uint64
}

// RuntimeMemStatsProvider derives TotalAllocated from runtime.MemStats's
// HeapAlloc — the closest Go analog to Redis's MEMORY STATS
// `total.allocated`. It reports 0 for the Redis-specific startup/clients/
// functions breakdown fields since Go's runtime has no equivalent
// accounting; EstimateGhostTicks's fixed-overhead calibration (rather
// than the small-cache branch, which depends on that breakdown) absorbs
// the difference.
type RuntimeMemStatsProvider struct{}

func (RuntimeMemStatsProvider) TotalAllocated() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
