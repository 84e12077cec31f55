// Package mrc implements the miss-ratio curve: a monotone-decreasing step
// function from cache size to miss ratio, queried with linear interpolation
// between anchors and memoized per integer size.
package mrc

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
)

// Epsilon is the near-zero threshold for miss ratios: below it, a curve is
// considered saturated (zero miss) for the purposes of trading decisions.
// Mirrors the source's use of machine epsilon for this comparison.
const Epsilon = 2.220446049250313e-16

// Options tune the curve's behavior at its boundaries.
type Options struct {
	// ConservativeOutOfRange, if true, returns the miss ratio at the
	// largest anchor for sizes beyond it instead of failing. Defaults to
	// true to match the source's conservative-estimation default.
	ConservativeOutOfRange bool
	// DisableInterpolationNearSaturation, if true, clamps the
	// interpolated result to 1 whenever the left anchor is already
	// within Epsilon of full miss (1 - m_l < Epsilon) rather than
	// interpolating through it.
	DisableInterpolationNearSaturation bool
}

// DefaultOptions matches hare::params::mrc defaults.
func DefaultOptions() Options {
	return Options{ConservativeOutOfRange: true, DisableInterpolationNearSaturation: false}
}

// ErrOutOfRange is returned by Get when the queried size exceeds the last
// anchor and conservative estimation is disabled.
var ErrOutOfRange = errors.New("cache_size out of range")

// Curve is an ordered sequence of (tick, miss ratio) anchors. Ticks strictly
// increase; miss ratios are non-increasing and within [0, 1].
type Curve struct {
	ticks      []uint64
	missRatios []float64
	opts       Options

	mu    sync.Mutex
	cache map[uint64]float64
}

// New validates and constructs a Curve. Anchors are copied so the caller's
// slices remain theirs to mutate.
func New(ticks []uint64, missRatios []float64, opts Options) (*Curve, error) {
	c := &Curve{
		ticks:      append([]uint64(nil), ticks...),
		missRatios: append([]float64(nil), missRatios...),
		opts:       opts,
		cache:      make(map[uint64]float64),
	}
	if err := c.checkSanity(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Curve) checkSanity() error {
	var result error
	if len(c.ticks) == 0 {
		result = multierror.Append(result, errors.New("ticks is empty"))
		return result
	}
	if len(c.ticks) != len(c.missRatios) {
		result = multierror.Append(result, errors.Newf(
			"ticks.size()=%d and miss_ratios.size()=%d mismatch", len(c.ticks), len(c.missRatios)))
		return result
	}
	prevTick := c.ticks[0]
	maxMR := 1.0
	for i, t := range c.ticks {
		mr := c.missRatios[i]
		if i > 0 && t <= prevTick {
			result = multierror.Append(result, errors.Newf(
				"tick[%d]=%d is not strictly increasing over tick[%d]=%d", i, t, i-1, prevTick))
		}
		if mr < 0 || mr > 1 {
			result = multierror.Append(result, errors.Newf("miss_ratio[%d]=%v out of [0,1]", i, mr))
		}
		if mr > maxMR {
			result = multierror.Append(result, errors.Newf(
				"miss_ratio[%d]=%v exceeds previous anchor %v; curve must be non-increasing", i, mr, maxMR))
		}
		prevTick = t
		maxMR = mr
	}
	return result
}

// GetConst answers a query without touching the memoization cache. Prefer
// Get on a hot path; use GetConst when the curve must stay side-effect free
// (e.g. probing from multiple goroutines without synchronizing the cache).
func (c *Curve) GetConst(cacheSize uint64) (float64, error) {
	last := len(c.ticks) - 1
	if cacheSize > c.ticks[last] {
		if c.opts.ConservativeOutOfRange {
			return c.missRatios[last], nil
		}
		return 0, errors.Wrapf(ErrOutOfRange, "max=%d received=%d", c.ticks[last], cacheSize)
	}

	if cacheSize < c.ticks[0] {
		// mr(0) = 1 by convention; interpolate between (0, 1) and (ticks[0], missRatios[0]).
		return c.interpolate(1, c.missRatios[0], cacheSize, c.ticks[0]-cacheSize), nil
	}

	idx := lowerBound(c.ticks, cacheSize)
	if c.ticks[idx] == cacheSize {
		return c.missRatios[idx], nil
	}
	// idx > 0 is guaranteed: cacheSize >= ticks[0] and cacheSize != ticks[idx].
	return c.interpolate(c.missRatios[idx-1], c.missRatios[idx],
		cacheSize-c.ticks[idx-1], c.ticks[idx]-cacheSize), nil
}

// Get answers a query, memoizing the result per integer size.
func (c *Curve) Get(cacheSize uint64) (float64, error) {
	c.mu.Lock()
	if mr, ok := c.cache[cacheSize]; ok {
		c.mu.Unlock()
		return mr, nil
	}
	c.mu.Unlock()

	mr, err := c.GetConst(cacheSize)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.cache[cacheSize] = mr
	c.mu.Unlock()
	return mr, nil
}

// interpolate computes the weighted average between two anchors at
// distances lDist/rDist, per §4.1's formula
// m(x) = m_l*(t_r-x)/(t_r-t_l) + m_r*(x-t_l)/(t_r-t_l).
func (c *Curve) interpolate(lVal, rVal float64, lDist, rDist uint64) float64 {
	if c.opts.DisableInterpolationNearSaturation && (1.0-lVal) < Epsilon {
		return 1
	}
	totalDist := float64(lDist + rDist)
	lRatio := float64(rDist) / totalDist
	rRatio := float64(lDist) / totalDist
	return lVal*lRatio + rVal*rRatio
}

// lowerBound returns the index of the first tick >= target (ticks is sorted
// strictly increasing), mirroring std::lower_bound's role in the source.
func lowerBound(ticks []uint64, target uint64) int {
	lo, hi := 0, len(ticks)
	for lo < hi {
		mid := (lo + hi) / 2
		if ticks[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == len(ticks) {
		lo = len(ticks) - 1
	}
	return lo
}

// IsMonotonic reports whether consecutive anchors are non-increasing; a
// cheap re-check usable by tests and by callers who mutate a curve's
// source data out of band.
func (c *Curve) IsMonotonic() bool {
	for i := 1; i < len(c.missRatios); i++ {
		if c.missRatios[i] > c.missRatios[i-1] {
			return false
		}
	}
	return true
}
