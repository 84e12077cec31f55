// Package ratelimit implements the rolling-time-frame rate limiter used to
// bound per-tenant resource consumption: a limiter accumulates consumption
// within a fixed-length rolling frame and reports how long a caller should
// wait before the accumulated consumption would stay within the configured
// rate.
package ratelimit

import (
	"math"
	"sync/atomic"
	"time"
)

// TimeFrame is the rolling window length consumption is measured over.
const TimeFrame = 370 * time.Millisecond

var timeFrameSec = TimeFrame.Seconds()

// progressCounter abstracts the within-frame consumption counter. Two
// implementations exist because Consume and CheckWaitTime are called from
// different ownership domains: CheckWaitTime (and the frame rollover it
// drives) is only ever called by the owning command thread, but Consume may
// be invoked from a storage-worker completion callback running on a
// different goroutine — a pattern mirrored from the source's
// SingleThreadProgress/ConcurrentProgress split.
type progressCounter interface {
	load() uint64
	store(uint64)
	add(uint64)
}

// singleThreadProgress is a plain counter for limiters whose Consume calls
// are known to originate from the same goroutine as CheckWaitTime.
type singleThreadProgress struct {
	v uint64
}

func (p *singleThreadProgress) load() uint64  { return p.v }
func (p *singleThreadProgress) store(v uint64) { p.v = v }
func (p *singleThreadProgress) add(v uint64)   { p.v += v }

// concurrentProgress is an atomic counter for limiters whose Consume calls
// may race with the owning goroutine's CheckWaitTime/frame rollover.
type concurrentProgress struct {
	v atomic.Uint64
}

func (p *concurrentProgress) load() uint64   { return p.v.Load() }
func (p *concurrentProgress) store(v uint64) { p.v.Store(v) }
func (p *concurrentProgress) add(v uint64)   { p.v.Add(v) }

// Limiter tracks consumption against a target rate (consumption units per
// second) over a rolling TimeFrame window. Rate changes proposed via
// ProposeNewRate are not applied immediately — they take effect at the next
// frame rollover, matching the source's "propose now, apply later" design so
// an in-flight frame's accounting is never disturbed mid-frame.
//
// Only one goroutine may call CheckWaitTime (and thereby drive frame
// rollover) on a given Limiter at a time. Consume may be called
// concurrently with CheckWaitTime if the limiter was built with
// NewConcurrent.
type Limiter struct {
	rate         float64 // current rate, mutated only inside updateTimeFrame
	frameBegin   time.Time
	progress     progressCounter
	proposedRate atomic.Uint64 // float64 bits, set via ProposeNewRate
}

// New builds a Limiter whose Consume calls all originate from the same
// goroutine that calls CheckWaitTime.
func New(rate float64) *Limiter {
	return newLimiter(rate, &singleThreadProgress{})
}

// NewConcurrent builds a Limiter safe for Consume to be called from a
// goroutine other than the one driving CheckWaitTime (e.g. a storage-worker
// completion callback crediting consumption back to the command thread's
// limiter).
func NewConcurrent(rate float64) *Limiter {
	return newLimiter(rate, &concurrentProgress{})
}

func newLimiter(rate float64, p progressCounter) *Limiter {
	l := &Limiter{
		rate:       rate,
		frameBegin: time.Now(),
		progress:   p,
	}
	l.proposedRate.Store(math.Float64bits(rate))
	return l
}

// Rate reports the limiter's currently-applied rate. A rate proposed via
// ProposeNewRate but not yet rolled over into effect is not reflected here.
func (l *Limiter) Rate() float64 {
	return l.rate
}

// Consume records consumption units against the current frame.
func (l *Limiter) Consume(n uint64) {
	l.progress.add(n)
}

// updateTimeFrame rolls the frame over if it has elapsed, applying any
// pending proposed rate at the rollover boundary, and returns the elapsed
// time (in seconds) since the current frame began.
//
// On rollover, the new frame's begin time is set to now minus the leftover
// remainder (elapsed mod TimeFrame) rather than to now — preserving the
// frame's phase instead of resetting it, so frame boundaries stay evenly
// spaced even if CheckWaitTime is called at irregular intervals.
func (l *Limiter) updateTimeFrame() float64 {
	now := time.Now()
	elapsed := now.Sub(l.frameBegin).Seconds()
	if elapsed >= timeFrameSec {
		elapsed = math.Mod(elapsed, timeFrameSec)
		l.frameBegin = now.Add(-time.Duration(elapsed * float64(time.Second)))
		l.progress.store(0)
		if newRate := math.Float64frombits(l.proposedRate.Load()); newRate != l.rate {
			l.rate = newRate
		}
	}
	return elapsed
}

// CheckWaitTime rolls the frame over if due and reports how long the caller
// should wait before consuming further to stay within rate. A value <= 0
// means the caller may proceed immediately.
func (l *Limiter) CheckWaitTime() time.Duration {
	elapsed := l.updateTimeFrame()
	if l.rate <= 0 {
		return 0
	}
	permittedElapsed := float64(l.progress.load()) / l.rate
	waitSec := permittedElapsed - elapsed
	return time.Duration(waitSec * float64(time.Second))
}

// ProposeNewRate schedules rate as the limiter's rate starting at the next
// frame rollover. Safe to call from any goroutine.
func (l *Limiter) ProposeNewRate(rate float64) {
	l.proposedRate.Store(math.Float64bits(rate))
}
