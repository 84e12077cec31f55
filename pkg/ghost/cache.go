// Package ghost implements the sampled shadow (ghost) cache used to build
// per-tenant miss-ratio curves: an LRU keyed by a hashed, sub-sampled key
// space, instrumented with cumulative hit/miss counters at a configured set
// of size tiers.
//
// Cache is not safe for concurrent use — per the single command-thread
// ownership model, only one goroutine may call into a given Cache at a
// time.
package ghost

import (
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// SampleShift determines the sub-sampling rate: only keys whose hash has
// its lowest SampleShift bits all zero are tracked, giving a sample rate of
// 2^-SampleShift while letting a bounded-memory structure represent a much
// larger real cache.
const SampleShift = 5

const sampleMask = uint64(1)<<SampleShift - 1

// AccessMode controls whether an access updates the hit/miss counters
// (DEFAULT) or only the LRU recency (NOOP, used for checkpoint replay and
// write-only paths that shouldn't bias the miss-ratio curve).
type AccessMode int

const (
	Default AccessMode = iota
	Noop
)

// CacheStat is the cumulative hit/miss tally observed at one size tier.
type CacheStat struct {
	HitCnt  uint64
	MissCnt uint64
}

// TierPoint is one point on the miss-ratio curve under construction: how
// many sampled keys (and how many sampled bytes) currently fit within this
// tier's capacity, plus the tier's cumulative hit/miss counters.
type TierPoint struct {
	KeyCount uint64
	AggSize  uint64
	Stat     CacheStat
}

type entry struct {
	keyHash    uint32
	kvSize     uint32
	prev, next *entry
}

// Cache is a sampled ghost LRU: tick/minTick/maxTick define a series of
// size tiers (in real, unsampled bytes) at which hit/miss counts are
// tracked; entries are kept in strict LRU order up to the largest tier's
// (sampled) capacity.
type Cache struct {
	tick, minTick, maxTick uint64
	tiers                  []uint64 // real-byte tier boundaries, ascending
	tiersScaled            []uint64 // tier boundaries scaled into sampled-byte space

	byHash map[uint32]*entry
	head   *entry // most-recently-used
	tail   *entry // least-recently-used

	totalSize uint64 // sampled bytes currently resident
	keysCount uint64 // sampled keys currently resident

	tierStats []CacheStat // cumulative hit/miss counters, one per tier
}

// RoundTick rounds down to a multiple of the sampling granularity, so a
// configured tier boundary divides evenly by the sample rate.
func RoundTick(tick uint64) uint64 {
	return (tick >> SampleShift) << SampleShift
}

// HashKey is the single hash function used both to place keys into the
// sampled keyspace and to compute the checkpoint compatibility guard.
func HashKey(key string) uint32 {
	return uint32(xxhash.Sum64String(key))
}

// New builds an empty ghost cache with tiers at min_tick, min_tick+tick,
// ..., up to max_tick (inclusive). tick and min_tick are rounded down to a
// multiple of the sample granularity, and max_tick is aligned so that
// max_tick-min_tick is itself a multiple of tick, mirroring the `ghost.range`
// config setter's validation.
func New(tick, minTick, maxTick uint64) (*Cache, error) {
	tick = RoundTick(tick)
	minTick = RoundTick(minTick)
	maxTick = RoundTick(maxTick)
	if tick == 0 {
		return nil, errors.New("ghost: tick rounds down to 0")
	}
	if maxTick <= minTick {
		return nil, errors.Newf("ghost: max_tick=%d must exceed min_tick=%d", maxTick, minTick)
	}
	span := maxTick - minTick
	maxTick = minTick + (span/tick)*tick
	if maxTick == minTick {
		return nil, errors.Newf("ghost: no tiers fit between min_tick=%d and max_tick=%d at tick=%d", minTick, maxTick, tick)
	}

	c := &Cache{
		tick: tick, minTick: minTick, maxTick: maxTick,
		byHash: make(map[uint32]*entry),
	}
	for b := minTick; b <= maxTick; b += tick {
		c.tiers = append(c.tiers, b)
		c.tiersScaled = append(c.tiersScaled, b>>SampleShift)
	}
	c.tierStats = make([]CacheStat, len(c.tiers))
	return c, nil
}

// Tiers returns the real-byte tier boundaries this cache was configured
// with.
func (c *Cache) Tiers() []uint64 { return append([]uint64(nil), c.tiers...) }

// Tick, MinTick and MaxTick report the rounded/aligned range this cache was
// actually constructed with — the values a `ghost.range` config query
// should echo back, since New may have adjusted the requested inputs.
func (c *Cache) Tick() uint64    { return c.tick }
func (c *Cache) MinTick() uint64 { return c.minTick }
func (c *Cache) MaxTick() uint64 { return c.maxTick }

func sampled(hash uint32) bool {
	return uint64(hash)&sampleMask == 0
}

// Access records a touch of key, sized at kvSize bytes. Keys outside the
// sampled fraction of the keyspace are silently ignored — the ghost cache
// never claims to track every key, only a statistically representative
// slice of them.
func (c *Cache) Access(key string, kvSize uint32, mode AccessMode) {
	c.accessHash(HashKey(key), kvSize, mode)
}

// AccessHash is Access for a caller that already has the 32-bit key hash
// (the checkpoint format only records hashes, not original keys) rather
// than the key string.
func (c *Cache) AccessHash(keyHash uint32, kvSize uint32, mode AccessMode) {
	c.accessHash(keyHash, kvSize, mode)
}

func (c *Cache) accessHash(h uint32, kvSize uint32, mode AccessMode) {
	if !sampled(h) {
		return
	}

	if e, ok := c.byHash[h]; ok {
		if mode == Default {
			dist := c.distanceFromMRU(e)
			c.recordAccess(dist)
		}
		c.moveToFront(e)
		return
	}

	if mode == Default {
		c.recordMissAll()
	}
	e := &entry{keyHash: h, kvSize: kvSize}
	c.byHash[h] = e
	c.pushFront(e)
	c.totalSize += uint64(kvSize)
	c.keysCount++
	c.evict()
}

// UpdateSize adjusts the stored size of an already-resident entry without
// recording an access — used once a previously-unknown value's size
// becomes known (e.g. after a GET miss completes).
func (c *Cache) UpdateSize(key string, newKVSize uint32) {
	h := HashKey(key)
	e, ok := c.byHash[h]
	if !ok {
		return
	}
	c.totalSize = c.totalSize - uint64(e.kvSize) + uint64(newKVSize)
	e.kvSize = newKVSize
	c.evict()
}

// distanceFromMRU sums the sampled size of every entry strictly more recent
// than e — e's "stack distance" for miss-ratio-curve purposes.
func (c *Cache) distanceFromMRU(e *entry) uint64 {
	var dist uint64
	for cur := c.head; cur != nil && cur != e; cur = cur.next {
		dist += uint64(cur.kvSize)
	}
	return dist
}

// recordAccess credits a hit to every tier whose scaled capacity exceeds
// dist, and a miss to every other tier.
func (c *Cache) recordAccess(dist uint64) {
	for i, boundary := range c.tiersScaled {
		if dist < boundary {
			c.tierStats[i].HitCnt++
		} else {
			c.tierStats[i].MissCnt++
		}
	}
}

// recordMissAll credits a miss to every tier — used for a key that wasn't
// resident in the ghost cache under any tier size.
func (c *Cache) recordMissAll() {
	for i := range c.tierStats {
		c.tierStats[i].MissCnt++
	}
}

func (c *Cache) pushFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *Cache) moveToFront(e *entry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

// evict drops least-recently-used entries until the sampled resident set
// fits within the largest tier's scaled capacity.
func (c *Cache) evict() {
	capacity := c.tiersScaled[len(c.tiersScaled)-1]
	for c.totalSize > capacity && c.tail != nil {
		victim := c.tail
		c.unlink(victim)
		delete(c.byHash, victim.keyHash)
		c.totalSize -= uint64(victim.kvSize)
		c.keysCount--
	}
}

// GetCacheStatCurve reports, for every configured tier, how many sampled
// keys and bytes currently fit within its capacity along with the tier's
// cumulative hit/miss counters. Returns nil if the cache holds no entries.
func (c *Cache) GetCacheStatCurve() []TierPoint {
	if c.keysCount == 0 {
		return nil
	}

	curve := make([]TierPoint, len(c.tiers))
	for i := range c.tiers {
		curve[i].Stat = c.tierStats[i]
	}

	var count, size uint64
	tierIdx := 0
	for cur := c.head; cur != nil && tierIdx < len(c.tiersScaled); cur = cur.next {
		if size+uint64(cur.kvSize) > c.tiersScaled[tierIdx] {
			for tierIdx < len(c.tiersScaled) && size+uint64(cur.kvSize) > c.tiersScaled[tierIdx] {
				curve[tierIdx].KeyCount = count
				curve[tierIdx].AggSize = size
				tierIdx++
			}
			if tierIdx >= len(c.tiersScaled) {
				break
			}
		}
		count++
		size += uint64(cur.kvSize)
	}
	for ; tierIdx < len(c.tiersScaled); tierIdx++ {
		curve[tierIdx].KeyCount = count
		curve[tierIdx].AggSize = size
	}
	return curve
}

// ForEachLRU calls fn once per resident entry, ordered from
// least-recently-used to most-recently-used — the order in which Load must
// replay accesses to reconstruct the same LRU ordering.
func (c *Cache) ForEachLRU(fn func(keyHash uint32, kvSize uint32)) {
	for cur := c.tail; cur != nil; cur = cur.prev {
		fn(cur.keyHash, cur.kvSize)
	}
}

// KeysCount reports the number of sampled keys currently resident.
func (c *Cache) KeysCount() uint64 { return c.keysCount }
