// Package config holds the mutable runtime policy knobs exposed by the
// CONFIG.GET/CONFIG.SET command surface: the backing-store table name and
// mock mode, the cache write-admission policy, and the ghost cache's
// sampling range. A handful of policy constants that are queryable but
// not settable (network-bandwidth accounting scope, inflight dedup,
// backing-store timing) are also surfaced here so CONFIG.GET has one
// place to read everything from.
package config

import (
	"sync"
	"time"

	"github.com/chenhao-ye/hopperkv/pkg/ghost"
	"github.com/chenhao-ye/hopperkv/pkg/storage"
)

// Policy constants. These are compile-time decisions, not runtime ones:
// Store has no setter for them and Snapshot does not include them.
const (
	// PolicyAllocTotalNetBW: whether the allocator treats storage-facing
	// (backing-store) bandwidth as a tradable resource alongside
	// client-facing bandwidth. Client software only ever observes
	// client-facing bandwidth directly, so this is purely an allocator
	// policy choice.
	PolicyAllocTotalNetBW = true

	// CacheEnableInflightDedup: whether concurrent GETs for the same key
	// are deduplicated into a single backing-store fetch.
	CacheEnableInflightDedup = true

	// MockDynamoLatency is the fixed round-trip latency the mock backend
	// emulates for every request.
	MockDynamoLatency = 5 * time.Millisecond

	// StorageThreadPollFreq bounds how long the storage worker sleeps
	// when it finds no ready work and no rate-limited task to wait on.
	StorageThreadPollFreq = time.Millisecond

	// StatsKVSizeDecayRate is the smoothing factor pkg/stats's running
	// key-value-size average targets (see pkg/stats's ewma-based
	// approximation of this decay rate).
	StatsKVSizeDecayRate = 0.99

	// AllocatorInterval is how often pkg/server's allocator loop runs one
	// round of HARE reallocation across all tenants. The source leaves
	// this entirely to the out-of-scope controller process; one second
	// is a reasonable default for a periodic re-optimization that is
	// explicitly not meant to react per-request.
	AllocatorInterval = time.Second
)

// MockMode selects how the mock backend manufactures responses.
type MockMode int

const (
	MockDisabled MockMode = iota
	MockFormat            // synthesize fixed-size key/value pairs on the fly
	MockImage             // serve sizes looked up from a loaded key->size image
)

// MockConfig is the dynamo.mock sub-configuration. Only the fields
// relevant to Mode are meaningful.
type MockConfig struct {
	Mode       MockMode
	KeySize    uint32
	ValSize    uint32
	ImagePaths []string
}

// GhostRange is the ghost.range sub-configuration: the tier width and
// span the ghost cache samples its miss-ratio curve over.
type GhostRange struct {
	Tick, MinTick, MaxTick uint64
}

// Snapshot is a point-in-time copy of every configurable knob, suitable
// for a CONFIG.GET reply.
type Snapshot struct {
	DynamoTable string
	Mock        MockConfig
	AdmitWrite  bool
	GhostRange  GhostRange
}

// Store holds the current configuration. Zero value is not usable; use
// New. Guarded by a mutex since CONFIG.GET/SET may be invoked from a
// different goroutine than the one driving the command pipeline.
type Store struct {
	mu sync.Mutex

	dynamoTable string
	mock        MockConfig
	admitWrite  bool
	ghostRange  GhostRange
}

// New returns a Store seeded with the documented defaults: table
// "hare_table", mock disabled, write-admission enabled, and a ghost
// range with a tier every 32KiB of cache bytes from 32KiB up to and
// including 1MiB.
func New() *Store {
	return &Store{
		dynamoTable: "hare_table",
		mock:        MockConfig{Mode: MockDisabled},
		admitWrite:  true,
		ghostRange:  GhostRange{Tick: 1 << 15, MinTick: 1 << 15, MaxTick: 1 << 20},
	}
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	mock := s.mock
	mock.ImagePaths = append([]string(nil), s.mock.ImagePaths...)
	return Snapshot{
		DynamoTable: s.dynamoTable,
		Mock:        mock,
		AdmitWrite:  s.admitWrite,
		GhostRange:  s.ghostRange,
	}
}

// SetDynamoTable changes the backing-store table name. Only safe to call
// when there is no inflight request, matching the source's caveat.
func (s *Store) SetDynamoTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dynamoTable = name
}

// DisableMock turns off mock mode; GET/SET go to the real backing store.
func (s *Store) DisableMock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mock = MockConfig{Mode: MockDisabled}
}

// SetMockFormat enables format-synthesis mock mode with the given
// key/value sizes, validating them the same way storage.NewFormat does
// before committing the change.
func (s *Store) SetMockFormat(keySize, valSize uint32) error {
	if _, err := storage.NewFormat(keySize, valSize); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mock = MockConfig{Mode: MockFormat, KeySize: keySize, ValSize: valSize}
	return nil
}

// SetMockImage enables image-lookup mock mode. The caller is responsible
// for actually loading each path into the storage backend — Store only
// records which paths were requested, for CONFIG.GET to echo back.
func (s *Store) SetMockImage(paths []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mock = MockConfig{Mode: MockImage, ImagePaths: append([]string(nil), paths...)}
}

// AdmitWrite reports the current cache.admit_write setting.
func (s *Store) AdmitWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitWrite
}

// SetAdmitWrite changes whether a freshly-written SET is admitted into
// the cache even if the key wasn't previously resident.
func (s *Store) SetAdmitWrite(admit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitWrite = admit
}

// GhostRange reports the current ghost.range setting.
func (s *Store) GhostRange() GhostRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ghostRange
}

// SetGhostRange validates and rounds a requested ghost.range the same
// way ghost.New does, records the rounded values, and returns them so
// the caller can rebuild its ghost.Cache with the authoritative range.
// It does not itself rebuild any cache — ghost.range is cross-cutting
// config, but only the component owning the live ghost.Cache can safely
// swap it in.
func (s *Store) SetGhostRange(tick, minTick, maxTick uint64) (GhostRange, error) {
	c, err := ghost.New(tick, minTick, maxTick)
	if err != nil {
		return GhostRange{}, err
	}
	r := GhostRange{Tick: c.Tick(), MinTick: c.MinTick(), MaxTick: c.MaxTick()}
	s.mu.Lock()
	s.ghostRange = r
	s.mu.Unlock()
	return r, nil
}
