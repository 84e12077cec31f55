// Package server wires the cache, ghost cache, inflight registry, storage
// worker, allocator, config store, stats and metrics packages into the
// command surface a cache process exposes: GET/SET/SETC/LOAD/STATS/RESRC/
// CONFIG/GHOST/BARRIER.
//
// Every mutation of a tenant's cache, ghost cache or inflight registry
// runs on that tenant's own single command-loop goroutine — the Go analog
// of the source's single-threaded Redis main-thread dispatch, one logical
// thread per cache process. Unlike the source, where one Redis instance
// is dedicated to one tenant, Instance hosts many tenants in one process
// for the purposes of local benchmarking and the allocator demo; each
// tenant still gets its own command goroutine so one tenant's work never
// stalls another tenant's requests. Network-limiter throttling sleeps on
// the requesting goroutine, outside the command loop (see
// waitForNetBudget). Public methods on Instance are
// safe to call concurrently from any number of goroutines: each submits a
// closure onto the target tenant's command channel and waits for the
// result, rather than mutating tenant state directly.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chenhao-ye/hopperkv/pkg/alloc"
	"github.com/chenhao-ye/hopperkv/pkg/config"
	"github.com/chenhao-ye/hopperkv/pkg/ghost"
	"github.com/chenhao-ye/hopperkv/pkg/logutil"
	"github.com/chenhao-ye/hopperkv/pkg/metrics"
	"github.com/chenhao-ye/hopperkv/pkg/mrc"
	"github.com/chenhao-ye/hopperkv/pkg/ratelimit"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
	"github.com/chenhao-ye/hopperkv/pkg/stats"
	"github.com/chenhao-ye/hopperkv/pkg/storage"
	"github.com/chenhao-ye/hopperkv/pkg/task"
)

// tenant bundles one tenant's entire cache data plane: the actual
// key-value map, the ghost cache used to estimate its miss-ratio curve,
// the inflight dedup registry, its dedicated storage worker, its
// resource-consumption stats, and the network-bandwidth limiter guarding
// client-facing traffic. Every field below is touched only from cmdCh's
// goroutine once Run starts.
type tenant struct {
	id string

	cache map[string]string

	backend    storage.Backend
	ghostCache *ghost.Cache
	inflight   *task.InflightRegistry
	worker     *storage.Worker
	stats      *stats.Stats
	netLimiter *ratelimit.Limiter

	demandCacheless resrc.Stateless
	netBWAlpha      float64
	allocIdx        int

	allocatedCacheSize uint64
	allocatedDBRCU      float64
	allocatedDBWCU      float64
	allocatedNetBW      float64

	cmdCh chan func()

	log logutil.Logger
}

// exec submits fn onto t's command channel and blocks until it has run,
// returning ctx.Err() instead if ctx is canceled first. fn must not
// block — it runs on t's single command goroutine.
func (t *tenant) exec(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		fn()
		close(done)
	}
	select {
	case t.cmdCh <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Instance is one HopperKV node hosting one or more tenants, a shared
// allocator running periodic reallocation across all of them, a shared
// config store, and Prometheus instrumentation.
type Instance struct {
	cfg     *config.Store
	metrics *metrics.Metrics
	log     logutil.Logger

	allocator *alloc.Allocator

	mu      sync.Mutex // guards tenants map structure only, not tenant internals
	tenants map[string]*tenant

	barrierMu      sync.Mutex
	barrierWaiters []chan struct{}
}

// New builds an Instance. cfg and m must be non-nil; policy/params select
// the allocator's trading/redistribution behavior (alloc.DefaultPolicy/
// DefaultParams are reasonable defaults).
func New(cfg *config.Store, m *metrics.Metrics, policy alloc.Policy, params alloc.Params) *Instance {
	return &Instance{
		cfg:       cfg,
		metrics:   m,
		log:       logutil.New(),
		allocator: alloc.NewAllocator(policy, params),
		tenants:   make(map[string]*tenant),
	}
}

// flatMissCurve is a conservative bootstrap miss-ratio curve — "this
// tenant misses on every read regardless of cache size" — used for a
// freshly registered tenant that has no ghost-cache samples yet.
// Reallocate does not replace it: the allocator keeps this curve for the
// tenant, and ghost-cache stats are not fed back into it.
func flatMissCurve(maxCacheSize uint64) (*mrc.Curve, error) {
	return mrc.New([]uint64{0, maxCacheSize}, []float64{1, 1}, mrc.DefaultOptions())
}

// AddTenant registers a new tenant's cache data plane: an empty KV cache,
// a ghost cache built from the config store's current ghost.range, a
// mock-backend-backed storage worker rate-limited at rcuRate/wcuRate, and
// the allocator bookkeeping (demandCacheless/base/netBWAlpha) HARE needs
// to size its share on the next Reallocate. Must be called before Run.
func (s *Instance) AddTenant(id string, backend storage.Backend, rcuRate, wcuRate float64,
	demandCacheless resrc.Stateless, base resrc.Vector, netBWAlpha float64) error {

	gr := s.cfg.GhostRange()
	gc, err := ghost.New(gr.Tick, gr.MinTick, gr.MaxTick)
	if err != nil {
		return err
	}
	curve, err := flatMissCurve(gr.MaxTick)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.tenants[id]; exists {
		s.mu.Unlock()
		return errors.Newf("server: tenant %q already registered", id)
	}
	log := s.log.WithTenant(len(s.tenants))
	s.mu.Unlock()

	w := storage.NewWorker(backend, rcuRate, wcuRate, log)
	idx := s.allocator.AddTenant(demandCacheless, base, curve, netBWAlpha)

	t := &tenant{
		id:                 id,
		cache:              make(map[string]string),
		backend:            backend,
		ghostCache:         gc,
		inflight:           task.NewInflightRegistry(config.CacheEnableInflightDedup),
		worker:             w,
		stats:              stats.New(config.PolicyAllocTotalNetBW),
		netLimiter:         ratelimit.New(base.Stateless.NetBW),
		demandCacheless:    demandCacheless,
		netBWAlpha:         netBWAlpha,
		allocIdx:           idx,
		allocatedCacheSize: base.CacheSize,
		allocatedDBRCU:     base.Stateless.RCU,
		allocatedDBWCU:     base.Stateless.WCU,
		allocatedNetBW:     base.Stateless.NetBW,
		cmdCh:              make(chan func()),
		log:                log,
	}

	s.mu.Lock()
	s.tenants[id] = t
	s.mu.Unlock()
	return nil
}

func (s *Instance) tenantByID(id string) (*tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, errors.Newf("server: unknown tenant %q", id)
	}
	return t, nil
}

func (s *Instance) allTenants() []*tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	return out
}

// Run drives every tenant's command loop and storage worker until ctx is
// canceled. It must be running before any Instance method is called.
func (s *Instance) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, t := range s.allTenants() {
		t := t
		g.Go(func() error { return t.worker.Run(ctx) })
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case fn := <-t.cmdCh:
					fn()
				}
			}
		})
	}

	g.Go(func() error { return s.runAllocator(ctx) })

	return g.Wait()
}

// runAllocator drives periodic HARE reallocation across every tenant at
// config.AllocatorInterval, the in-process stand-in for the out-of-scope
// controller process that would otherwise call RESRC.SET over RPC.
func (s *Instance) runAllocator(ctx context.Context) error {
	ticker := time.NewTicker(config.AllocatorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Reallocate(ctx); err != nil {
				s.log.Warnf("reallocate failed: %s", err)
			}
		}
	}
}

// newSessionID returns a fresh random identifier. No command in this
// package calls it.
func newSessionID() string { return uuid.NewString() }
