package server

import (
	"bufio"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chenhao-ye/hopperkv/pkg/alloc"
	"github.com/chenhao-ye/hopperkv/pkg/config"
	"github.com/chenhao-ye/hopperkv/pkg/metrics"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
	"github.com/chenhao-ye/hopperkv/pkg/stats"
	"github.com/chenhao-ye/hopperkv/pkg/storage"
)

// newTestInstance builds a running Instance with one tenant ("t0") backed
// by a mock image-mode backend preloaded with key -> size rows via csv.
func newTestInstance(t *testing.T, csv string) (*Instance, *storage.MockBackend, context.CancelFunc) {
	t.Helper()
	cfg := config.New()
	m := metrics.New("hopperkv_test")

	inst := New(cfg, m, alloc.DefaultPolicy(), alloc.DefaultParams())

	b := storage.NewMockBackend()
	b.EnableImage()
	require.NoError(t, b.LoadImage(strings.NewReader(csv)))

	base := resrc.Vector{
		CacheSize: 16 * 1024 * 1024,
		Stateless: resrc.Stateless{RCU: 1e6, WCU: 1e6, NetBW: 1e9},
	}
	require.NoError(t, inst.AddTenant("t0", b, 1e6, 1e6, resrc.Stateless{RCU: 1, WCU: 1, NetBW: 1}, base, 1.0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = inst.Run(ctx) }()
	return inst, b, cancel
}

func TestGetMissThenHit(t *testing.T) {
	inst, _, cancel := newTestInstance(t, "key,val_size\nfoo,5\n")
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	v, err := inst.Get(ctx, "t0", "foo")
	require.NoError(t, err)
	require.Equal(t, "vvvvv", v)

	// Second GET is now a cache hit — no storage round trip needed.
	v2, err := inst.Get(ctx, "t0", "foo")
	require.NoError(t, err)
	require.Equal(t, v, v2)
}

func TestGetDedupsConcurrentMissesOntoOneFetch(t *testing.T) {
	inst, _, cancel := newTestInstance(t, "key,val_size\nfoo,5\n")
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i], errs[i] = inst.Get(ctx, "t0", "foo")
		}()
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, "vvvvv", results[i])
	}

	report, err := inst.Stats(ctx, "t0", stats.RuntimeMemStatsProvider{})
	require.NoError(t, err)
	// Every GET records one sample against ReqCnt. Only the owner of the
	// single storage fetch records a miss: dependents count as hits, and a
	// GET arriving after the fetch committed hits the cache.
	require.Equal(t, uint64(n), report.ReqCnt)
	require.Equal(t, uint64(1), report.MissCnt)
}

func TestSetInvalidatesInflightGetWithoutClobberingCache(t *testing.T) {
	inst, b, cancel := newTestInstance(t, "key,val_size\nfoo,5\n")
	defer cancel()
	b.SetLatency(50 * time.Millisecond)

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	getResult := make(chan string, 1)
	getErr := make(chan error, 1)
	go func() {
		v, err := inst.Get(ctx, "t0", "foo")
		getResult <- v
		getErr <- err
	}()

	// Give the GET time to register inflight before the SET races it.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, inst.Set(ctx, "t0", "foo", "bar"))

	select {
	case v := <-getResult:
		require.NoError(t, <-getErr)
		// The dependent-free owner GET still observes the value it
		// actually fetched from storage, not the concurrent SET's.
		require.Equal(t, "vvvvv", v)
	case <-time.After(2 * time.Second):
		t.Fatal("get never completed")
	}

	// The SET's own value must win in the cache: the GET's completion
	// callback must not have clobbered it.
	v, err := inst.Get(ctx, "t0", "foo")
	require.NoError(t, err)
	require.Equal(t, "bar", v)
}

func TestSetCIsCacheOnly(t *testing.T) {
	inst, _, cancel := newTestInstance(t, "key,val_size\n")
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	require.NoError(t, inst.SetC(ctx, "t0", "k", "v"))
	v, err := inst.Get(ctx, "t0", "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
}

func TestLoadWarmsCacheAndGhost(t *testing.T) {
	inst, _, cancel := newTestInstance(t, "key,val_size\n")
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	sc := bufio.NewScanner(strings.NewReader("key,val_size\nk1,3\nk2,4\n"))
	require.NoError(t, inst.Load(ctx, "t0", sc))

	v, err := inst.Get(ctx, "t0", "k1")
	require.NoError(t, err)
	require.Equal(t, "vvv", v)
}

func TestResrcGetSetRoundTrip(t *testing.T) {
	inst, _, cancel := newTestInstance(t, "key,val_size\n")
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	require.NoError(t, inst.ResrcSet(ctx, "t0", 8*1024*1024, 100, -1, 2000))
	v, err := inst.ResrcGet(ctx, "t0")
	require.NoError(t, err)
	require.Equal(t, uint64(8*1024*1024), v.CacheSize)
	require.Equal(t, float64(100), v.Stateless.RCU)
	require.Equal(t, float64(2000), v.Stateless.NetBW)
}

func TestBarrierWaitWokenBySignal(t *testing.T) {
	inst, _, cancel := newTestInstance(t, "key,val_size\n")
	defer cancel()

	ctx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()

	done1 := make(chan error, 1)
	go func() { done1 <- inst.BarrierWait(ctx) }()

	require.Eventually(t, func() bool { return inst.BarrierCount() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, 1, inst.BarrierSignal())
	require.NoError(t, <-done1)
}
