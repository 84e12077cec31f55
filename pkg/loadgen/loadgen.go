// Package loadgen implements a paced synthetic load generator for
// benchmarking a HopperKV instance: a fixed pool of worker goroutines
// issue GET/SET requests against a tenant at a target QPS, sharing one
// rate limiter the way the teacher's demo workload runner paces SQL
// queries against a transient cluster.
package loadgen

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Client is the subset of pkg/server's Instance a load generator needs.
// Kept as an interface (rather than importing pkg/server directly) so
// tests can drive it against a trivial in-memory fake.
type Client interface {
	Get(ctx context.Context, tenantID, key string) (string, error)
	Set(ctx context.Context, tenantID, key, value string) error
}

// Config controls one load-generation run.
type Config struct {
	TenantID string
	// QPS is the aggregate target rate across all workers; zero means
	// unpaced (burst as fast as the workers can go).
	QPS float64
	// Concurrency is the number of worker goroutines issuing requests.
	Concurrency int
	// KeySpace bounds the uniformly sampled key range; keys look like
	// "k<0..KeySpace)".
	KeySpace int
	// ValueSize is the byte length of values written by SET.
	ValueSize int
	// GetRatio is the fraction of operations that are GET (the rest are
	// SET), in [0, 1].
	GetRatio float64
	// Duration bounds how long Run drives load before returning, if ctx
	// doesn't cancel first. Zero means "until ctx is canceled".
	Duration time.Duration
}

// Result tallies one Run's outcome.
type Result struct {
	Gets    uint64
	Sets    uint64
	Errors  uint64
	Elapsed time.Duration
}

// Run drives Config's load against client until ctx is canceled or
// Duration elapses, whichever comes first.
func Run(ctx context.Context, client Client, cfg Config) Result {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.KeySpace <= 0 {
		cfg.KeySpace = 1
	}

	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	var limiter *rate.Limiter
	if cfg.QPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QPS), 1)
	}

	start := time.Now()
	var gets, sets, errs atomic.Uint64

	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for w := 0; w < cfg.Concurrency; w++ {
		w := w
		go func() {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(int64(w) + 1))
			value := makeValue(cfg.ValueSize)
			for {
				if limiter != nil {
					if err := limiter.Wait(ctx); err != nil {
						return
					}
				} else {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}

				key := fmt.Sprintf("k%d", rnd.Intn(cfg.KeySpace))
				if rnd.Float64() < cfg.GetRatio {
					if _, err := client.Get(ctx, cfg.TenantID, key); err != nil {
						errs.Add(1)
					} else {
						gets.Add(1)
					}
				} else {
					if err := client.Set(ctx, cfg.TenantID, key, value); err != nil {
						errs.Add(1)
					} else {
						sets.Add(1)
					}
				}

				select {
				case <-ctx.Done():
					return
				default:
				}
			}
		}()
	}
	wg.Wait()

	return Result{
		Gets:    gets.Load(),
		Sets:    sets.Load(),
		Errors:  errs.Load(),
		Elapsed: time.Since(start),
	}
}

func makeValue(size int) string {
	if size <= 0 {
		size = 1
	}
	b := make([]byte, size)
	for i := range b {
		b[i] = 'v'
	}
	return string(b)
}
