package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chenhao-ye/hopperkv/pkg/alloc"
	"github.com/chenhao-ye/hopperkv/pkg/config"
	"github.com/chenhao-ye/hopperkv/pkg/loadgen"
	"github.com/chenhao-ye/hopperkv/pkg/metrics"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
	"github.com/chenhao-ye/hopperkv/pkg/server"
	"github.com/chenhao-ye/hopperkv/pkg/stats"
	"github.com/chenhao-ye/hopperkv/pkg/storage"
)

var benchContext struct {
	qps         float64
	concurrency int
	keySpace    int
	valueSize   int
	getRatio    float64
	duration    time.Duration
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "drive paced synthetic load against a single in-process tenant",
	Long: `
Start one mock-backed tenant, drive it with loadgen for the configured
duration, then print its STATS report.
`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	f := benchCmd.Flags()
	f.Float64Var(&benchContext.qps, "qps", 1000, "aggregate target requests per second (0 = unpaced)")
	f.IntVar(&benchContext.concurrency, "concurrency", 8, "number of worker goroutines issuing requests")
	f.IntVar(&benchContext.keySpace, "key-space", 10000, "number of distinct keys sampled from")
	f.IntVar(&benchContext.valueSize, "value-size", 100, "bytes written per SET")
	f.Float64Var(&benchContext.getRatio, "get-ratio", 0.9, "fraction of operations that are GET")
	f.DurationVar(&benchContext.duration, "duration", 10*time.Second, "how long to drive load")
}

func runBench(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg := config.New()
	m := metrics.New("hopperkv_bench")
	inst := server.New(cfg, m, alloc.DefaultPolicy(), alloc.DefaultParams())

	base := resrc.Vector{
		CacheSize: 16 << 20,
		Stateless: resrc.Stateless{RCU: 1e6, WCU: 1e6, NetBW: 1e9},
	}
	if err := inst.AddTenant("bench", storage.NewMockBackend(), 1e6, 1e6, base.Stateless, base, 1.0); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- inst.Run(runCtx) }()

	res := loadgen.Run(ctx, inst, loadgen.Config{
		TenantID:    "bench",
		QPS:         benchContext.qps,
		Concurrency: benchContext.concurrency,
		KeySpace:    benchContext.keySpace,
		ValueSize:   benchContext.valueSize,
		GetRatio:    benchContext.getRatio,
		Duration:    benchContext.duration,
	})
	cancel()
	<-runErr

	fmt.Fprintf(cmd.OutOrStdout(), "gets=%d sets=%d errors=%d elapsed=%s\n", res.Gets, res.Sets, res.Errors, res.Elapsed)

	report, err := inst.Stats(ctx, "bench", stats.RuntimeMemStatsProvider{})
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), report.String())
	return nil
}
