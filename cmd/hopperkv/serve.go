package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chenhao-ye/hopperkv/pkg/alloc"
	"github.com/chenhao-ye/hopperkv/pkg/config"
	"github.com/chenhao-ye/hopperkv/pkg/metrics"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
	"github.com/chenhao-ye/hopperkv/pkg/server"
	"github.com/chenhao-ye/hopperkv/pkg/storage"
)

var serveContext struct {
	tenants    int
	cacheSize  uint64
	rcuRate    float64
	wcuRate    float64
	netBW      float64
	metricAddr string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "host one or more mock-backed tenants in a single process",
	Long: `
Start an Instance hosting a number of tenants, each backed by a deterministic
mock store, and run its command loops, storage workers and periodic HARE
allocator pass until interrupted.
`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.IntVar(&serveContext.tenants, "tenants", 2, "number of tenants to host")
	f.Uint64Var(&serveContext.cacheSize, "cache-size", 16<<20, "per-tenant base cache size, in bytes")
	f.Float64Var(&serveContext.rcuRate, "rcu-rate", 1e5, "per-tenant backing-store read capacity units per second")
	f.Float64Var(&serveContext.wcuRate, "wcu-rate", 1e5, "per-tenant backing-store write capacity units per second")
	f.Float64Var(&serveContext.netBW, "net-bw", 1e8, "per-tenant network bandwidth budget, in bytes per second")
	f.StringVar(&serveContext.metricAddr, "metric-addr", ":9090", "address to serve Prometheus metrics on")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.New()
	m := metrics.New("hopperkv")
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return err
	}

	inst := server.New(cfg, m, alloc.DefaultPolicy(), alloc.DefaultParams())
	base := resrc.Vector{
		CacheSize: serveContext.cacheSize,
		Stateless: resrc.Stateless{RCU: serveContext.rcuRate, WCU: serveContext.wcuRate, NetBW: serveContext.netBW},
	}
	demand := resrc.Stateless{RCU: serveContext.rcuRate, WCU: serveContext.wcuRate, NetBW: serveContext.netBW}
	for i := 0; i < serveContext.tenants; i++ {
		id := fmt.Sprintf("t%d", i)
		backend := storage.NewMockBackend()
		if err := inst.AddTenant(id, backend, serveContext.rcuRate, serveContext.wcuRate, demand, base, 1.0); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return inst.Run(ctx) })

	srv := &http.Server{Addr: serveContext.metricAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return srv.Close()
	})

	fmt.Fprintf(cmd.OutOrStdout(), "serving %d tenant(s), metrics on %s\n", serveContext.tenants, serveContext.metricAddr)
	err := g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}
