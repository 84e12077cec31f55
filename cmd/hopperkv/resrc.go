package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chenhao-ye/hopperkv/pkg/alloc"
	"github.com/chenhao-ye/hopperkv/pkg/config"
	"github.com/chenhao-ye/hopperkv/pkg/metrics"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
	"github.com/chenhao-ye/hopperkv/pkg/server"
	"github.com/chenhao-ye/hopperkv/pkg/storage"
)

var resrcCmd = &cobra.Command{
	Use:   "resrc",
	Short: "inspect RESRC.GET/RESRC.SET semantics against a single in-process tenant",
}

var resrcContext struct {
	cacheSize int64
	dbRCU     float64
	dbWCU     float64
	netBW     float64
}

var resrcGetCmd = &cobra.Command{
	Use:   "get",
	Short: "print one tenant's base resource allocation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		inst, cleanup, err := newResrcDemoInstance()
		if err != nil {
			return err
		}
		defer cleanup()
		v, err := inst.ResrcGet(cmd.Context(), "demo")
		if err != nil {
			return err
		}
		printResrcVector(cmd, v)
		return nil
	},
}

var resrcSetCmd = &cobra.Command{
	Use:   "set",
	Short: "apply a RESRC.SET-equivalent change and print the resulting vector",
	Long: `
cache-size/db-rcu/db-wcu/net-bw each apply only when >= 0; a negative value
(the default) means "leave that dimension unchanged", matching
HOPPER.RESRC.SET's per-argument skip convention.
`,
	Args: cobra.NoArgs,
	RunE: runResrcSet,
}

func init() {
	resrcCmd.AddCommand(resrcGetCmd, resrcSetCmd)

	f := resrcSetCmd.Flags()
	f.Int64Var(&resrcContext.cacheSize, "cache-size", -1, "new cache size in bytes, or -1 to leave unchanged")
	f.Float64Var(&resrcContext.dbRCU, "db-rcu", -1, "new backing-store read capacity units/sec, or -1 to leave unchanged")
	f.Float64Var(&resrcContext.dbWCU, "db-wcu", -1, "new backing-store write capacity units/sec, or -1 to leave unchanged")
	f.Float64Var(&resrcContext.netBW, "net-bw", -1, "new network bandwidth budget in bytes/sec, or -1 to leave unchanged")
}

func runResrcSet(cmd *cobra.Command, args []string) error {
	inst, cleanup, err := newResrcDemoInstance()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if err := inst.ResrcSet(ctx, "demo", resrcContext.cacheSize, resrcContext.dbRCU, resrcContext.dbWCU, resrcContext.netBW); err != nil {
		return err
	}
	v, err := inst.ResrcGet(ctx, "demo")
	if err != nil {
		return err
	}
	printResrcVector(cmd, v)
	return nil
}

// newResrcDemoInstance builds a throwaway single-tenant Instance: resrc
// inspection needs a live tenant to hold state, but this driver has no
// persistent process to attach to, so each invocation gets a fresh one.
func newResrcDemoInstance() (*server.Instance, func(), error) {
	cfg := config.New()
	m := metrics.New("hopperkv_resrc")
	inst := server.New(cfg, m, alloc.DefaultPolicy(), alloc.DefaultParams())
	base := resrc.Vector{
		CacheSize: 16 << 20,
		Stateless: resrc.Stateless{RCU: 1e5, WCU: 1e5, NetBW: 1e8},
	}
	if err := inst.AddTenant("demo", storage.NewMockBackend(), base.Stateless.RCU, base.Stateless.WCU, base.Stateless, base, 1.0); err != nil {
		return nil, nil, err
	}
	return inst, func() {}, nil
}

func printResrcVector(cmd *cobra.Command, v resrc.Vector) {
	fmt.Fprintf(cmd.OutOrStdout(), "cache_size=%d db_rcu=%.2f db_wcu=%.2f net_bw=%.2f\n",
		v.CacheSize, v.Stateless.RCU, v.Stateless.WCU, v.Stateless.NetBW)
}
