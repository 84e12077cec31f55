package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chenhao-ye/hopperkv/pkg/alloc"
	"github.com/chenhao-ye/hopperkv/pkg/config"
	"github.com/chenhao-ye/hopperkv/pkg/metrics"
	"github.com/chenhao-ye/hopperkv/pkg/resrc"
	"github.com/chenhao-ye/hopperkv/pkg/server"
	"github.com/chenhao-ye/hopperkv/pkg/stats"
	"github.com/chenhao-ye/hopperkv/pkg/storage"
)

var ghostCmd = &cobra.Command{
	Use:   "ghost",
	Short: "warm a tenant's ghost cache from a key,val_size CSV and save/load its checkpoint",
}

var ghostSaveContext struct {
	loadCSV string
	out     string
}

var ghostSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "warm a tenant from --load-csv, then write its ghost cache checkpoint to --out",
	Args:  cobra.NoArgs,
	RunE:  runGhostSave,
}

var ghostLoadContext struct {
	in string
}

var ghostLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "load a ghost cache checkpoint from --in and print its estimated miss curve",
	Args:  cobra.NoArgs,
	RunE:  runGhostLoad,
}

func init() {
	ghostCmd.AddCommand(ghostSaveCmd, ghostLoadCmd)

	ghostSaveCmd.Flags().StringVar(&ghostSaveContext.loadCSV, "load-csv", "", "key,val_size CSV to warm the cache from (required)")
	ghostSaveCmd.Flags().StringVar(&ghostSaveContext.out, "out", "", "file to write the ghost cache checkpoint to (required)")
	_ = ghostSaveCmd.MarkFlagRequired("load-csv")
	_ = ghostSaveCmd.MarkFlagRequired("out")

	ghostLoadCmd.Flags().StringVar(&ghostLoadContext.in, "in", "", "ghost cache checkpoint file to load (required)")
	_ = ghostLoadCmd.MarkFlagRequired("in")
}

func newGhostDemoInstance() (*server.Instance, error) {
	cfg := config.New()
	m := metrics.New("hopperkv_ghost")
	inst := server.New(cfg, m, alloc.DefaultPolicy(), alloc.DefaultParams())
	base := resrc.Vector{
		CacheSize: 16 << 20,
		Stateless: resrc.Stateless{RCU: 1e5, WCU: 1e5, NetBW: 1e8},
	}
	if err := inst.AddTenant("demo", storage.NewMockBackend(), base.Stateless.RCU, base.Stateless.WCU, base.Stateless, base, 1.0); err != nil {
		return nil, err
	}
	return inst, nil
}

func runGhostSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	inst, err := newGhostDemoInstance()
	if err != nil {
		return err
	}

	f, err := os.Open(ghostSaveContext.loadCSV)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := inst.Load(ctx, "demo", bufio.NewScanner(f)); err != nil {
		return err
	}

	out, err := os.Create(ghostSaveContext.out)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := inst.GhostSave(ctx, "demo", out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote ghost checkpoint to %s\n", ghostSaveContext.out)
	return nil
}

func runGhostLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	inst, err := newGhostDemoInstance()
	if err != nil {
		return err
	}

	in, err := os.Open(ghostLoadContext.in)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := inst.GhostLoad(ctx, "demo", in); err != nil {
		return err
	}

	report, err := inst.Stats(ctx, "demo", stats.RuntimeMemStatsProvider{})
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), report.String())
	return nil
}
