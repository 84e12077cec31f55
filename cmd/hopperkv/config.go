package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chenhao-ye/hopperkv/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "inspect CONFIG.GET/CONFIG.SET semantics against a fresh config store",
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "print a fresh config store's default snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap := config.New().Snapshot()
		printConfigSnapshot(cmd, snap)
		return nil
	},
}

var configSetContext struct {
	dynamoTable string
	admitWrite  bool
	ghostTick   uint64
	ghostMin    uint64
	ghostMax    uint64
	mockKeySize uint32
	mockValSize uint32
}

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "apply one CONFIG.SET-equivalent change and print the resulting snapshot",
	Long: `
Builds a fresh config store, applies whichever --dynamo-table, --admit-write,
--mock-key-size/--mock-val-size or --ghost-tick/--ghost-min/--ghost-max flags
were passed, then prints the resulting snapshot. Flags compose in the order
dynamo-table, admit-write, mock format, ghost range, matching how an operator
would type a sequence of CONFIG.SET calls.
`,
	Args: cobra.NoArgs,
	RunE: runConfigSet,
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd)

	f := configSetCmd.Flags()
	f.StringVar(&configSetContext.dynamoTable, "dynamo-table", "", "set dynamo.table")
	f.BoolVar(&configSetContext.admitWrite, "admit-write", false, "set cache.admit_write")
	f.Uint64Var(&configSetContext.ghostTick, "ghost-tick", 0, "set ghost.range tick (0 = leave unchanged)")
	f.Uint64Var(&configSetContext.ghostMin, "ghost-min", 0, "set ghost.range min_tick")
	f.Uint64Var(&configSetContext.ghostMax, "ghost-max", 0, "set ghost.range max_tick")
	f.Uint32Var(&configSetContext.mockKeySize, "mock-key-size", 0, "set dynamo.mock format key_size (0 = leave unchanged)")
	f.Uint32Var(&configSetContext.mockValSize, "mock-val-size", 0, "set dynamo.mock format val_size")
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	cfg := config.New()

	if configSetContext.dynamoTable != "" {
		cfg.SetDynamoTable(configSetContext.dynamoTable)
	}
	if cmd.Flags().Changed("admit-write") {
		cfg.SetAdmitWrite(configSetContext.admitWrite)
	}
	if configSetContext.mockKeySize > 0 {
		if err := cfg.SetMockFormat(configSetContext.mockKeySize, configSetContext.mockValSize); err != nil {
			return err
		}
	}
	if configSetContext.ghostTick > 0 {
		if _, err := cfg.SetGhostRange(configSetContext.ghostTick, configSetContext.ghostMin, configSetContext.ghostMax); err != nil {
			return err
		}
	}

	printConfigSnapshot(cmd, cfg.Snapshot())
	return nil
}

func printConfigSnapshot(cmd *cobra.Command, snap config.Snapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "dynamo.table:     %q\n", snap.DynamoTable)
	fmt.Fprintf(out, "dynamo.mock.mode: %d\n", snap.Mock.Mode)
	fmt.Fprintf(out, "cache.admit_write: %v\n", snap.AdmitWrite)
	fmt.Fprintf(out, "ghost.range:      tick=%d min=%d max=%d\n",
		snap.GhostRange.Tick, snap.GhostRange.MinTick, snap.GhostRange.MaxTick)
	fmt.Fprintf(out, "policy.alloc_total_net_bw: %v\n", config.PolicyAllocTotalNetBW)
	fmt.Fprintf(out, "policy.cache_enable_inflight_dedup: %v\n", config.CacheEnableInflightDedup)
}
