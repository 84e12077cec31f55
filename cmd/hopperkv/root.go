// Command hopperkv is a standalone driver for the cache data plane and HARE
// allocator: serve hosts one or more mock-backed tenants in a single
// process, bench drives synthetic load against a running instance, and
// ghost/resrc/config inspect and mutate one tenant's state for local
// experimentation — no real Redis module loader or RPC controller process
// is involved, unlike the production deployment this driver stands in for.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "hopperkv [command] (flags)",
	Short: "HopperKV cache data plane and HARE allocator driver",
	Long:  `A local driver for the HopperKV multi-tenant cache data plane and cache-aware fair allocator.`,
}

func init() {
	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(
		serveCmd,
		benchCmd,
		ghostCmd,
		resrcCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
