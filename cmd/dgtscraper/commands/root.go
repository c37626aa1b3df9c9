package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath *string
	debug      *bool
)

var rootCmd = &cobra.Command{
	Use:   "dgtscraper",
	Short: "dgtscraper downloads and parses the vehicle registration microdata published by the DGT.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd.Context(), *configPath, *debug)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	configPath = rootCmd.PersistentFlags().String("config", "dgtscraper.json5", "The configuration file, a .local override next to it is merged on top.")
	debug = rootCmd.PersistentFlags().Bool("debug", false, "Log debug information, including every request made.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
