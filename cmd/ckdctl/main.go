package main

import (
	"fmt"
	"os"

	"github.com/ai4ckd/platform/pkg/common/logger"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ckdctl",
		Short:         "Offline CKD scoring, prioritization and regional reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level, _ := cmd.Flags().GetString("log-level")
			logger.Init(level)
			logger.Log.SetOutput(os.Stderr)
		},
	}
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("weights", "", "SR-IRC weight table (YAML); built-in table when empty")
	rootCmd.PersistentFlags().String("regions", "", "Region registry (YAML/JSON); Benin departments when empty")
	rootCmd.PersistentFlags().String("terminology", "", "Terminology catalog (YAML); built-in catalog when empty")
	rootCmd.PersistentFlags().String("model-dir", "", "Stage model artifact directory; eDFG bands only when empty")
	rootCmd.PersistentFlags().String("model-name", "ckd-stage", "Stage model artifact name")
	rootCmd.PersistentFlags().Int("workers", 0, "Scoring workers; number of CPUs when 0")

	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(regionsCmd())
	return rootCmd
}
