package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/filing-summary/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "filing-summary",
	Short: "AI filing-summary generation pipeline",
	Long:  "Generates structured and editorial summaries of regulatory filings: primary extraction, per-section recovery, editorial synthesis, and a coverage gate, backed by a standardized-facts cache.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
