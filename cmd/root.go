package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:          "deadonfilm",
	Short:        "Cause-of-death enrichment for deceased film and TV people",
	Long:         "Walks each subject through free, paid and AI sources in tier order, merges what they report by source reliability and confidence, and stops escalating once the answer is good enough or the budget runs out.",
	SilenceUsage: true,
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
		zap.L().Error("deadonfilm: fatal", zap.Error(err))
		os.Exit(1)
	}
}
