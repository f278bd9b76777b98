package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/cache"
	"github.com/chenders/deadonfilm-sub014/internal/model"
)

var (
	invalidateSource  string
	invalidateSubject string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Maintain the lookup cache",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop cached results for a source, optionally for one subject",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cs, err := cache.Open(ctx, cfg.Cache.Driver, cfg.Cache.Path, cfg.Cache.TTL())
		if err != nil {
			return err
		}
		defer cs.Close()

		n, err := cache.Invalidate(ctx, cs, model.SourceType(invalidateSource), invalidateSubject)
		if err != nil {
			return err
		}
		zap.L().Info("cache: invalidated",
			zap.String("source", invalidateSource),
			zap.String("subject_id", invalidateSubject),
			zap.Int("entries", n),
		)
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d entries removed\n", n)
		return err
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge-expired",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cs, err := cache.Open(ctx, cfg.Cache.Driver, cfg.Cache.Path, cfg.Cache.TTL())
		if err != nil {
			return err
		}
		defer cs.Close()

		n, err := cs.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("cache: purged expired entries", zap.String("driver", cfg.Cache.Driver), zap.Int("entries", n))
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d expired entries removed\n", n)
		return err
	},
}

func init() {
	cacheInvalidateCmd.Flags().StringVar(&invalidateSource, "source", "", "source type, e.g. wikidata (required)")
	cacheInvalidateCmd.Flags().StringVar(&invalidateSubject, "subject", "", "limit to one subject id")
	_ = cacheInvalidateCmd.MarkFlagRequired("source")

	cacheCmd.AddCommand(cacheInvalidateCmd, cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
