package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/subject"
)

var (
	importFile      string
	importURL       string
	importDownload  bool
	importForce     bool
	importBatchSize int
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import subjects into the store",
}

var importIMDbCmd = &cobra.Command{
	Use:   "imdb",
	Short: "Import deceased people from an IMDb name.basics.tsv[.gz] dump",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if importDownload {
			d := subject.NewDownloader(subject.DownloadOptions{UserAgent: botUserAgent})
			changed, err := d.Fetch(ctx, importURL, importFile)
			if err != nil {
				return err
			}
			if !changed && !importForce {
				zap.L().Info("import skipped, dump unchanged since last download", zap.String("file", importFile))
				return nil
			}
		}

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		r, err := subject.Open(importFile)
		if err != nil {
			return err
		}
		defer r.Close()

		var upserted int64
		stats, err := subject.Import(ctx, r, importBatchSize, func(ctx context.Context, batch []model.Subject) error {
			n, err := st.UpsertSubjects(ctx, batch)
			upserted += n
			return err
		})
		if err != nil {
			return eris.Wrap(err, "import imdb")
		}

		zap.L().Info("import complete",
			zap.String("file", importFile),
			zap.Int("rows", stats.Read),
			zap.Int("deceased", stats.Kept),
			zap.Int("living", stats.Alive),
			zap.Int("malformed", stats.Malformed),
			zap.Int64("upserted", upserted),
		)
		return nil
	},
}

func init() {
	importIMDbCmd.Flags().StringVar(&importFile, "file", "", "path to name.basics.tsv or name.basics.tsv.gz (required)")
	importIMDbCmd.Flags().IntVar(&importBatchSize, "batch-size", subject.DefaultBatchSize, "rows per store upsert")
	importIMDbCmd.Flags().BoolVar(&importDownload, "download", false, "fetch --url into --file before importing")
	importIMDbCmd.Flags().StringVar(&importURL, "url", subject.DefaultDumpURL, "dump location used with --download")
	importIMDbCmd.Flags().BoolVar(&importForce, "force", false, "import even when the downloaded dump is unchanged")
	_ = importIMDbCmd.MarkFlagRequired("file")

	importCmd.AddCommand(importIMDbCmd)
	rootCmd.AddCommand(importCmd)
}
