package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chenders/deadonfilm-sub014/internal/model"
	"github.com/chenders/deadonfilm-sub014/internal/resilience"
)

var (
	dlqState     string
	dlqErrorType string
	dlqLimit     int
	dlqJSON      bool
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect subjects left BLOCKED or SKIPPED",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead letter queue entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.ListDLQ(ctx, resilience.DLQFilter{
			State:     model.SubjectState(dlqState),
			ErrorType: dlqErrorType,
			Limit:     dlqLimit,
		})
		if err != nil {
			return err
		}
		if dlqJSON {
			return printJSON(cmd.OutOrStdout(), entries)
		}
		return writeDLQTable(cmd, entries)
	},
}

func writeDLQTable(cmd *cobra.Command, entries []resilience.DLQEntry) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tNAME\tSTATE\tTYPE\tRETRIES\tLAST FAILED\tREASON")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			e.SubjectID, e.Subject.Name, e.State, e.ErrorType,
			e.RetryCount, e.MaxRetries, e.LastFailedAt.Format("2006-01-02 15:04"), e.Reason)
	}
	return w.Flush()
}

func init() {
	dlqListCmd.Flags().StringVar(&dlqState, "state", "", "filter by state (blocked or skipped)")
	dlqListCmd.Flags().StringVar(&dlqErrorType, "error-type", "", "filter by error type (transient or permanent)")
	dlqListCmd.Flags().IntVar(&dlqLimit, "limit", 100, "max entries to list (0 = all)")
	dlqListCmd.Flags().BoolVar(&dlqJSON, "json", false, "print entries as JSON")

	dlqCmd.AddCommand(dlqListCmd)
	rootCmd.AddCommand(dlqCmd)
}
