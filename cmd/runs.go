package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/spendtrack/internal/ingest"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List sync runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		limit, _ := cmd.Flags().GetInt("limit")

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		runs, err := ingest.NewRunLog(pool).List(ctx, limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No sync runs recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tSTATUS\tSTARTED\tCOMPLETED\tRECORDS\tERROR")
		for _, run := range runs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
				run.ID, run.Kind, run.Status,
				formatTime(run.StartedAt), formatTime(run.CompletedAt),
				run.RecordsProcessed, truncate(run.ErrorMessage, 60),
			)
		}
		return w.Flush()
	},
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	runsCmd.Flags().Int("limit", 20, "maximum runs to list")
	rootCmd.AddCommand(runsCmd)
}
