package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/spendtrack/internal/ingest"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		runs := ingest.NewRunLog(pool)

		current, err := runs.CurrentRunning(ctx)
		if err != nil {
			return err
		}
		last, err := runs.LastCompleted(ctx)
		if err != nil {
			return err
		}

		if current != nil {
			fmt.Printf("Running: run %d (%s), started %s, %d records so far\n",
				current.ID, current.Kind,
				current.StartedAt.Format("2006-01-02 15:04:05"),
				current.RecordsProcessed)
		} else {
			fmt.Println("No sync running")
		}

		if last != nil {
			fmt.Printf("Last completed: run %d (%s), finished %s, %d records\n",
				last.ID, last.Kind,
				last.CompletedAt.Format("2006-01-02 15:04:05"),
				last.RecordsProcessed)
		} else {
			fmt.Println("No completed sync yet")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
