package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/spendtrack/internal/ingest"
	"github.com/sells-group/spendtrack/internal/usaspending"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import awards from USAspending",
	Long: `Import one category of awards from the USAspending search API.

Fetches up to --pages pages (clamped to [1, 20]), stopping early at the
first empty page. Progress and outcome are recorded in the sync ledger;
a second sync is refused while one is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("command", "sync"))

		categoryStr, _ := cmd.Flags().GetString("category")
		pages, _ := cmd.Flags().GetInt("pages")
		full, _ := cmd.Flags().GetBool("full")

		category, err := usaspending.ParseCategory(categoryStr)
		if err != nil {
			return err
		}
		if pages <= 0 {
			pages = cfg.Sync.DefaultPages
		}
		pages = clampPages(pages)

		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		runs := ingest.NewRunLog(pool)

		// Pre-flight mutual-exclusion check; the ledger's partial unique
		// index is the authority if two triggers race past this.
		running, err := runs.IsAnyRunning(ctx)
		if err != nil {
			return err
		}
		if running {
			return ingest.ErrRunConflict
		}

		kind := ingest.RunKindIncremental
		if full {
			kind = ingest.RunKindFull
		}

		run, err := runs.Create(ctx, kind, map[string]any{
			"category": category.String(),
			"pages":    pages,
		})
		if err != nil {
			return err
		}

		client := usaspending.New(usaspending.Options{
			BaseURL:   cfg.USASpending.BaseURL,
			Timeout:   time.Duration(cfg.USASpending.TimeoutSecs) * time.Second,
			UserAgent: cfg.USASpending.UserAgent,
			RateLimit: cfg.USASpending.RateLimit,
		})
		importer := ingest.NewImporter(client, pool)

		opts := ingest.Options{
			Category: category,
			Pages:    pages,
			PageSize: cfg.Sync.PageSize,
		}
		if full {
			opts.StartDate = time.Now().AddDate(-cfg.USASpending.FullWindowYears, 0, 0)
		}

		log.Info("starting import",
			zap.String("category", category.String()),
			zap.Int("pages", pages),
			zap.String("kind", string(kind)),
		)

		if err := importer.Run(ctx, opts, run.ID); err != nil {
			return eris.Wrap(err, "sync")
		}

		fmt.Printf("Sync complete (run %d)\n", run.ID)
		return nil
	},
}

// clampPages bounds the page budget to [1, MaxPages].
func clampPages(pages int) int {
	if pages < 1 {
		return 1
	}
	if pages > ingest.MaxPages {
		return ingest.MaxPages
	}
	return pages
}

func init() {
	syncCmd.Flags().String("category", "contracts", "award category: contracts, grants, loans, direct_payments")
	syncCmd.Flags().Int("pages", 0, "page budget (default from config, clamped to [1, 20])")
	syncCmd.Flags().Bool("full", false, "full import over the configured multi-year window")
	rootCmd.AddCommand(syncCmd)
}
