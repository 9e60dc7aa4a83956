package ingest

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/spendtrack/internal/db"
	"github.com/sells-group/spendtrack/internal/usaspending"
)

const (
	// MaxPages caps the page budget of one invocation.
	MaxPages     = 20
	defaultPages = 5
	defaultLimit = 100
)

// SearchClient is the remote award source consumed by the importer.
type SearchClient interface {
	SearchAwards(ctx context.Context, opts usaspending.SearchOptions) ([]usaspending.AwardRecord, error)
}

// Options configures one import invocation.
type Options struct {
	Category usaspending.Category
	// Pages is an upper bound on fetches, not a guaranteed count; the loop
	// stops at the first empty page. Clamped to [1, MaxPages].
	Pages    int
	PageSize int
	// StartDate/EndDate override the source time window. Zero values use the
	// client's one-year default.
	StartDate time.Time
	EndDate   time.Time
}

// Importer drives the page loop: fetch, classify, resolve, upsert, and
// ledger bookkeeping. Pages are processed strictly in sequence; the ledger's
// processed count is page-ordered and monotone.
type Importer struct {
	client   SearchClient
	runs     *RunLog
	resolver *Resolver
	awards   *AwardStore
	now      func() time.Time
}

// NewImporter creates an Importer over the given source client and pool.
func NewImporter(client SearchClient, pool db.Pool) *Importer {
	return &Importer{
		client:   client,
		runs:     NewRunLog(pool),
		resolver: NewResolver(pool),
		awards:   NewAwardStore(pool),
		now:      time.Now,
	}
}

// Run executes one import against the pending run identified by runID. On
// success the run is completed with the final processed count; any fatal
// error fails the run with its message and is returned to the invoker, which
// owns job-level retry policy.
func (imp *Importer) Run(ctx context.Context, opts Options, runID int64) error {
	log := zap.L().With(
		zap.String("component", "ingest.importer"),
		zap.Int64("run_id", runID),
		zap.String("category", opts.Category.String()),
	)

	pages := opts.Pages
	if pages <= 0 {
		pages = defaultPages
	}
	if pages > MaxPages {
		pages = MaxPages
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultLimit
	}

	if err := imp.runs.Start(ctx, runID); err != nil {
		if errors.Is(err, ErrRunConflict) {
			// The rejected attempt must leave no ledger row behind.
			if derr := imp.runs.Discard(ctx, runID); derr != nil {
				log.Warn("failed to discard conflicted run", zap.Error(derr))
			}
		}
		return err
	}

	var total int64
	for page := 1; page <= pages; page++ {
		records, err := imp.client.SearchAwards(ctx, usaspending.SearchOptions{
			Category:  opts.Category,
			Page:      page,
			Limit:     pageSize,
			StartDate: opts.StartDate,
			EndDate:   opts.EndDate,
		})
		if err != nil {
			return imp.fail(ctx, runID, eris.Wrapf(err, "importer: fetch page %d", page))
		}
		if len(records) == 0 {
			log.Debug("empty page, stopping", zap.Int("page", page))
			break
		}

		for _, rec := range records {
			processed, err := imp.importRecord(ctx, rec, opts.Category)
			if err != nil {
				return imp.fail(ctx, runID, err)
			}
			if processed {
				total++
			}
		}

		if err := imp.runs.Progress(ctx, runID, total); err != nil {
			return imp.fail(ctx, runID, err)
		}
		log.Info("imported page", zap.Int("page", page), zap.Int64("total", total))
	}

	if err := imp.runs.Complete(ctx, runID, total); err != nil {
		return err
	}
	log.Info("import complete", zap.Int64("records", total))
	return nil
}

// importRecord maps one raw record into the store. A blank external id is a
// no-op, not an error, and does not count as processed.
func (imp *Importer) importRecord(ctx context.Context, rec usaspending.AwardRecord, cat usaspending.Category) (bool, error) {
	externalID := strings.TrimSpace(rec.AwardID)
	if externalID == "" {
		return false, nil
	}

	agencyID, err := imp.resolver.ResolveAgency(ctx, rec.AgencyName)
	if err != nil {
		return false, err
	}
	recipientID, err := imp.resolver.ResolveRecipient(ctx, rec.RecipientName)
	if err != nil {
		return false, err
	}

	amount, err := parseAmount(rec.Amount)
	if err != nil {
		return false, eris.Wrapf(err, "importer: award %s", externalID)
	}

	label := rec.TypeLabel
	if strings.TrimSpace(label) == "" {
		label = cat.String()
	}

	award := Award{
		ExternalID:              externalID,
		AgencyID:                agencyID,
		RecipientID:             recipientID,
		Type:                    ClassifyAwardType(label),
		Amount:                  amount,
		Description:             rec.Description,
		AwardedOn:               imp.parseDate(rec.StartDate),
		PlaceOfPerformanceState: rec.PlaceOfPerformanceState,
	}
	if err := imp.awards.Upsert(ctx, award); err != nil {
		return false, err
	}
	return true, nil
}

// fail records the error on the ledger before propagating it. The write uses
// a detached context: the run's context may already be cancelled, and a run
// left in the running state would block every future sync.
func (imp *Importer) fail(ctx context.Context, runID int64, err error) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if ferr := imp.runs.Fail(failCtx, runID, err.Error()); ferr != nil {
		zap.L().Error("failed to record import failure",
			zap.Int64("run_id", runID),
			zap.Error(ferr),
		)
	}
	return err
}

// parseAmount parses the source amount as a magnitude: negative adjustments
// are stored unsigned. An absent amount is zero; a malformed one is fatal to
// the run rather than silently coerced.
func parseAmount(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse amount %q", raw)
	}
	return math.Abs(f), nil
}

// parseDate parses the source start date, falling back to the import date
// when the value is missing or malformed.
func (imp *Importer) parseDate(raw string) time.Time {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(raw))
	if err != nil {
		return imp.now()
	}
	return t
}
