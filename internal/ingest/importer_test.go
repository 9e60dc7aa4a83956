package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/spendtrack/internal/usaspending"
)

// fakeSource pages through canned records; pages beyond the canned set are
// empty, signalling end-of-data.
type fakeSource struct {
	pages [][]usaspending.AwardRecord
	calls int
}

func (f *fakeSource) SearchAwards(ctx context.Context, opts usaspending.SearchOptions) ([]usaspending.AwardRecord, error) {
	f.calls++
	if opts.Page-1 < len(f.pages) {
		return f.pages[opts.Page-1], nil
	}
	return nil, nil
}

type failingSource struct {
	err   error
	calls int
}

func (f *failingSource) SearchAwards(ctx context.Context, opts usaspending.SearchOptions) ([]usaspending.AwardRecord, error) {
	f.calls++
	return nil, f.err
}

func record(id, amount string) usaspending.AwardRecord {
	return usaspending.AwardRecord{
		AwardID:   id,
		Amount:    amount,
		StartDate: "2025-03-14",
		TypeLabel: "Definitive Contract",
	}
}

func expectStart(pool pgxmock.PgxPoolIface, runID int64) {
	pool.ExpectExec("UPDATE sync_runs SET status = 'running'").
		WithArgs(runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func expectAwardUpsert(pool pgxmock.PgxPoolIface) {
	pool.ExpectExec("INSERT INTO awards").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func expectProgress(pool pgxmock.PgxPoolIface, runID, total int64) {
	pool.ExpectExec("SET records_processed").
		WithArgs(total, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func expectComplete(pool pgxmock.PgxPoolIface, runID, total int64) {
	pool.ExpectExec("SET status = 'completed'").
		WithArgs(total, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
}

func TestImporter_StopsAtFirstEmptyPage(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	// Three pages of two records, then end-of-data.
	src := &fakeSource{pages: [][]usaspending.AwardRecord{
		{record("A-1", "100"), record("A-2", "200")},
		{record("A-3", "300"), record("A-4", "400")},
		{record("A-5", "500"), record("A-6", "600")},
	}}

	runID := int64(1)
	expectStart(pool, runID)
	for page := 0; page < 3; page++ {
		expectAwardUpsert(pool)
		expectAwardUpsert(pool)
		expectProgress(pool, runID, int64(2*(page+1)))
	}
	expectComplete(pool, runID, 6)

	imp := NewImporter(src, pool)
	err = imp.Run(context.Background(), Options{Category: usaspending.Contracts, Pages: 5}, runID)
	require.NoError(t, err)

	// Budget of 5 but the 4th fetch came back empty: no 5th call.
	assert.Equal(t, 4, src.calls)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestImporter_HonorsPageBudget(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	src := &fakeSource{pages: [][]usaspending.AwardRecord{
		{record("B-1", "10")},
		{record("B-2", "20")},
		{record("B-3", "30")},
	}}

	runID := int64(2)
	expectStart(pool, runID)
	expectAwardUpsert(pool)
	expectProgress(pool, runID, 1)
	expectAwardUpsert(pool)
	expectProgress(pool, runID, 2)
	expectComplete(pool, runID, 2)

	imp := NewImporter(src, pool)
	err = imp.Run(context.Background(), Options{Category: usaspending.Contracts, Pages: 2}, runID)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestImporter_SkipsBlankExternalID(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	src := &fakeSource{pages: [][]usaspending.AwardRecord{
		{record("", "100"), record("C-1", "250")},
	}}

	runID := int64(3)
	expectStart(pool, runID)
	expectAwardUpsert(pool) // only the record with an id
	expectProgress(pool, runID, 1)
	expectComplete(pool, runID, 1)

	imp := NewImporter(src, pool)
	err = imp.Run(context.Background(), Options{Category: usaspending.Contracts, Pages: 1}, runID)
	require.NoError(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestImporter_UnparsableAmountFailsRun(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	src := &fakeSource{pages: [][]usaspending.AwardRecord{
		{record("D-1", "not-a-number")},
	}}

	runID := int64(4)
	expectStart(pool, runID)
	pool.ExpectExec("SET status = 'failed'").
		WithArgs(pgxmock.AnyArg(), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	imp := NewImporter(src, pool)
	err = imp.Run(context.Background(), Options{Category: usaspending.Contracts, Pages: 1}, runID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse amount")
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestImporter_FetchErrorFailsRun(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	src := &failingSource{err: &usaspending.APIError{StatusCode: 422, Body: "bad filters"}}

	runID := int64(5)
	expectStart(pool, runID)
	pool.ExpectExec("SET status = 'failed'").
		WithArgs(pgxmock.AnyArg(), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	imp := NewImporter(src, pool)
	err = imp.Run(context.Background(), Options{Category: usaspending.Grants, Pages: 3}, runID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch page 1")
	assert.Equal(t, 1, src.calls)
	assert.NoError(t, pool.ExpectationsWereMet())
}

// cancellingSource cancels the run context before reporting failure, the way
// a server shutdown interrupts an in-flight fetch.
type cancellingSource struct {
	cancel context.CancelFunc
}

func (s *cancellingSource) SearchAwards(ctx context.Context, opts usaspending.SearchOptions) ([]usaspending.AwardRecord, error) {
	s.cancel()
	return nil, ctx.Err()
}

func TestImporter_RecordsFailureAfterContextCancel(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &cancellingSource{cancel: cancel}

	runID := int64(11)
	expectStart(pool, runID)
	// The failure write must land even though the run context is cancelled,
	// or the row stays running and blocks every later sync.
	pool.ExpectExec("SET status = 'failed'").
		WithArgs(pgxmock.AnyArg(), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	imp := NewImporter(src, pool)
	err = imp.Run(ctx, Options{Category: usaspending.Contracts, Pages: 1}, runID)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestImporter_ConflictDiscardsPendingRun(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	src := &fakeSource{}

	runID := int64(6)
	pool.ExpectExec("UPDATE sync_runs SET status = 'running'").
		WithArgs(runID).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "sync_runs_single_running"})
	pool.ExpectExec("DELETE FROM sync_runs").
		WithArgs(runID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	imp := NewImporter(src, pool)
	err = imp.Run(context.Background(), Options{Category: usaspending.Contracts, Pages: 1}, runID)
	assert.ErrorIs(t, err, ErrRunConflict)

	// Rejected before any fetch.
	assert.Equal(t, 0, src.calls)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestImporter_UnparsableDateFallsBackToImportDate(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	rec := record("E-1", "75.25")
	rec.StartDate = "not-a-date"

	src := &fakeSource{pages: [][]usaspending.AwardRecord{{rec}}}

	importedAt := time.Date(2026, time.August, 30, 10, 0, 0, 0, time.UTC)

	runID := int64(7)
	expectStart(pool, runID)
	pool.ExpectExec("INSERT INTO awards").
		WithArgs("E-1", (*int64)(nil), (*int64)(nil), "contract", 75.25,
			(*string)(nil), importedAt, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectProgress(pool, runID, 1)
	expectComplete(pool, runID, 1)

	imp := NewImporter(src, pool)
	imp.now = func() time.Time { return importedAt }

	err = imp.Run(context.Background(), Options{Category: usaspending.Contracts, Pages: 1}, runID)
	require.NoError(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestImporter_NegativeAmountStoredAsMagnitude(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	src := &fakeSource{pages: [][]usaspending.AwardRecord{
		{record("F-1", "-1500.50")},
	}}

	runID := int64(8)
	expectStart(pool, runID)
	pool.ExpectExec("INSERT INTO awards").
		WithArgs("F-1", (*int64)(nil), (*int64)(nil), "contract", 1500.50,
			(*string)(nil), time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC), (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectProgress(pool, runID, 1)
	expectComplete(pool, runID, 1)

	imp := NewImporter(src, pool)
	err = imp.Run(context.Background(), Options{Category: usaspending.Contracts, Pages: 1}, runID)
	require.NoError(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestImporter_ResolvesReferences(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	rec := record("G-1", "900")
	rec.AgencyName = "Department of Defense"
	rec.RecipientName = "ACME CORP"

	src := &fakeSource{pages: [][]usaspending.AwardRecord{{rec}}}

	runID := int64(9)
	expectStart(pool, runID)
	pool.ExpectQuery("INSERT INTO agencies").
		WithArgs("Department of Defense", "DOD").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))
	pool.ExpectQuery("INSERT INTO recipients").
		WithArgs("ACME CORP").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(22)))
	expectAwardUpsert(pool)
	expectProgress(pool, runID, 1)
	expectComplete(pool, runID, 1)

	imp := NewImporter(src, pool)
	err = imp.Run(context.Background(), Options{Category: usaspending.Contracts, Pages: 1}, runID)
	require.NoError(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestImporter_BlankTypeLabelUsesCategory(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	rec := usaspending.AwardRecord{AwardID: "H-1", Amount: "50", StartDate: "2025-06-01"}
	src := &fakeSource{pages: [][]usaspending.AwardRecord{{rec}}}

	runID := int64(10)
	expectStart(pool, runID)
	pool.ExpectExec("INSERT INTO awards").
		WithArgs("H-1", (*int64)(nil), (*int64)(nil), "grant", 50.0,
			(*string)(nil), time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	expectProgress(pool, runID, 1)
	expectComplete(pool, runID, 1)

	imp := NewImporter(src, pool)
	err = imp.Run(context.Background(), Options{Category: usaspending.Grants, Pages: 1}, runID)
	require.NoError(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"1500.50", 1500.50, false},
		{"-1500.50", 1500.50, false},
		{"0", 0, false},
		{"", 0, false},
		{"  ", 0, false},
		{"not-a-number", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}
}
