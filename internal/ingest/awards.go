package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spendtrack/internal/db"
)

// Award is the normalized award shape written by the upserter.
type Award struct {
	ExternalID              string
	AgencyID                *int64
	RecipientID             *int64
	Type                    AwardType
	Amount                  float64
	Description             string
	AwardedOn               time.Time
	PlaceOfPerformanceState string
}

// AwardStore writes awards keyed by the source's external id.
type AwardStore struct {
	pool db.Pool
}

// NewAwardStore creates an AwardStore backed by the given pool.
func NewAwardStore(pool db.Pool) *AwardStore {
	return &AwardStore{pool: pool}
}

// Upsert inserts the award or, when a row with the same external id exists,
// overwrites all mapped fields. One statement, so the write is atomic per
// record and re-imports are last-write-wins.
func (s *AwardStore) Upsert(ctx context.Context, a Award) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO awards
			(usaspending_id, agency_id, recipient_id, award_type, amount,
			 description, awarded_on, place_of_performance_state, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		 ON CONFLICT (usaspending_id) DO UPDATE SET
			agency_id                  = EXCLUDED.agency_id,
			recipient_id               = EXCLUDED.recipient_id,
			award_type                 = EXCLUDED.award_type,
			amount                     = EXCLUDED.amount,
			description                = EXCLUDED.description,
			awarded_on                 = EXCLUDED.awarded_on,
			place_of_performance_state = EXCLUDED.place_of_performance_state,
			updated_at                 = now()`,
		a.ExternalID, a.AgencyID, a.RecipientID, string(a.Type), a.Amount,
		nullIfEmpty(a.Description), a.AwardedOn, nullIfEmpty(a.PlaceOfPerformanceState),
	)
	if err != nil {
		return eris.Wrapf(err, "awards: upsert %s", a.ExternalID)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
