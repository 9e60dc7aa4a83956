package ingest

import (
	"context"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/spendtrack/internal/db"
)

// Resolver idempotently resolves agency and recipient names to row ids,
// creating reference rows on first sight. Each resolution is a single
// INSERT ... ON CONFLICT ... RETURNING statement, so concurrent callers
// racing on the same name converge on one row.
type Resolver struct {
	pool db.Pool
}

// NewResolver creates a Resolver backed by the given pool.
func NewResolver(pool db.Pool) *Resolver {
	return &Resolver{pool: pool}
}

// ResolveAgency finds or creates the agency with the given name and returns
// its id. A blank name resolves to nil without touching the store.
func (r *Resolver) ResolveAgency(ctx context.Context, name string) (*int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO agencies (name, code) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		name, AgencyCode(name),
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: agency %q", name)
	}
	return &id, nil
}

// ResolveRecipient finds or creates the recipient with the given name and
// returns its id. A blank name resolves to nil without touching the store.
func (r *Resolver) ResolveRecipient(ctx context.Context, name string) (*int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO recipients (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`,
		name,
	).Scan(&id)
	if err != nil {
		return nil, eris.Wrapf(err, "resolver: recipient %q", name)
	}
	return &id, nil
}

// AgencyCode derives an agency code from its name: the uppercased first
// letter of each word, truncated to 6 characters.
func AgencyCode(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		r := []rune(word)[0]
		b.WriteRune(unicode.ToUpper(r))
	}
	code := []rune(b.String())
	if len(code) > 6 {
		code = code[:6]
	}
	return string(code)
}
