package usaspending

import "github.com/rotisserie/eris"

// Category selects which family of awards to pull from the API. Each
// category maps to the source's award_type_codes filter values.
type Category string

const (
	Contracts      Category = "contracts"
	Grants         Category = "grants"
	Loans          Category = "loans"
	DirectPayments Category = "direct_payments"
)

// ParseCategory converts a string into a Category.
func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case Contracts, Grants, Loans, DirectPayments:
		return Category(s), nil
	default:
		return "", eris.Errorf("usaspending: unknown category: %q (valid: contracts, grants, loans, direct_payments)", s)
	}
}

// String returns the category name as used in filters and flags.
func (c Category) String() string { return string(c) }

// TypeCodes returns the source's award_type_codes for this category.
// Unknown categories fall back to contract codes.
func (c Category) TypeCodes() []string {
	switch c {
	case Grants:
		return []string{"02", "03", "04", "05"}
	case Loans:
		return []string{"07", "08"}
	case DirectPayments:
		return []string{"06", "10"}
	default:
		return []string{"A", "B", "C", "D"}
	}
}
