package ingest

import "strings"

// AwardType is the closed award-type vocabulary.
type AwardType string

const (
	AwardContract      AwardType = "contract"
	AwardGrant         AwardType = "grant"
	AwardLoan          AwardType = "loan"
	AwardDirectPayment AwardType = "direct_payment"
	AwardOther         AwardType = "other"
)

// ClassifyAwardType maps a source award-type label onto the closed
// vocabulary by case-insensitive keyword matching. Total: anything
// unrecognized, including blank, maps to AwardOther.
func ClassifyAwardType(label string) AwardType {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "contract"):
		return AwardContract
	case strings.Contains(l, "grant"):
		return AwardGrant
	case strings.Contains(l, "loan"):
		return AwardLoan
	case strings.Contains(l, "direct payment"), strings.Contains(l, "direct_payment"):
		return AwardDirectPayment
	default:
		return AwardOther
	}
}
