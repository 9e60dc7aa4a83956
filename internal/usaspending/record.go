package usaspending

import "encoding/json"

// AwardRecord is the typed form of one search result. The API returns
// loosely-keyed maps whose fields may all be absent or null; decoding them
// here isolates the pipeline from key-name drift in the external API.
// Amount is kept verbatim (string form) so the importer owns numeric parsing.
type AwardRecord struct {
	AwardID                 string `json:"award_id"`
	RecipientName           string `json:"recipient_name"`
	StartDate               string `json:"start_date"`
	Amount                  string `json:"amount"`
	AgencyName              string `json:"agency_name"`
	TypeLabel               string `json:"type_label"`
	PlaceOfPerformanceState string `json:"place_of_performance_state"`
	Description             string `json:"description"`
}

// Result keys in the spending_by_award response.
const (
	keyAwardID       = "Award ID"
	keyRecipientName = "Recipient Name"
	keyStartDate     = "Start Date"
	keyAwardAmount   = "Award Amount"
	keyAgency        = "Awarding Agency"
	keyTypeLabel     = "Contract Award Type"
	keyPoPState      = "Place of Performance State Code"
	keyDescription   = "Description"
)

// recordFromResult converts one raw result map into an AwardRecord.
func recordFromResult(m map[string]any) AwardRecord {
	return AwardRecord{
		AwardID:                 stringValue(m, keyAwardID),
		RecipientName:           stringValue(m, keyRecipientName),
		StartDate:               stringValue(m, keyStartDate),
		Amount:                  stringValue(m, keyAwardAmount),
		AgencyName:              stringValue(m, keyAgency),
		TypeLabel:               stringValue(m, keyTypeLabel),
		PlaceOfPerformanceState: stringValue(m, keyPoPState),
		Description:             stringValue(m, keyDescription),
	}
}

// stringValue reads a key that may hold a string, a number, or null.
// Numbers arrive as json.Number because the decoder runs with UseNumber.
func stringValue(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
