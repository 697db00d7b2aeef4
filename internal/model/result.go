package model

import (
	"encoding/json"
	"time"
)

// FlightInfo records the passenger inputs a flight result was computed from.
type FlightInfo struct {
	NumberOfPassengers int    `json:"number_of_passengers"`
	Class              string `json:"class,omitempty"`
}

// ActivityResult is the computed outcome of one activity.
type ActivityResult struct {
	Distance  *Distance      `json:"distance,omitempty"`
	Weight    *ValueAndUnit  `json:"weight,omitempty"`
	Flight    *FlightInfo    `json:"flight,omitempty"`
	Emissions Emissions      `json:"emissions"`
	Details   map[string]any `json:"details,omitempty"`
}

// ProcessedActivity pairs an activity with its result or its error.
// Exactly one of Result and Error is set, never both.
type ProcessedActivity struct {
	Activity Activity        `json:"activity"`
	Result   *ActivityResult `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// TokenReceipt is what the ledger gateway returns for an issued token.
type TokenReceipt struct {
	TokenID  string `json:"tokenId"`
	TxHash   string `json:"txHash,omitempty"`
	Quantity int64  `json:"quantity,omitempty"`
}

// GroupedResult accumulates the successfully processed activities of one
// bucket. TotalEmissions always equals the sum of the members' emission
// amounts, and the date range is the union of the members' ranges.
type GroupedResult struct {
	TotalEmissions ValueAndUnit        `json:"total_emissions"`
	Content        []ProcessedActivity `json:"content"`
	FromDate       *time.Time          `json:"from_date,omitempty"`
	ThruDate       *time.Time          `json:"thru_date,omitempty"`
	Token          *TokenReceipt       `json:"token,omitempty"`

	// Error records why issuance failed for this bucket, if it did.
	Error string `json:"error,omitempty"`
}

// GroupedResults holds one bucket per activity type; shipments are further
// keyed by transport mode. Errors carries the activities that failed
// processing so verbose output can report every input.
type GroupedResults struct {
	Shipments map[string]*GroupedResult
	ByType    map[string]*GroupedResult
	Errors    []ProcessedActivity
}

// MarshalJSON renders the nested wire shape: shipments keyed by mode under
// "shipment", every other type at the top level, plus an "errors" array.
func (g GroupedResults) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(g.ByType)+2)
	if len(g.Shipments) > 0 {
		out[string(KindShipment)] = g.Shipments
	}
	for t, r := range g.ByType {
		out[t] = r
	}
	if len(g.Errors) > 0 {
		out["errors"] = g.Errors
	}
	return json.Marshal(out)
}

// ContentHash is a named digest of raw content.
type ContentHash struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// StoredObject locates an uploaded encrypted object. Path addresses the
// object inside the store; Locator is the externally shareable address.
type StoredObject struct {
	Path    string `json:"path"`
	Locator string `json:"ipfs_path"`
}

// TokenIssueInput is the ledger gateway call payload. Dates are Unix seconds
// at this boundary.
type TokenIssueInput struct {
	IssuedFrom  string `json:"issuedFrom"`
	IssuedTo    string `json:"issuedTo"`
	Quantity    int64  `json:"quantity"`
	FromDate    int64  `json:"fromDate"`
	ThruDate    int64  `json:"thruDate"`
	Manifest    string `json:"manifest"`
	Metadata    string `json:"metadata"`
	Description string `json:"description"`
}

// Caller identifies the account signing ledger calls.
type Caller struct {
	Address    string
	PrivateKey string
}

// CarrierShipment is what an external carrier tracking lookup returns for a
// tracked shipment.
type CarrierShipment struct {
	Distance  Distance       `json:"distance"`
	Weight    ValueAndUnit   `json:"weight"`
	Emissions Emissions      `json:"emissions"`
	Details   map[string]any `json:"details,omitempty"`
}
