package model

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the emissions-request lifecycle state. Transitions only
// move forward: CREATED -> PENDING -> ISSUED.
type RequestStatus string

const (
	RequestCreated RequestStatus = "CREATED"
	RequestPending RequestStatus = "PENDING"
	RequestIssued  RequestStatus = "ISSUED"
)

// EmissionsRequest is a queued, auditor-reviewed precursor to token
// issuance. The orchestrator creates it as CREATED; promotion assigns an
// auditor and a manifest (PENDING); a successful ledger call marks it ISSUED.
type EmissionsRequest struct {
	UUID         uuid.UUID     `json:"uuid"`
	InputContent string        `json:"input_content"`
	IssuedFrom   string        `json:"issued_from"`
	IssuedTo     string        `json:"issued_to"`
	Status       RequestStatus `json:"status"`

	// Auditor assignment, set during CREATED -> PENDING.
	EmissionAuditor string `json:"emission_auditor,omitempty"`
	PublicKey       string `json:"public_key,omitempty"`
	PublicKeyName   string `json:"public_key_name,omitempty"`

	TokenFromDate       time.Time `json:"token_from_date"`
	TokenThruDate       time.Time `json:"token_thru_date"`
	TokenTotalEmissions int64     `json:"token_total_emissions"`
	TokenMetadata       string    `json:"token_metadata"`
	TokenManifest       string    `json:"token_manifest,omitempty"`
	TokenDescription    string    `json:"token_description"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Wallet is an account record; auditors are wallets carrying a public key
// that supporting content can be encrypted to.
type Wallet struct {
	Address       string `json:"address"`
	Name          string `json:"name,omitempty"`
	PublicKey     string `json:"public_key,omitempty"`
	PublicKeyName string `json:"public_key_name,omitempty"`
}

// SupportingDocument is a file attached to an emissions request by the
// submitter for the auditor to review.
type SupportingDocument struct {
	UUID uuid.UUID `json:"uuid"`
	Name string    `json:"name"`
}
