// Package model defines the core domain types shared across the validation
// pipeline: extracted candidates, registry records, persisted providers,
// validation results, and job state.
package model

import (
	"strings"
	"time"
)

// Candidate is one provider as reported by document extraction. It is not
// yet verified against the registry. Empty strings stand in for fields the
// document did not contain.
type Candidate struct {
	FullName  string `json:"full_name"`
	NPI       string `json:"npi,omitempty"`
	Specialty string `json:"specialty,omitempty"`
	Address   string `json:"address,omitempty"`
	License   string `json:"license,omitempty"`
}

// DisplayName returns the candidate's name with the placeholder values the
// extraction model sometimes emits ("unknown", "none", "null") replaced by a
// stable synthetic name.
func (c Candidate) DisplayName() string {
	name := strings.TrimSpace(c.FullName)
	switch strings.ToLower(name) {
	case "", "unknown", "none", "null":
		if c.NPI != "" {
			return "Unknown Provider (NPI: " + c.NPI + ")"
		}
		return "Unknown Provider"
	}
	return name
}

// ProviderStatus is the validation status carried on a persisted provider.
type ProviderStatus string

const (
	ProviderStatusPending   ProviderStatus = "Pending"
	ProviderStatusValidated ProviderStatus = "Validated"
	ProviderStatusFlagged   ProviderStatus = "Flagged"
)

// Provider is the persisted provider record. NPI, when present, is unique
// across all providers: re-validating a document that contains a known NPI
// updates this record in place rather than inserting a duplicate.
type Provider struct {
	ID                 string         `json:"id"`
	FullName           string         `json:"full_name"`
	NPI                string         `json:"npi,omitempty"`
	Specialty          string         `json:"specialty,omitempty"`
	Address            string         `json:"address,omitempty"`
	License            string         `json:"license,omitempty"`
	Status             ProviderStatus `json:"status"`
	ConfidenceScore    float64        `json:"confidence_score"`
	LastUpdated        time.Time      `json:"last_updated"`
	LatestValidationID string         `json:"latest_validation_id,omitempty"`
}

// ProviderStats summarizes the provider table for the dashboard.
type ProviderStats struct {
	Total         int     `json:"total_profiles"`
	Validated     int     `json:"validated"`
	Flagged       int     `json:"action_required"`
	AvgConfidence float64 `json:"avg_confidence"`
}
