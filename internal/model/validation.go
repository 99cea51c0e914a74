package model

import "time"

// ValidationStatus is the outcome of scoring one candidate.
type ValidationStatus string

const (
	StatusValidated ValidationStatus = "Validated"
	StatusFlagged   ValidationStatus = "Flagged"
)

// Discrepancy is one detected field-level mismatch with its score penalty.
// Discrepancies keep detection order and are never deduplicated.
type Discrepancy struct {
	Field          string  `json:"field"`
	Penalty        float64 `json:"penalty"`
	ExtractedValue string  `json:"extracted_value,omitempty"`
	RegistryValue  string  `json:"registry_value,omitempty"`
	Reason         string  `json:"reason"`
	Severity       string  `json:"severity,omitempty"`
}

// ValidationResult is the confidence-scored outcome produced once per
// candidate by the score engine. Immutable after creation.
type ValidationResult struct {
	Score         float64          `json:"confidence_score"`
	Status        ValidationStatus `json:"status"`
	Discrepancies []Discrepancy    `json:"discrepancies"`
	Summary       string           `json:"summary"`
}

// Validation is the persisted, append-only audit record of one scored
// candidate. The extracted and registry snapshots are exactly what the score
// engine compared; they are never mutated after creation.
type Validation struct {
	ID              string           `json:"id"`
	ProviderID      string           `json:"provider_id"`
	Timestamp       time.Time        `json:"timestamp"`
	Status          ValidationStatus `json:"status"`
	ConfidenceScore float64          `json:"confidence_score"`
	Discrepancies   []Discrepancy    `json:"discrepancies"`
	Extracted       Candidate        `json:"extracted_data"`
	Registry        RegistryRecord   `json:"registry_data"`
}
