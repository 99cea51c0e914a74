package model

import "time"

// Log levels for audit stream entries.
const (
	LogLevelInfo    = "INFO"
	LogLevelWarn    = "WARN"
	LogLevelError   = "ERROR"
	LogLevelSuccess = "SUCCESS"
)

// LogEntry is one line of the persisted audit stream shown alongside a run.
// Writes are best-effort; a failed log write never fails the pipeline.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
}

// SystemConfigID is the fixed id of the single system_config row.
const SystemConfigID = "default"

// SystemConfig is the single-row, DB-backed runtime configuration surfaced
// through the API. ConfidenceThreshold is a 0-1 fraction at this boundary.
type SystemConfig struct {
	ID                        string  `json:"id"`
	ConfidenceThreshold       float64 `json:"confidence_threshold"`
	AutoApproveHighConfidence bool    `json:"auto_approve_high_confidence"`
	FuzzyMatching             bool    `json:"fuzzy_matching"`
	LiveRegistryEnrichment    bool    `json:"live_registry_enrichment"`
	ExtractionMode            string  `json:"extraction_mode"`
}

// DefaultSystemConfig returns the configuration used before any row has been
// written.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		ID:                        SystemConfigID,
		ConfidenceThreshold:       0.78,
		AutoApproveHighConfidence: true,
		FuzzyMatching:             true,
		LiveRegistryEnrichment:    true,
		ExtractionMode:            "batch",
	}
}
