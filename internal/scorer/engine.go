// Package scorer computes a deterministic confidence score for an extracted
// candidate against its authoritative registry record. No I/O, no
// randomness: the same inputs always produce the same result.
package scorer

import (
	"fmt"
	"strings"

	"github.com/sells-group/ave/internal/model"
)

// Engine scores candidates against registry records.
type Engine struct {
	penalties Penalties
}

// New creates an Engine with the given penalty weights.
func New(penalties Penalties) *Engine {
	return &Engine{penalties: penalties}
}

// Score compares the candidate with the registry record and returns a
// confidence-scored result. thresholdPercent is on the 0-100 scale.
//
// If the registry record was not found, scoring short-circuits to 0 with a
// single synthesized discrepancy; no field comparison happens. Otherwise the
// score starts at 100 and penalties apply in a fixed detection order: name,
// specialty, address, license. Empty fields compare as empty strings, never
// as an automatic skip. The penalty-only design cannot exceed 100, so no
// upper clipping is applied; the floor is 0.
func (e *Engine) Score(candidate model.Candidate, registry model.RegistryRecord, thresholdPercent float64) model.ValidationResult {
	if !registry.Found {
		return model.ValidationResult{
			Score:  0,
			Status: model.StatusFlagged,
			Discrepancies: []model.Discrepancy{{
				Field:          "Registry",
				Penalty:        e.penalties.RegistryNotFound,
				ExtractedValue: candidate.NPI,
				RegistryValue:  "Not Found",
				Reason:         "Provider not found in authoritative registry",
				Severity:       "High",
			}},
			Summary: "Automatic failure: provider not found in registry.",
		}
	}

	score := 100.0
	var discrepancies []model.Discrepancy

	apply := func(d model.Discrepancy) {
		score -= d.Penalty
		discrepancies = append(discrepancies, d)
	}

	// 1. Name: case-insensitive exact compare.
	if !strings.EqualFold(candidate.FullName, registry.OfficialName) {
		apply(model.Discrepancy{
			Field:          "Name",
			Penalty:        e.penalties.Name,
			ExtractedValue: candidate.FullName,
			RegistryValue:  registry.OfficialName,
			Reason:         "Name mismatch",
			Severity:       "High",
		})
	}

	// 2. Specialty: substring containment stands in for fuzzy matching.
	candSpec := strings.ToLower(candidate.Specialty)
	regSpec := strings.ToLower(registry.Specialty)
	if !strings.Contains(regSpec, candSpec) {
		apply(model.Discrepancy{
			Field:          "Specialty",
			Penalty:        e.penalties.SpecialtyTotal,
			ExtractedValue: candidate.Specialty,
			RegistryValue:  registry.Specialty,
			Reason:         fmt.Sprintf("Specialty mismatch: %q vs %q", candidate.Specialty, registry.Specialty),
			Severity:       "Medium",
		})
	} else if candidate.Specialty != registry.Specialty {
		apply(model.Discrepancy{
			Field:          "Specialty",
			Penalty:        e.penalties.SpecialtyPartial,
			ExtractedValue: candidate.Specialty,
			RegistryValue:  registry.Specialty,
			Reason:         "Extracted specialty is less specific",
			Severity:       "Low",
		})
	}

	// 3. Address.
	if candidate.Address != registry.Address {
		apply(model.Discrepancy{
			Field:          "Address",
			Penalty:        e.penalties.Address,
			ExtractedValue: candidate.Address,
			RegistryValue:  registry.Address,
			Reason:         "Address format or detail differs",
			Severity:       "Low",
		})
	}

	// 4. License.
	if candidate.License != registry.LicenseNumber {
		apply(model.Discrepancy{
			Field:          "License",
			Penalty:        e.penalties.License,
			ExtractedValue: candidate.License,
			RegistryValue:  registry.LicenseNumber,
			Reason:         "License number mismatch",
			Severity:       "High",
		})
	}

	if score < 0 {
		score = 0
	}

	status := model.StatusFlagged
	if score >= thresholdPercent {
		status = model.StatusValidated
	}

	return model.ValidationResult{
		Score:         score,
		Status:        status,
		Discrepancies: discrepancies,
		Summary:       summarize(score, status, discrepancies),
	}
}

func summarize(score float64, status model.ValidationStatus, discrepancies []model.Discrepancy) string {
	if len(discrepancies) == 0 {
		return "All fields match the authoritative registry record."
	}
	fields := make([]string, len(discrepancies))
	for i, d := range discrepancies {
		fields[i] = d.Field
	}
	return fmt.Sprintf("%s at %.0f%%: discrepancies in %s.", status, score, strings.Join(fields, ", "))
}
