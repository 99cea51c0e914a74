// Package pipeline orchestrates one end-to-end validation run: extraction,
// registry enrichment, scoring, and persistence, with job progress and
// cooperative cancellation between candidates.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/ave/internal/config"
	"github.com/sells-group/ave/internal/extraction"
	"github.com/sells-group/ave/internal/job"
	"github.com/sells-group/ave/internal/model"
	"github.com/sells-group/ave/internal/registry"
	"github.com/sells-group/ave/internal/scorer"
	"github.com/sells-group/ave/internal/store"
)

// Audit log source names, mirroring the stages shown in the UI stream.
const (
	sourceExtraction = "Extraction Agent"
	sourceEnrichment = "Enrichment Agent"
	sourceQA         = "QA Agent"
	sourceSystem     = "System"
)

// Outcome is the persisted result for one candidate: the provider row that
// was written and the validation record appended to its history.
type Outcome struct {
	Provider   model.Provider
	Validation model.Validation
}

// Runner executes validation runs. One Runner is shared across jobs; all
// per-run state lives on the stack of Run.
type Runner struct {
	cfg       *config.Config
	store     store.Store
	tracker   *job.Tracker
	extractor extraction.Gateway
	registry  registry.Gateway
	engine    *scorer.Engine
	limiter   *rate.Limiter
}

// NewRunner creates a Runner with all dependencies. The inter-candidate
// throttle comes from pipeline.candidates_per_second (default 1/sec), kept
// low so registry and model rate limits survive large rosters.
func NewRunner(
	cfg *config.Config,
	st store.Store,
	tracker *job.Tracker,
	extractor extraction.Gateway,
	registryGw registry.Gateway,
	engine *scorer.Engine,
) *Runner {
	rps := cfg.Pipeline.CandidatesPerSecond
	if rps <= 0 {
		rps = 1
	}
	return &Runner{
		cfg:       cfg,
		store:     st,
		tracker:   tracker,
		extractor: extractor,
		registry:  registryGw,
		engine:    engine,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Run validates every provider candidate found in the document and reports
// the job's progress under jobID. It returns the outcomes persisted before
// completion or cancellation; a cancelled run returns the outcomes written
// so far with a nil error.
//
// Extraction failure fails the whole run: nothing is persisted and the job
// is marked errored. Per-candidate failures after that are logged, counted
// as processed, and skipped.
func (r *Runner) Run(ctx context.Context, jobID string, document []byte, filename string) ([]Outcome, error) {
	log := zap.L().With(zap.String("job_id", jobID), zap.String("filename", filename))

	// Runtime settings come from the DB-backed system config so UI changes
	// apply without a restart; the static config is the fallback.
	mode, threshold, liveRegistry := r.runtimeSettings(ctx, log)

	r.audit(ctx, sourceExtraction, "Analyzing document: "+filename, model.LogLevelInfo)
	if err := r.tracker.Advance(ctx, jobID, model.StepExtraction); err != nil {
		log.Warn("pipeline: advance to extraction failed", zap.Error(err))
	}

	candidates, err := r.extractor.Extract(ctx, document, filename, mode)
	if err != nil {
		r.audit(ctx, sourceExtraction, "Document extraction failed: "+filename, model.LogLevelError)
		if failErr := r.tracker.Fail(ctx, jobID); failErr != nil {
			log.Warn("pipeline: mark job failed", zap.Error(failErr))
		}
		return nil, eris.Wrap(err, "pipeline: extract")
	}

	r.audit(ctx, sourceExtraction, fmt.Sprintf("Found %d provider candidate(s) in %s", len(candidates), filename), model.LogLevelSuccess)
	if err := r.tracker.Progress(ctx, jobID, model.StepEnrichment, 0, len(candidates)); err != nil {
		log.Warn("pipeline: set candidate total", zap.Error(err))
	}

	outcomes := make([]Outcome, 0, len(candidates))
	for i, candidate := range candidates {
		// Cancellation poll between candidates; the current candidate is
		// always allowed to finish.
		stopped, pollErr := r.tracker.Stopped(ctx, jobID)
		if pollErr != nil {
			log.Warn("pipeline: cancellation poll failed", zap.Error(pollErr))
		}
		if stopped {
			r.audit(ctx, sourceSystem, "Validation run cancelled", model.LogLevelWarn)
			log.Info("pipeline: run cancelled", zap.Int("processed", len(outcomes)))
			return outcomes, nil
		}

		if i > 0 {
			if err := r.limiter.Wait(ctx); err != nil {
				return outcomes, eris.Wrap(err, "pipeline: throttle wait")
			}
		}

		name := candidate.DisplayName()
		step := model.StepEnrichment
		r.audit(ctx, sourceEnrichment, "Verifying "+name+" against the NPI registry", model.LogLevelInfo)

		var record model.RegistryRecord
		if liveRegistry {
			record = r.registry.Lookup(ctx, candidate.NPI)
		} else {
			record = model.RegistryRecord{NPI: candidate.NPI, Found: false, Status: "Not Found (Enrichment Disabled)"}
		}

		if record.Found {
			step = model.StepQA
			if err := r.tracker.Progress(ctx, jobID, step, i, -1); err != nil {
				log.Warn("pipeline: advance to qa", zap.Error(err))
			}
			r.audit(ctx, sourceQA, "Comparing extracted data with registry record for "+name, model.LogLevelInfo)
		} else {
			r.audit(ctx, sourceEnrichment, name+": no registry record ("+record.Status+")", model.LogLevelWarn)
		}

		result := r.engine.Score(candidate, record, threshold)

		outcome, persistErr := r.persist(ctx, candidate, name, record, result)
		if persistErr != nil {
			log.Error("pipeline: persist candidate failed",
				zap.String("candidate", name),
				zap.Error(persistErr),
			)
			r.audit(ctx, sourceSystem, "Failed to save results for "+name, model.LogLevelError)
		} else {
			outcomes = append(outcomes, *outcome)
			level := model.LogLevelSuccess
			if result.Status == model.StatusFlagged {
				level = model.LogLevelWarn
			}
			r.audit(ctx, sourceQA, fmt.Sprintf("%s scored %.0f%% (%s)", name, result.Score, result.Status), level)
		}

		// Processed counts candidates handled, not candidates persisted.
		if err := r.tracker.Progress(ctx, jobID, step, i+1, -1); err != nil {
			log.Warn("pipeline: update processed count", zap.Error(err))
		}
	}

	if err := r.tracker.Complete(ctx, jobID); err != nil {
		log.Warn("pipeline: mark job complete", zap.Error(err))
	}
	r.audit(ctx, sourceSystem, fmt.Sprintf("Validation run complete: %d of %d candidate(s) saved", len(outcomes), len(candidates)), model.LogLevelSuccess)
	log.Info("pipeline: run complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("saved", len(outcomes)),
	)
	return outcomes, nil
}

// runtimeSettings merges the DB-backed system config over the static file
// config. Threshold is converted from fraction to percent exactly once,
// here or in ScoringConfig, never both.
func (r *Runner) runtimeSettings(ctx context.Context, log *zap.Logger) (mode string, threshold float64, liveRegistry bool) {
	mode = r.cfg.Extraction.Mode
	threshold = r.cfg.Scoring.ThresholdPercent()
	liveRegistry = true

	sysCfg, err := r.store.GetSystemConfig(ctx)
	if err != nil {
		log.Warn("pipeline: system config unavailable, using static config", zap.Error(err))
		return mode, threshold, liveRegistry
	}
	if sysCfg.ExtractionMode != "" {
		mode = sysCfg.ExtractionMode
	}
	if sysCfg.ConfidenceThreshold > 0 {
		threshold = sysCfg.ConfidenceThreshold * 100
	}
	return mode, threshold, sysCfg.LiveRegistryEnrichment
}

// persist upserts the provider, appends the validation record, and links it
// as the provider's latest. Partial writes are surfaced as errors; the
// append-only validation history is never updated in place.
func (r *Runner) persist(ctx context.Context, candidate model.Candidate, name string, record model.RegistryRecord, result model.ValidationResult) (*Outcome, error) {
	if candidate.NPI != "" {
		existing, err := r.store.GetProviderByNPI(ctx, candidate.NPI)
		if err == nil && existing != nil && existing.FullName != name {
			zap.L().Warn("pipeline: provider name changed on re-validation",
				zap.String("npi", candidate.NPI),
				zap.String("previous", existing.FullName),
				zap.String("current", name),
			)
		}
	}

	status := model.ProviderStatusFlagged
	if result.Status == model.StatusValidated {
		status = model.ProviderStatusValidated
	}

	provider, err := r.store.UpsertProvider(ctx, model.Provider{
		FullName:        name,
		NPI:             candidate.NPI,
		Specialty:       candidate.Specialty,
		Address:         candidate.Address,
		License:         candidate.License,
		Status:          status,
		ConfidenceScore: result.Score,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: upsert provider")
	}

	validation, err := r.store.CreateValidation(ctx, model.Validation{
		ProviderID:      provider.ID,
		Status:          result.Status,
		ConfidenceScore: result.Score,
		Discrepancies:   result.Discrepancies,
		Extracted:       candidate,
		Registry:        record,
	})
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create validation")
	}

	if err := r.store.SetLatestValidation(ctx, provider.ID, validation.ID); err != nil {
		return nil, eris.Wrap(err, "pipeline: link latest validation")
	}
	provider.LatestValidationID = validation.ID

	return &Outcome{Provider: *provider, Validation: *validation}, nil
}

// audit appends to the persisted log stream. Best-effort: a failed write is
// logged and ignored.
func (r *Runner) audit(ctx context.Context, source, message, level string) {
	if err := r.store.AppendLog(ctx, source, message, level); err != nil {
		zap.L().Debug("pipeline: audit log write failed",
			zap.String("source", source),
			zap.Error(err),
		)
	}
}
