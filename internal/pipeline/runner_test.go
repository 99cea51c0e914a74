package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/ave/internal/config"
	"github.com/sells-group/ave/internal/extraction"
	"github.com/sells-group/ave/internal/job"
	"github.com/sells-group/ave/internal/model"
	"github.com/sells-group/ave/internal/scorer"
	"github.com/sells-group/ave/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig() *config.Config {
	return &config.Config{
		Extraction: config.ExtractionConfig{Mode: extraction.ModeBatch},
		Scoring:    config.ScoringConfig{ConfidenceThreshold: 0.78},
		// High throttle so multi-candidate tests do not sleep.
		Pipeline: config.PipelineConfig{CandidatesPerSecond: 1000},
	}
}

func newRunner(t *testing.T, extractor extraction.Gateway, reg *stubRegistry) (*Runner, store.Store, *job.Tracker) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	tracker := job.NewTracker(s)
	r := NewRunner(testConfig(), s, tracker, extractor, reg, scorer.New(scorer.DefaultPenalties()))
	return r, s, tracker
}

func startJob(t *testing.T, tracker *job.Tracker, filename string) string {
	t.Helper()
	j, err := tracker.Start(context.Background(), filename)
	require.NoError(t, err)
	return j.ID
}

func TestRun_HappyPath(t *testing.T) {
	candidates := []model.Candidate{
		{FullName: "Stephen Strange MD", NPI: "1234567890", Specialty: "Neurological Surgery", Address: "177A Bleecker St", License: "NY-123456"},
		{FullName: "Jane Doe", NPI: "1112223334", Specialty: "Dermatology", Address: "1 Main St", License: "CA-555"},
	}
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, []byte("doc"), "roster.pdf", extraction.ModeBatch).
		Return(candidates, nil)
	reg := &stubRegistry{lookup: func(ctx context.Context, number string) model.RegistryRecord {
		for _, c := range candidates {
			if c.NPI == number {
				return foundRecord(c)
			}
		}
		return model.RegistryRecord{NPI: number, Found: false, Status: "Not Found"}
	}}

	r, s, tracker := newRunner(t, extractor, reg)
	ctx := context.Background()
	jobID := startJob(t, tracker, "roster.pdf")

	outcomes, err := r.Run(ctx, jobID, []byte("doc"), "roster.pdf")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	for _, o := range outcomes {
		assert.Equal(t, 100.0, o.Provider.ConfidenceScore)
		assert.Equal(t, model.ProviderStatusValidated, o.Provider.Status)
		assert.Equal(t, o.Validation.ID, o.Provider.LatestValidationID)
		assert.Equal(t, o.Provider.ID, o.Validation.ProviderID)
	}

	j, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, j.Status)
	assert.Equal(t, model.StepComplete, j.CurrentStep)
	assert.Equal(t, 2, j.TotalProviders)
	assert.Equal(t, 2, j.ProcessedProviders)

	providers, err := s.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 2)

	extractor.AssertExpectations(t)
}

func TestRun_ExtractionFailureFailsJobWithoutPersisting(t *testing.T) {
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, extraction.ErrExtractionFailed)
	reg := &stubRegistry{}

	r, s, tracker := newRunner(t, extractor, reg)
	ctx := context.Background()
	jobID := startJob(t, tracker, "bad.pdf")

	outcomes, err := r.Run(ctx, jobID, []byte("doc"), "bad.pdf")
	require.Error(t, err)
	assert.Empty(t, outcomes)
	assert.Zero(t, reg.calls)

	j, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusError, j.Status)
	assert.Equal(t, model.StepFailed, j.CurrentStep)

	providers, err := s.ListProviders(ctx)
	require.NoError(t, err)
	assert.Empty(t, providers)
}

func TestRun_CancellationStopsBetweenCandidates(t *testing.T) {
	candidates := make([]model.Candidate, 5)
	for i := range candidates {
		candidates[i] = model.Candidate{
			FullName: "Provider",
			NPI:      fmt.Sprintf("100000000%d", i+1),
		}
	}
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(candidates, nil)
	reg := &stubRegistry{}

	r, s, tracker := newRunner(t, extractor, reg)
	ctx := context.Background()
	jobID := startJob(t, tracker, "roster.pdf")

	// Cancel the job during the second candidate's lookup. The second
	// candidate still finishes; three through five are never looked up.
	reg.lookup = func(lookupCtx context.Context, number string) model.RegistryRecord {
		if reg.calls == 2 {
			require.NoError(t, tracker.Cancel(ctx, jobID))
		}
		return model.RegistryRecord{NPI: number, Found: false, Status: "Not Found"}
	}

	outcomes, err := r.Run(ctx, jobID, []byte("doc"), "roster.pdf")
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
	assert.Equal(t, 2, reg.calls)

	j, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, j.Status)
	assert.Equal(t, model.StepCancelled, j.CurrentStep)

	providers, err := s.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 2)
}

func TestRun_NotFoundCandidateScoresZero(t *testing.T) {
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Candidate{{FullName: "Ghost Provider", NPI: "9999999999"}}, nil)
	reg := &stubRegistry{}

	r, s, tracker := newRunner(t, extractor, reg)
	ctx := context.Background()
	jobID := startJob(t, tracker, "roster.pdf")

	outcomes, err := r.Run(ctx, jobID, []byte("doc"), "roster.pdf")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)

	o := outcomes[0]
	assert.Equal(t, 0.0, o.Provider.ConfidenceScore)
	assert.Equal(t, model.ProviderStatusFlagged, o.Provider.Status)
	require.Len(t, o.Validation.Discrepancies, 1)
	assert.Equal(t, "Registry", o.Validation.Discrepancies[0].Field)
	assert.Equal(t, 100.0, o.Validation.Discrepancies[0].Penalty)

	// Not-found candidates never reach the QA step.
	j, err := s.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, j.Status)
}

func TestRun_UnknownNameGetsSyntheticDisplayName(t *testing.T) {
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Candidate{{FullName: "unknown", NPI: "1234567890"}}, nil)
	reg := &stubRegistry{}

	r, _, tracker := newRunner(t, extractor, reg)
	jobID := startJob(t, tracker, "roster.pdf")

	outcomes, err := r.Run(context.Background(), jobID, []byte("doc"), "roster.pdf")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "Unknown Provider (NPI: 1234567890)", outcomes[0].Provider.FullName)
	// The extracted snapshot keeps the raw value.
	assert.Equal(t, "unknown", outcomes[0].Validation.Extracted.FullName)
}

func TestRun_RevalidationUpsertsByNPI(t *testing.T) {
	candidate := model.Candidate{FullName: "Stephen Strange MD", NPI: "1234567890", Specialty: "Neurological Surgery"}
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Candidate{candidate}, nil)
	reg := &stubRegistry{lookup: func(ctx context.Context, number string) model.RegistryRecord {
		return foundRecord(candidate)
	}}

	r, s, tracker := newRunner(t, extractor, reg)
	ctx := context.Background()

	first, err := r.Run(ctx, startJob(t, tracker, "roster.pdf"), []byte("doc"), "roster.pdf")
	require.NoError(t, err)
	second, err := r.Run(ctx, startJob(t, tracker, "roster.pdf"), []byte("doc"), "roster.pdf")
	require.NoError(t, err)

	// Same NPI: one provider row, two validation records.
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Provider.ID, second[0].Provider.ID)

	providers, err := s.ListProviders(ctx)
	require.NoError(t, err)
	assert.Len(t, providers, 1)

	history, err := s.ListValidations(ctx, first[0].Provider.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, second[0].Validation.ID, providers[0].LatestValidationID)
}

func TestRun_RegistryDisabledSkipsLookups(t *testing.T) {
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Candidate{{FullName: "Jane Doe", NPI: "1112223334"}}, nil)
	reg := &stubRegistry{}

	r, s, tracker := newRunner(t, extractor, reg)
	ctx := context.Background()

	sysCfg := model.DefaultSystemConfig()
	sysCfg.LiveRegistryEnrichment = false
	_, err := s.UpdateSystemConfig(ctx, *sysCfg)
	require.NoError(t, err)

	outcomes, err := r.Run(ctx, startJob(t, tracker, "roster.pdf"), []byte("doc"), "roster.pdf")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Zero(t, reg.calls)
	assert.Equal(t, 0.0, outcomes[0].Provider.ConfidenceScore)
}

func TestRun_SystemConfigModeOverridesStatic(t *testing.T) {
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything, extraction.ModeSingle).
		Return([]model.Candidate{}, nil)
	reg := &stubRegistry{}

	r, s, tracker := newRunner(t, extractor, reg)
	ctx := context.Background()

	sysCfg := model.DefaultSystemConfig()
	sysCfg.ExtractionMode = extraction.ModeSingle
	_, err := s.UpdateSystemConfig(ctx, *sysCfg)
	require.NoError(t, err)

	_, err = r.Run(ctx, startJob(t, tracker, "roster.pdf"), []byte("doc"), "roster.pdf")
	require.NoError(t, err)
	extractor.AssertExpectations(t)
}

func TestRun_AuditTrailWritten(t *testing.T) {
	extractor := &mockExtractor{}
	extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]model.Candidate{{FullName: "Jane Doe", NPI: "1112223334"}}, nil)
	reg := &stubRegistry{}

	r, s, tracker := newRunner(t, extractor, reg)
	ctx := context.Background()

	_, err := r.Run(ctx, startJob(t, tracker, "roster.pdf"), []byte("doc"), "roster.pdf")
	require.NoError(t, err)

	entries, err := s.ListLogs(ctx, 50)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	sources := make(map[string]bool)
	for _, e := range entries {
		sources[e.Source] = true
	}
	assert.True(t, sources[sourceExtraction])
	assert.True(t, sources[sourceEnrichment])
	assert.True(t, sources[sourceSystem])
}
