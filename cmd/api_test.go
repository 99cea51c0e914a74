package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/ave/internal/config"
	"github.com/sells-group/ave/internal/extraction"
	"github.com/sells-group/ave/internal/job"
	"github.com/sells-group/ave/internal/model"
	"github.com/sells-group/ave/internal/pipeline"
	"github.com/sells-group/ave/internal/scorer"
	"github.com/sells-group/ave/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// stubExtractor returns a fixed candidate list for any document.
type stubExtractor struct {
	candidates []model.Candidate
}

func (s *stubExtractor) Extract(ctx context.Context, document []byte, filename, mode string) ([]model.Candidate, error) {
	return s.candidates, nil
}

// matchingRegistry echoes each candidate back as a clean registry match.
type matchingRegistry struct{}

func (matchingRegistry) Lookup(ctx context.Context, number string) model.RegistryRecord {
	return model.RegistryRecord{
		NPI:          number,
		OfficialName: "Sarah Chen MD",
		Specialty:    "Internal Medicine",
		Status:       "A",
		Found:        true,
	}
}

func newTestAPI(t *testing.T, candidates []model.Candidate) (chi.Router, store.Store, *job.Tracker) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))

	cfg := &config.Config{
		Extraction: config.ExtractionConfig{Mode: extraction.ModeBatch},
		Scoring:    config.ScoringConfig{ConfidenceThreshold: 0.78},
		Pipeline:   config.PipelineConfig{CandidatesPerSecond: 1000},
	}
	tracker := job.NewTracker(s)
	runner := pipeline.NewRunner(cfg, s, tracker,
		&stubExtractor{candidates: candidates},
		matchingRegistry{},
		scorer.New(scorer.DefaultPenalties()),
	)

	return newAPIRouter(context.Background(), s, tracker, runner), s, tracker
}

func doJSON(t *testing.T, router chi.Router, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _, _ := newTestAPI(t, nil)
	rec := doJSON(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestStartValidation_AcceptsUploadAndRunsJob(t *testing.T) {
	candidate := model.Candidate{FullName: "Sarah Chen MD", NPI: "1598765432", Specialty: "Internal Medicine"}
	router, s, _ := newTestAPI(t, []model.Candidate{candidate})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "roster.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/validate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["job_id"])
	assert.Equal(t, "roster.pdf", resp["filename"])

	// The run is fire-and-forget; wait for the job to reach a terminal state.
	require.Eventually(t, func() bool {
		j, jobErr := s.GetJob(context.Background(), resp["job_id"])
		return jobErr == nil && j.Status == model.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	providers, err := s.ListProviders(context.Background())
	require.NoError(t, err)
	require.Len(t, providers, 1)
	assert.Equal(t, "1598765432", providers[0].NPI)
}

func TestStartValidation_MissingFile(t *testing.T) {
	router, _, _ := newTestAPI(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/validate", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "file is required")
}

func TestActiveJob(t *testing.T) {
	router, _, tracker := newTestAPI(t, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/jobs/active", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":false`)

	j, err := tracker.Start(context.Background(), "roster.pdf")
	require.NoError(t, err)

	rec = doJSON(t, router, http.MethodGet, "/api/jobs/active", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"active":true`)
	assert.Contains(t, rec.Body.String(), j.ID)
}

func TestCancelJob(t *testing.T) {
	router, s, tracker := newTestAPI(t, nil)
	ctx := context.Background()

	j, err := tracker.Start(ctx, "roster.pdf")
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodPost, "/api/jobs/"+j.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	// Cancelling twice stays cancelled and still succeeds.
	rec = doJSON(t, router, http.MethodPost, "/api/jobs/"+j.ID+"/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/jobs/no-such-job/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProviderEndpoints(t *testing.T) {
	router, s, _ := newTestAPI(t, nil)
	ctx := context.Background()

	rec := doJSON(t, router, http.MethodGet, "/api/providers", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	p, err := s.UpsertProvider(ctx, model.Provider{FullName: "Sarah Chen MD", NPI: "1598765432"})
	require.NoError(t, err)

	rec = doJSON(t, router, http.MethodGet, "/api/providers", "")
	assert.Contains(t, rec.Body.String(), "Sarah Chen MD")

	rec = doJSON(t, router, http.MethodDelete, "/api/providers/"+p.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodDelete, "/api/providers/"+p.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidationEndpoints(t *testing.T) {
	router, s, _ := newTestAPI(t, nil)
	ctx := context.Background()

	p, err := s.UpsertProvider(ctx, model.Provider{FullName: "Sarah Chen MD", NPI: "1598765432"})
	require.NoError(t, err)
	v, err := s.CreateValidation(ctx, model.Validation{
		ProviderID:      p.ID,
		Status:          model.StatusFlagged,
		ConfidenceScore: 80,
		Discrepancies:   []model.Discrepancy{{Field: "Name", Penalty: 20, Reason: "mismatch"}},
	})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/validation/"+v.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"confidence_score":80`)

	rec = doJSON(t, router, http.MethodGet, "/api/validation/"+v.ID+"/discrepancies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var discrepancies []model.Discrepancy
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &discrepancies))
	require.Len(t, discrepancies, 1)
	assert.Equal(t, "Name", discrepancies[0].Field)

	rec = doJSON(t, router, http.MethodGet, "/api/validation/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardStats(t *testing.T) {
	router, s, _ := newTestAPI(t, nil)
	ctx := context.Background()

	_, err := s.UpsertProvider(ctx, model.Provider{FullName: "A", NPI: "1000000001", Status: model.ProviderStatusValidated, ConfidenceScore: 90})
	require.NoError(t, err)
	_, err = s.UpsertProvider(ctx, model.Provider{FullName: "B", NPI: "1000000002", Status: model.ProviderStatusFlagged, ConfidenceScore: 50})
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, "/api/dashboard/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats model.ProviderStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Validated)
	assert.Equal(t, 1, stats.Flagged)
	assert.InDelta(t, 70.0, stats.AvgConfidence, 0.001)
}

func TestLogEndpoints(t *testing.T) {
	router, s, _ := newTestAPI(t, nil)
	ctx := context.Background()

	require.NoError(t, s.AppendLog(ctx, "QA Agent", "scored 90", model.LogLevelInfo))

	rec := doJSON(t, router, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scored 90")

	rec = doJSON(t, router, http.MethodDelete, "/api/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/logs", "")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestConfigEndpoints(t *testing.T) {
	router, _, _ := newTestAPI(t, nil)

	rec := doJSON(t, router, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"confidence_threshold":0.78`)

	rec = doJSON(t, router, http.MethodPut, "/api/config",
		`{"confidence_threshold":0.85,"extraction_mode":"single","live_registry_enrichment":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/config", "")
	assert.Contains(t, rec.Body.String(), `"confidence_threshold":0.85`)
	assert.Contains(t, rec.Body.String(), `"extraction_mode":"single"`)

	// Threshold is a fraction at the API boundary; percent values are rejected.
	rec = doJSON(t, router, http.MethodPut, "/api/config", `{"confidence_threshold":85}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
