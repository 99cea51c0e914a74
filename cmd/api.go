package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/ave/internal/job"
	"github.com/sells-group/ave/internal/model"
	"github.com/sells-group/ave/internal/pipeline"
	"github.com/sells-group/ave/internal/store"
)

// maxUploadBytes caps document uploads at 32 MiB.
const maxUploadBytes = 32 << 20

// api holds the handler dependencies. runCtx outlives individual requests;
// fire-and-forget validation runs inherit it so an in-flight run survives
// the upload request but stops on server shutdown.
type api struct {
	store   store.Store
	tracker *job.Tracker
	runner  *pipeline.Runner
	runCtx  context.Context
}

// newAPIRouter builds the HTTP API.
func newAPIRouter(runCtx context.Context, st store.Store, tracker *job.Tracker, runner *pipeline.Runner) chi.Router {
	a := &api{store: st, tracker: tracker, runner: runner, runCtx: runCtx}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", a.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/validate", a.startValidation)

		r.Get("/jobs/active", a.activeJob)
		r.Post("/jobs/{jobID}/cancel", a.cancelJob)

		r.Get("/providers", a.listProviders)
		r.Delete("/providers", a.deleteAllProviders)
		r.Delete("/providers/{providerID}", a.deleteProvider)

		r.Get("/validation/{validationID}", a.getValidation)
		r.Get("/validation/{validationID}/discrepancies", a.getDiscrepancies)

		r.Get("/dashboard/stats", a.dashboardStats)

		r.Get("/logs", a.listLogs)
		r.Delete("/logs", a.clearLogs)

		r.Get("/config", a.getConfig)
		r.Put("/config", a.updateConfig)
	})

	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startValidation accepts a multipart document upload, creates a job, and
// fires the pipeline in the background. The response returns immediately
// with the job id; progress is polled via /api/jobs/active.
func (a *api) startValidation(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	document, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	j, err := a.tracker.Start(r.Context(), header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	go func() {
		if _, runErr := a.runner.Run(a.runCtx, j.ID, document, header.Filename); runErr != nil {
			zap.L().Error("api: validation run failed",
				zap.String("job_id", j.ID),
				zap.String("filename", header.Filename),
				zap.Error(runErr),
			)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id":   j.ID,
		"filename": header.Filename,
	})
}

func (a *api) activeJob(w http.ResponseWriter, r *http.Request) {
	j, err := a.store.ActiveJob(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read jobs")
		return
	}
	if j == nil {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "job": j})
}

func (a *api) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if _, err := a.store.GetJob(r.Context(), jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := a.tracker.Cancel(r.Context(), jobID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if err := a.store.AppendLog(r.Context(), "System", "Cancellation requested for job "+jobID, model.LogLevelWarn); err != nil {
		zap.L().Debug("api: audit log write failed", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "job_id": jobID})
}

func (a *api) listProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := a.store.ListProviders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	if providers == nil {
		providers = []model.Provider{}
	}
	writeJSON(w, http.StatusOK, providers)
}

func (a *api) deleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteProvider(r.Context(), chi.URLParam(r, "providerID")); err != nil {
		writeError(w, http.StatusNotFound, "provider not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *api) deleteAllProviders(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteAllProviders(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete providers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (a *api) getValidation(w http.ResponseWriter, r *http.Request) {
	v, err := a.store.GetValidation(r.Context(), chi.URLParam(r, "validationID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read validation")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "validation not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *api) getDiscrepancies(w http.ResponseWriter, r *http.Request) {
	v, err := a.store.GetValidation(r.Context(), chi.URLParam(r, "validationID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read validation")
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "validation not found")
		return
	}
	discrepancies := v.Discrepancies
	if discrepancies == nil {
		discrepancies = []model.Discrepancy{}
	}
	writeJSON(w, http.StatusOK, discrepancies)
}

func (a *api) dashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.ProviderStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *api) listLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := a.store.ListLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list logs")
		return
	}
	if entries == nil {
		entries = []model.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (a *api) clearLogs(w http.ResponseWriter, r *http.Request) {
	if err := a.store.ClearLogs(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (a *api) getConfig(w http.ResponseWriter, r *http.Request) {
	sysCfg, err := a.store.GetSystemConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read config")
		return
	}
	writeJSON(w, http.StatusOK, sysCfg)
}

func (a *api) updateConfig(w http.ResponseWriter, r *http.Request) {
	var in model.SystemConfig
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.ConfidenceThreshold < 0 || in.ConfidenceThreshold > 1 {
		writeError(w, http.StatusBadRequest, "confidence_threshold must be between 0 and 1")
		return
	}
	updated, err := a.store.UpdateSystemConfig(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update config")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
