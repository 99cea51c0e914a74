// Package store persists providers, validations, jobs, the audit log, and
// runtime configuration behind a backend-agnostic interface.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ave/internal/config"
	"github.com/sells-group/ave/internal/model"
)

// Store defines the persistence interface for the validation pipeline.
//
// Job progress writes (UpdateJobProgress, FinishJob) apply only while the
// job is still running; once a job reaches a terminal status they silently
// do nothing. That rule lives in the SQL so concurrent cancellation races
// resolve in the database rather than in application code.
type Store interface {
	// Providers
	UpsertProvider(ctx context.Context, p model.Provider) (*model.Provider, error)
	GetProvider(ctx context.Context, id string) (*model.Provider, error)
	GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error)
	ListProviders(ctx context.Context) ([]model.Provider, error)
	DeleteProvider(ctx context.Context, id string) error
	DeleteAllProviders(ctx context.Context) error
	SetLatestValidation(ctx context.Context, providerID, validationID string) error
	ProviderStats(ctx context.Context) (*model.ProviderStats, error)

	// Validations (append-only)
	CreateValidation(ctx context.Context, v model.Validation) (*model.Validation, error)
	GetValidation(ctx context.Context, id string) (*model.Validation, error)
	ListValidations(ctx context.Context, providerID string) ([]model.Validation, error)

	// Jobs
	CreateJob(ctx context.Context, filename string) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ActiveJob(ctx context.Context) (*model.Job, error)
	UpdateJobProgress(ctx context.Context, jobID string, step model.JobStep, processed, total int) error
	FinishJob(ctx context.Context, jobID string, status model.JobStatus, step model.JobStep) error

	// Audit log
	AppendLog(ctx context.Context, source, message, level string) error
	ListLogs(ctx context.Context, limit int) ([]model.LogEntry, error)
	ClearLogs(ctx context.Context) error

	// System config
	GetSystemConfig(ctx context.Context) (*model.SystemConfig, error)
	UpdateSystemConfig(ctx context.Context, cfg model.SystemConfig) (*model.SystemConfig, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the Store named by the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres", "":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
