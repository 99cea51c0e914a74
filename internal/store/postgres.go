package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ave/internal/db"
	"github.com/sells-group/ave/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot pipeline path: per-candidate upserts and the
// job progress writes polled by the UI.
var preparedStatements = map[string]string{
	"get_provider_by_npi": `SELECT id, full_name, npi, specialty, address, license, status, confidence_score, last_updated, latest_validation_id FROM providers WHERE npi = $1`,
	"insert_validation":   `INSERT INTO validations (id, provider_id, created_at, status, confidence_score, discrepancies, extracted_data, registry_data) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"get_job":             `SELECT id, filename, status, current_step, total_providers, processed_providers, created_at FROM validation_jobs WHERE id = $1`,
	"update_job_progress": `UPDATE validation_jobs SET current_step = $1, processed_providers = CASE WHEN $2 < 0 THEN processed_providers ELSE $2 END, total_providers = CASE WHEN $3 < 0 THEN total_providers ELSE $3 END WHERE id = $4 AND status = 'running'`,
	"finish_job":          `UPDATE validation_jobs SET status = $1, current_step = $2 WHERE id = $3 AND status = 'running'`,
	"append_log":          `INSERT INTO agent_logs (id, created_at, source, message, level) VALUES ($1, $2, $3, $4, $5)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., roster bulk imports).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS providers (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	full_name            TEXT NOT NULL,
	npi                  TEXT UNIQUE,
	specialty            TEXT NOT NULL DEFAULT '',
	address              TEXT NOT NULL DEFAULT '',
	license              TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'Pending',
	confidence_score     DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_updated         TIMESTAMPTZ NOT NULL DEFAULT now(),
	latest_validation_id TEXT
);

CREATE TABLE IF NOT EXISTS validations (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	provider_id      TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	status           TEXT NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL,
	discrepancies    JSONB NOT NULL DEFAULT '[]',
	extracted_data   JSONB NOT NULL,
	registry_data    JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_jobs (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	filename            TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'running',
	current_step        TEXT NOT NULL DEFAULT 'starting',
	total_providers     INTEGER NOT NULL DEFAULT 0,
	processed_providers INTEGER NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS agent_logs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	source     TEXT NOT NULL,
	message    TEXT NOT NULL,
	level      TEXT NOT NULL DEFAULT 'INFO'
);

CREATE TABLE IF NOT EXISTS system_config (
	id                           TEXT PRIMARY KEY,
	confidence_threshold         DOUBLE PRECISION NOT NULL DEFAULT 0.78,
	auto_approve_high_confidence BOOLEAN NOT NULL DEFAULT TRUE,
	fuzzy_matching               BOOLEAN NOT NULL DEFAULT TRUE,
	live_registry_enrichment     BOOLEAN NOT NULL DEFAULT TRUE,
	extraction_mode              TEXT NOT NULL DEFAULT 'batch'
);

CREATE INDEX IF NOT EXISTS idx_providers_status ON providers(status);
CREATE INDEX IF NOT EXISTS idx_validations_provider_id ON validations(provider_id);
CREATE INDEX IF NOT EXISTS idx_validation_jobs_status ON validation_jobs(status);
CREATE INDEX IF NOT EXISTS idx_agent_logs_created_at ON agent_logs(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertProvider inserts the provider, or updates the existing row when its
// NPI is already known. Providers without an NPI always insert a fresh row;
// there is nothing to match them on. The returned provider carries the id of
// the row actually written.
func (s *PostgresStore) UpsertProvider(ctx context.Context, p model.Provider) (*model.Provider, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.LastUpdated.IsZero() {
		p.LastUpdated = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = model.ProviderStatusPending
	}

	if p.NPI == "" {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO providers (id, full_name, npi, specialty, address, license, status, confidence_score, last_updated)
			 VALUES ($1, $2, NULL, $3, $4, $5, $6, $7, $8)`,
			p.ID, p.FullName, p.Specialty, p.Address, p.License, string(p.Status), p.ConfidenceScore, p.LastUpdated,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert provider")
		}
		return &p, nil
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO providers (id, full_name, npi, specialty, address, license, status, confidence_score, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (npi) DO UPDATE SET
		   full_name = EXCLUDED.full_name, specialty = EXCLUDED.specialty,
		   address = EXCLUDED.address, license = EXCLUDED.license,
		   status = EXCLUDED.status, confidence_score = EXCLUDED.confidence_score,
		   last_updated = EXCLUDED.last_updated
		 RETURNING id`,
		p.ID, p.FullName, p.NPI, p.Specialty, p.Address, p.License, string(p.Status), p.ConfidenceScore, p.LastUpdated,
	).Scan(&p.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert provider npi %s", p.NPI)
	}
	return &p, nil
}

func (s *PostgresStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, full_name, npi, specialty, address, license, status, confidence_score, last_updated, latest_validation_id
		 FROM providers WHERE id = $1`,
		id,
	)
	p, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get provider %s", id)
	}
	return p, nil
}

func (s *PostgresStore) GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, full_name, npi, specialty, address, license, status, confidence_score, last_updated, latest_validation_id
		 FROM providers WHERE npi = $1`,
		npi,
	)
	p, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get provider by npi %s", npi)
	}
	return p, nil
}

func (s *PostgresStore) ListProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, full_name, npi, specialty, address, license, status, confidence_score, last_updated, latest_validation_id
		 FROM providers ORDER BY last_updated DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list providers")
	}
	defer rows.Close()

	var providers []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider")
		}
		providers = append(providers, *p)
	}
	return providers, eris.Wrap(rows.Err(), "postgres: list providers iterate")
}

func (s *PostgresStore) DeleteProvider(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM providers WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete provider %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("provider not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteAllProviders(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM providers`)
	return eris.Wrap(err, "postgres: delete all providers")
}

func (s *PostgresStore) SetLatestValidation(ctx context.Context, providerID, validationID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE providers SET latest_validation_id = $1 WHERE id = $2`,
		validationID, providerID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set latest validation for provider %s", providerID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("provider not found: %s", providerID)
	}
	return nil
}

func (s *PostgresStore) ProviderStats(ctx context.Context) (*model.ProviderStats, error) {
	var st model.ProviderStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'Validated'),
		        COUNT(*) FILTER (WHERE status = 'Flagged'),
		        COALESCE(AVG(confidence_score), 0)
		 FROM providers`,
	).Scan(&st.Total, &st.Validated, &st.Flagged, &st.AvgConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: provider stats")
	}
	return &st, nil
}

func (s *PostgresStore) CreateValidation(ctx context.Context, v model.Validation) (*model.Validation, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}

	discJSON, err := json.Marshal(v.Discrepancies)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal discrepancies")
	}
	extractedJSON, err := json.Marshal(v.Extracted)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal extracted snapshot")
	}
	registryJSON, err := json.Marshal(v.Registry)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal registry snapshot")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO validations (id, provider_id, created_at, status, confidence_score, discrepancies, extracted_data, registry_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.ProviderID, v.Timestamp, string(v.Status), v.ConfidenceScore, discJSON, extractedJSON, registryJSON,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert validation for provider %s", v.ProviderID)
	}
	return &v, nil
}

func (s *PostgresStore) GetValidation(ctx context.Context, id string) (*model.Validation, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, provider_id, created_at, status, confidence_score, discrepancies, extracted_data, registry_data
		 FROM validations WHERE id = $1`,
		id,
	)
	v, err := scanValidation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get validation %s", id)
	}
	return v, nil
}

func (s *PostgresStore) ListValidations(ctx context.Context, providerID string) ([]model.Validation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, provider_id, created_at, status, confidence_score, discrepancies, extracted_data, registry_data
		 FROM validations WHERE provider_id = $1 ORDER BY created_at DESC`,
		providerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list validations for provider %s", providerID)
	}
	defer rows.Close()

	var validations []model.Validation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan validation")
		}
		validations = append(validations, *v)
	}
	return validations, eris.Wrap(rows.Err(), "postgres: list validations iterate")
}

func (s *PostgresStore) CreateJob(ctx context.Context, filename string) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO validation_jobs (id, filename, status, current_step, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, filename, string(model.JobStatusRunning), string(model.StepStarting), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:          id,
		Filename:    filename,
		Status:      model.JobStatusRunning,
		CurrentStep: model.StepStarting,
		CreatedAt:   now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var j model.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, filename, status, current_step, total_providers, processed_providers, created_at
		 FROM validation_jobs WHERE id = $1`,
		jobID,
	).Scan(&j.ID, &j.Filename, &j.Status, &j.CurrentStep, &j.TotalProviders, &j.ProcessedProviders, &j.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return &j, nil
}

func (s *PostgresStore) ActiveJob(ctx context.Context) (*model.Job, error) {
	var j model.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, filename, status, current_step, total_providers, processed_providers, created_at
		 FROM validation_jobs WHERE status = 'running' ORDER BY created_at DESC LIMIT 1`,
	).Scan(&j.ID, &j.Filename, &j.Status, &j.CurrentStep, &j.TotalProviders, &j.ProcessedProviders, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: active job")
	}
	return &j, nil
}

// UpdateJobProgress advances the step and counters of a running job. A
// negative processed or total leaves that counter unchanged. Writes against
// a terminal job affect zero rows and are not an error.
func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, step model.JobStep, processed, total int) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE validation_jobs SET current_step = $1,
		   processed_providers = CASE WHEN $2 < 0 THEN processed_providers ELSE $2 END,
		   total_providers = CASE WHEN $3 < 0 THEN total_providers ELSE $3 END
		 WHERE id = $4 AND status = 'running'`,
		string(step), processed, total, jobID,
	)
	return eris.Wrapf(err, "postgres: update job progress %s", jobID)
}

// FinishJob moves a running job to a terminal status. Finishing an already
// terminal job affects zero rows and is not an error, so a completion racing
// a cancellation leaves whichever terminal state landed first.
func (s *PostgresStore) FinishJob(ctx context.Context, jobID string, status model.JobStatus, step model.JobStep) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE validation_jobs SET status = $1, current_step = $2 WHERE id = $3 AND status = 'running'`,
		string(status), string(step), jobID,
	)
	return eris.Wrapf(err, "postgres: finish job %s", jobID)
}

func (s *PostgresStore) AppendLog(ctx context.Context, source, message, level string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agent_logs (id, created_at, source, message, level) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), time.Now().UTC(), source, message, level,
	)
	return eris.Wrap(err, "postgres: append log")
}

func (s *PostgresStore) ListLogs(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, created_at, source, message, level FROM agent_logs ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list logs")
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Source, &e.Message, &e.Level); err != nil {
			return nil, eris.Wrap(err, "postgres: scan log entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list logs iterate")
}

func (s *PostgresStore) ClearLogs(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agent_logs`)
	return eris.Wrap(err, "postgres: clear logs")
}

// GetSystemConfig returns the stored runtime configuration, or the defaults
// when no row has been written yet.
func (s *PostgresStore) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	var c model.SystemConfig
	err := s.pool.QueryRow(ctx,
		`SELECT id, confidence_threshold, auto_approve_high_confidence, fuzzy_matching, live_registry_enrichment, extraction_mode
		 FROM system_config WHERE id = $1`,
		model.SystemConfigID,
	).Scan(&c.ID, &c.ConfidenceThreshold, &c.AutoApproveHighConfidence, &c.FuzzyMatching, &c.LiveRegistryEnrichment, &c.ExtractionMode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DefaultSystemConfig(), nil
		}
		return nil, eris.Wrap(err, "postgres: get system config")
	}
	return &c, nil
}

func (s *PostgresStore) UpdateSystemConfig(ctx context.Context, cfg model.SystemConfig) (*model.SystemConfig, error) {
	cfg.ID = model.SystemConfigID
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_config (id, confidence_threshold, auto_approve_high_confidence, fuzzy_matching, live_registry_enrichment, extraction_mode)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   confidence_threshold = $2, auto_approve_high_confidence = $3,
		   fuzzy_matching = $4, live_registry_enrichment = $5, extraction_mode = $6`,
		cfg.ID, cfg.ConfidenceThreshold, cfg.AutoApproveHighConfidence, cfg.FuzzyMatching, cfg.LiveRegistryEnrichment, cfg.ExtractionMode,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: update system config")
	}
	return &cfg, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProvider(row scanner) (*model.Provider, error) {
	var p model.Provider
	var npi, latestValidation *string
	if err := row.Scan(&p.ID, &p.FullName, &npi, &p.Specialty, &p.Address, &p.License,
		&p.Status, &p.ConfidenceScore, &p.LastUpdated, &latestValidation); err != nil {
		return nil, err
	}
	if npi != nil {
		p.NPI = *npi
	}
	if latestValidation != nil {
		p.LatestValidationID = *latestValidation
	}
	return &p, nil
}

func scanValidation(row scanner) (*model.Validation, error) {
	var v model.Validation
	var discJSON, extractedJSON, registryJSON []byte
	if err := row.Scan(&v.ID, &v.ProviderID, &v.Timestamp, &v.Status, &v.ConfidenceScore,
		&discJSON, &extractedJSON, &registryJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(discJSON, &v.Discrepancies); err != nil {
		return nil, eris.Wrap(err, "unmarshal discrepancies")
	}
	if err := json.Unmarshal(extractedJSON, &v.Extracted); err != nil {
		return nil, eris.Wrap(err, "unmarshal extracted snapshot")
	}
	if err := json.Unmarshal(registryJSON, &v.Registry); err != nil {
		return nil, eris.Wrap(err, "unmarshal registry snapshot")
	}
	return &v, nil
}
