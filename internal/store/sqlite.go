package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ave/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local CLI
// runs where standing up Postgres is not worth it.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS providers (
	id                   TEXT PRIMARY KEY,
	full_name            TEXT NOT NULL,
	npi                  TEXT UNIQUE,
	specialty            TEXT NOT NULL DEFAULT '',
	address              TEXT NOT NULL DEFAULT '',
	license              TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'Pending',
	confidence_score     REAL NOT NULL DEFAULT 0,
	last_updated         DATETIME NOT NULL DEFAULT (datetime('now')),
	latest_validation_id TEXT
);

CREATE TABLE IF NOT EXISTS validations (
	id               TEXT PRIMARY KEY,
	provider_id      TEXT NOT NULL REFERENCES providers(id) ON DELETE CASCADE,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	status           TEXT NOT NULL,
	confidence_score REAL NOT NULL,
	discrepancies    TEXT NOT NULL DEFAULT '[]',
	extracted_data   TEXT NOT NULL,
	registry_data    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_jobs (
	id                  TEXT PRIMARY KEY,
	filename            TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'running',
	current_step        TEXT NOT NULL DEFAULT 'starting',
	total_providers     INTEGER NOT NULL DEFAULT 0,
	processed_providers INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS agent_logs (
	id         TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	source     TEXT NOT NULL,
	message    TEXT NOT NULL,
	level      TEXT NOT NULL DEFAULT 'INFO'
);

CREATE TABLE IF NOT EXISTS system_config (
	id                           TEXT PRIMARY KEY,
	confidence_threshold         REAL NOT NULL DEFAULT 0.78,
	auto_approve_high_confidence INTEGER NOT NULL DEFAULT 1,
	fuzzy_matching               INTEGER NOT NULL DEFAULT 1,
	live_registry_enrichment     INTEGER NOT NULL DEFAULT 1,
	extraction_mode              TEXT NOT NULL DEFAULT 'batch'
);

CREATE INDEX IF NOT EXISTS idx_providers_status ON providers(status);
CREATE INDEX IF NOT EXISTS idx_validations_provider_id ON validations(provider_id);
CREATE INDEX IF NOT EXISTS idx_validation_jobs_status ON validation_jobs(status);
CREATE INDEX IF NOT EXISTS idx_agent_logs_created_at ON agent_logs(created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertProvider(ctx context.Context, p model.Provider) (*model.Provider, error) {
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
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO providers (id, full_name, npi, specialty, address, license, status, confidence_score, last_updated)
			 VALUES (?, ?, NULL, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.FullName, p.Specialty, p.Address, p.License, string(p.Status), p.ConfidenceScore, p.LastUpdated,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert provider")
		}
		return &p, nil
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO providers (id, full_name, npi, specialty, address, license, status, confidence_score, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (npi) DO UPDATE SET
		   full_name = excluded.full_name, specialty = excluded.specialty,
		   address = excluded.address, license = excluded.license,
		   status = excluded.status, confidence_score = excluded.confidence_score,
		   last_updated = excluded.last_updated
		 RETURNING id`,
		p.ID, p.FullName, p.NPI, p.Specialty, p.Address, p.License, string(p.Status), p.ConfidenceScore, p.LastUpdated,
	).Scan(&p.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert provider npi %s", p.NPI)
	}
	return &p, nil
}

func (s *SQLiteStore) GetProvider(ctx context.Context, id string) (*model.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, full_name, npi, specialty, address, license, status, confidence_score, last_updated, latest_validation_id
		 FROM providers WHERE id = ?`,
		id,
	)
	p, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get provider %s", id)
	}
	return p, nil
}

func (s *SQLiteStore) GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, full_name, npi, specialty, address, license, status, confidence_score, last_updated, latest_validation_id
		 FROM providers WHERE npi = ?`,
		npi,
	)
	p, err := scanProvider(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get provider by npi %s", npi)
	}
	return p, nil
}

func (s *SQLiteStore) ListProviders(ctx context.Context) ([]model.Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, full_name, npi, specialty, address, license, status, confidence_score, last_updated, latest_validation_id
		 FROM providers ORDER BY last_updated DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list providers")
	}
	defer rows.Close()

	var providers []model.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider")
		}
		providers = append(providers, *p)
	}
	return providers, eris.Wrap(rows.Err(), "sqlite: list providers iterate")
}

func (s *SQLiteStore) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete provider %s", id)
	}
	return checkRowsAffected(res, "provider", id)
}

func (s *SQLiteStore) DeleteAllProviders(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM providers`)
	return eris.Wrap(err, "sqlite: delete all providers")
}

func (s *SQLiteStore) SetLatestValidation(ctx context.Context, providerID, validationID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE providers SET latest_validation_id = ? WHERE id = ?`,
		validationID, providerID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set latest validation for provider %s", providerID)
	}
	return checkRowsAffected(res, "provider", providerID)
}

func (s *SQLiteStore) ProviderStats(ctx context.Context) (*model.ProviderStats, error) {
	var st model.ProviderStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'Validated' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'Flagged' THEN 1 ELSE 0 END), 0),
		        COALESCE(AVG(confidence_score), 0)
		 FROM providers`,
	).Scan(&st.Total, &st.Validated, &st.Flagged, &st.AvgConfidence)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: provider stats")
	}
	return &st, nil
}

func (s *SQLiteStore) CreateValidation(ctx context.Context, v model.Validation) (*model.Validation, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}

	discJSON, err := json.Marshal(v.Discrepancies)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal discrepancies")
	}
	extractedJSON, err := json.Marshal(v.Extracted)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal extracted snapshot")
	}
	registryJSON, err := json.Marshal(v.Registry)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal registry snapshot")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validations (id, provider_id, created_at, status, confidence_score, discrepancies, extracted_data, registry_data)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ProviderID, v.Timestamp, string(v.Status), v.ConfidenceScore,
		string(discJSON), string(extractedJSON), string(registryJSON),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert validation for provider %s", v.ProviderID)
	}
	return &v, nil
}

func (s *SQLiteStore) GetValidation(ctx context.Context, id string) (*model.Validation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, provider_id, created_at, status, confidence_score, discrepancies, extracted_data, registry_data
		 FROM validations WHERE id = ?`,
		id,
	)
	v, err := scanValidation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get validation %s", id)
	}
	return v, nil
}

func (s *SQLiteStore) ListValidations(ctx context.Context, providerID string) ([]model.Validation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider_id, created_at, status, confidence_score, discrepancies, extracted_data, registry_data
		 FROM validations WHERE provider_id = ? ORDER BY created_at DESC`,
		providerID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list validations for provider %s", providerID)
	}
	defer rows.Close()

	var validations []model.Validation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan validation")
		}
		validations = append(validations, *v)
	}
	return validations, eris.Wrap(rows.Err(), "sqlite: list validations iterate")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, filename string) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO validation_jobs (id, filename, status, current_step, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, filename, string(model.JobStatusRunning), string(model.StepStarting), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.Job{
		ID:          id,
		Filename:    filename,
		Status:      model.JobStatusRunning,
		CurrentStep: model.StepStarting,
		CreatedAt:   now,
	}, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	var j model.Job
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, status, current_step, total_providers, processed_providers, created_at
		 FROM validation_jobs WHERE id = ?`,
		jobID,
	).Scan(&j.ID, &j.Filename, &j.Status, &j.CurrentStep, &j.TotalProviders, &j.ProcessedProviders, &j.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return &j, nil
}

func (s *SQLiteStore) ActiveJob(ctx context.Context) (*model.Job, error) {
	var j model.Job
	err := s.db.QueryRowContext(ctx,
		`SELECT id, filename, status, current_step, total_providers, processed_providers, created_at
		 FROM validation_jobs WHERE status = 'running' ORDER BY created_at DESC LIMIT 1`,
	).Scan(&j.ID, &j.Filename, &j.Status, &j.CurrentStep, &j.TotalProviders, &j.ProcessedProviders, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: active job")
	}
	return &j, nil
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, step model.JobStep, processed, total int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE validation_jobs SET current_step = ?,
		   processed_providers = CASE WHEN ? < 0 THEN processed_providers ELSE ? END,
		   total_providers = CASE WHEN ? < 0 THEN total_providers ELSE ? END
		 WHERE id = ? AND status = 'running'`,
		string(step), processed, processed, total, total, jobID,
	)
	return eris.Wrapf(err, "sqlite: update job progress %s", jobID)
}

func (s *SQLiteStore) FinishJob(ctx context.Context, jobID string, status model.JobStatus, step model.JobStep) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE validation_jobs SET status = ?, current_step = ? WHERE id = ? AND status = 'running'`,
		string(status), string(step), jobID,
	)
	return eris.Wrapf(err, "sqlite: finish job %s", jobID)
}

func (s *SQLiteStore) AppendLog(ctx context.Context, source, message, level string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_logs (id, created_at, source, message, level) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), time.Now().UTC(), source, message, level,
	)
	return eris.Wrap(err, "sqlite: append log")
}

func (s *SQLiteStore) ListLogs(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, source, message, level FROM agent_logs ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list logs")
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Source, &e.Message, &e.Level); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list logs iterate")
}

func (s *SQLiteStore) ClearLogs(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM agent_logs`)
	return eris.Wrap(err, "sqlite: clear logs")
}

func (s *SQLiteStore) GetSystemConfig(ctx context.Context) (*model.SystemConfig, error) {
	var c model.SystemConfig
	err := s.db.QueryRowContext(ctx,
		`SELECT id, confidence_threshold, auto_approve_high_confidence, fuzzy_matching, live_registry_enrichment, extraction_mode
		 FROM system_config WHERE id = ?`,
		model.SystemConfigID,
	).Scan(&c.ID, &c.ConfidenceThreshold, &c.AutoApproveHighConfidence, &c.FuzzyMatching, &c.LiveRegistryEnrichment, &c.ExtractionMode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DefaultSystemConfig(), nil
		}
		return nil, eris.Wrap(err, "sqlite: get system config")
	}
	return &c, nil
}

func (s *SQLiteStore) UpdateSystemConfig(ctx context.Context, cfg model.SystemConfig) (*model.SystemConfig, error) {
	cfg.ID = model.SystemConfigID
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO system_config (id, confidence_threshold, auto_approve_high_confidence, fuzzy_matching, live_registry_enrichment, extraction_mode)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   confidence_threshold = excluded.confidence_threshold,
		   auto_approve_high_confidence = excluded.auto_approve_high_confidence,
		   fuzzy_matching = excluded.fuzzy_matching,
		   live_registry_enrichment = excluded.live_registry_enrichment,
		   extraction_mode = excluded.extraction_mode`,
		cfg.ID, cfg.ConfidenceThreshold, cfg.AutoApproveHighConfidence, cfg.FuzzyMatching, cfg.LiveRegistryEnrichment, cfg.ExtractionMode,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: update system config")
	}
	return &cfg, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", kind, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
