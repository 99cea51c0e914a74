package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ave/internal/extraction"
	"github.com/sells-group/ave/internal/job"
	"github.com/sells-group/ave/internal/pipeline"
	"github.com/sells-group/ave/internal/registry"
	"github.com/sells-group/ave/internal/scorer"
	"github.com/sells-group/ave/internal/store"
	anthropicpkg "github.com/sells-group/ave/pkg/anthropic"
	"github.com/sells-group/ave/pkg/npi"
)

// env bundles the wired pipeline and its collaborators for commands that
// run validations.
type env struct {
	Store   store.Store
	Tracker *job.Tracker
	Runner  *pipeline.Runner
}

func (e *env) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	return st, nil
}

// initEnv opens the store, runs migrations, and wires the validation
// pipeline from configuration.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	penalties, err := scorer.LoadPenalties(cfg.Scoring.PenaltyFile)
	if err != nil {
		st.Close()
		return nil, eris.Wrap(err, "load penalty config")
	}

	npiClient := npi.NewClient(
		npi.WithBaseURL(cfg.Registry.BaseURL),
		npi.WithRateLimit(cfg.Registry.RateRPS),
		npi.WithTimeout(time.Duration(cfg.Registry.TimeoutSecs)*time.Second),
	)
	anthropicClient := anthropicpkg.NewClient(cfg.Extraction.Key)

	tracker := job.NewTracker(st)
	runner := pipeline.NewRunner(
		cfg,
		st,
		tracker,
		extraction.New(anthropicClient, cfg.Extraction),
		registry.New(npiClient),
		scorer.New(penalties),
	)

	return &env{Store: st, Tracker: tracker, Runner: runner}, nil
}
