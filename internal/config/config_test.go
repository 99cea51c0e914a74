package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "batch", cfg.Extraction.Mode)
	assert.Equal(t, int64(4096), cfg.Extraction.MaxTokens)
	assert.Equal(t, "https://npiregistry.cms.hhs.gov/api/", cfg.Registry.BaseURL)
	assert.Equal(t, 0.78, cfg.Scoring.ConfidenceThreshold)
	assert.Equal(t, 1.0, cfg.Pipeline.CandidatesPerSecond)
	assert.Equal(t, 3, cfg.Pipeline.MaxConcurrentFiles)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AVE_STORE_DRIVER", "sqlite")
	t.Setenv("AVE_SCORING_CONFIDENCE_THRESHOLD", "0.9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 0.9, cfg.Scoring.ConfidenceThreshold)
}

func TestThresholdPercent(t *testing.T) {
	s := ScoringConfig{ConfidenceThreshold: 0.78}
	assert.Equal(t, 78.0, s.ThresholdPercent())

	s.ConfidenceThreshold = 1
	assert.Equal(t, 100.0, s.ThresholdPercent())
}
