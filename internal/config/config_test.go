package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constitutional-gov/internal/logging"
	"constitutional-gov/pkg/types"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
processor:
  workers: 8
scoring:
  escalation_threshold: 0.9
cache:
  ttl: 1h
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Processor.Workers)
	assert.Equal(t, 0.9, cfg.Scoring.EscalationThreshold)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	// Untouched values keep their defaults.
	assert.Equal(t, 0.8, cfg.Detection.ContradictionThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processor:\n  workers: 8\n"), 0o644))

	t.Setenv("GOV_WORKERS", "2")
	t.Setenv("GOV_CACHE_TTL", "15m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Processor.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero workers", func(c *Config) { c.Processor.Workers = 0 }},
		{"threshold above one", func(c *Config) { c.Scoring.EscalationThreshold = 1.5 }},
		{"weights not summing to one", func(c *Config) { c.Scoring.WeightUrgency = 0.5 }},
		{"negative retries", func(c *Config) { c.Resolution.MaxRetries = -1 }},
		{"zero cache ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"missing deadline", func(c *Config) {
			delete(c.Escalation.ResponseDeadlines, types.LevelEmergencyResponse)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStoreApplySwapsSnapshot(t *testing.T) {
	store := NewStore(Default(), "", logging.NewNoop())
	assert.Equal(t, 4, store.Current().Processor.Workers)

	updated := Default()
	updated.Processor.Workers = 16
	require.NoError(t, store.Apply(updated))
	assert.Equal(t, 16, store.Current().Processor.Workers)
}

func TestStoreApplyRejectsInvalid(t *testing.T) {
	store := NewStore(Default(), "", logging.NewNoop())
	bad := Default()
	bad.Processor.Workers = 0
	assert.Error(t, store.Apply(bad))
	assert.Equal(t, 4, store.Current().Processor.Workers, "invalid config must not be applied")
}
