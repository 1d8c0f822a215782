package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadAppliesDefaults(t *testing.T) {
	p := writeConfig(t, `
storage:
  driver: memory
pipeline:
  workers: 4
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 4, c.Pipeline.Workers)
	assert.Equal(t, 30*time.Second, c.Pipeline.EntityTimeout)
	assert.Equal(t, "skip", c.Pipeline.OverlapPolicy)
	assert.Equal(t, 0.02, c.Analytics.MinSupport)
	assert.Equal(t, 7, c.Analytics.SeasonalPeriod)
	assert.Equal(t, []string{"*"}, c.Server.AllowOrigins)
	assert.Equal(t, 1024, c.Events.BufferSize)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "postgres.dsn"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.driver"},
		{"bad overlap policy", func(c *Config) { c.Pipeline.OverlapPolicy = "wait" }, "overlap_policy"},
		{"queue policy without queue", func(c *Config) { c.Pipeline.OverlapPolicy = "queue" }, "requires queue.enabled"},
		{"queue without redis", func(c *Config) { c.Queue.Enabled = true }, "requires redis.enabled"},
		{"support out of range", func(c *Config) { c.Analytics.MinSupport = 1.5 }, "min_support"},
		{"confidence level", func(c *Config) { c.Analytics.ConfidenceLevel = 1 }, "confidence_level"},
		{"bundle size", func(c *Config) { c.Analytics.BundleSize = 1 }, "bundle_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.Storage.Driver = "memory"
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	c := Default()
	c.Storage.Driver = "memory"
	assert.NoError(t, c.Validate())
}

func TestLoadWithEnvOverrides(t *testing.T) {
	p := writeConfig(t, "storage:\n  driver: memory\n")
	t.Setenv("PRICEINTEL_ENV", "production")
	t.Setenv("PRICEINTEL_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PRICEINTEL_PIPELINE_WORKERS", "3")

	c, err := LoadWithEnv(p)
	require.NoError(t, err)
	assert.Equal(t, "production", c.Environment)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.Equal(t, 3, c.Pipeline.Workers)

	t.Setenv("PRICEINTEL_PIPELINE_WORKERS", "many")
	_, err = LoadWithEnv(p)
	assert.Error(t, err)
}
