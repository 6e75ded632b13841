package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldline/fieldline/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fieldline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server_url: http://api.example.com\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://api.example.com", cfg.ServerURL)
	assert.Equal(t, "fieldline.db", cfg.DBPath)
	assert.Equal(t, models.StrategyServerWins, cfg.Strategy())
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, 3, cfg.Sync.MaxRetries)
	assert.Equal(t, time.Second, cfg.Sync.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Sync.BackoffMax)
	assert.Equal(t, 30*time.Second, cfg.Sync.ReconnectCooldown)

	// Без явного списка включаются типы maintenance-домена
	require.NotEmpty(t, cfg.Entities)
	assert.Equal(t, "work_orders", cfg.Entities[0].Type)
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
server_url: https://cmms.example.com
conflict_strategy: manual
sync:
  interval: 2m
  batch_size: 25
  backoff_base: 500ms
entities:
  - type: work_orders
    path: /v2/work-orders
    ttl: 10m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://cmms.example.com", cfg.ServerURL)
	assert.Equal(t, models.StrategyManual, cfg.Strategy())
	assert.Equal(t, 2*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 25, cfg.Sync.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.BackoffBase)

	require.Len(t, cfg.Entities, 1)
	assert.Equal(t, "/v2/work-orders", cfg.Entities[0].Path)
	assert.Equal(t, 10*time.Minute, cfg.Entities[0].TTL)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FIELDLINE_SERVER_URL", "http://override.example.com")
	t.Setenv("FIELDLINE_SYNC_BATCH_SIZE", "7")

	cfg, err := Load(writeConfig(t, "server_url: http://file.example.com\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://override.example.com", cfg.ServerURL)
	assert.Equal(t, 7, cfg.Sync.BatchSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown strategy", "conflict_strategy: newest-wins\n"},
		{"entity without path", "entities:\n  - type: work_orders\n"},
		{"empty server url", "server_url: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
