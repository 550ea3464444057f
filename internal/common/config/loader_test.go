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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalConfig = `
database:
  postgres:
    host: localhost
    database: bloodlink
    user: bloodlink
  redis:
    address: localhost:6379
`

func TestLoadFromFile_Defaults(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "bloodlink", cfg.App.Name)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, ":8080", cfg.HTTP.Address())
	assert.Equal(t, 0.6, cfg.Matching.CompatWeight)
	assert.Equal(t, 0.4, cfg.Matching.DistanceWeight)
	assert.Equal(t, 20.0, cfg.Matching.EmergencyBonus)
	assert.Equal(t, 10.0, cfg.Matching.HighBonus)
	assert.Equal(t, 56, cfg.Matching.DonationCooldownDays)
	assert.Equal(t, "proximity", cfg.Matching.DefaultMode)
	assert.Len(t, cfg.Dispatch.Queues, 3)
	assert.Equal(t, "notification", cfg.Dispatch.DefaultQueue)
	assert.Equal(t, 2.0, cfg.Routing.MinutesPerKm)
	assert.Equal(t, []string{"admin", "coordinator"}, cfg.Auth.PrivilegedRoles)
	assert.False(t, cfg.Camunda.Enabled())
	assert.False(t, cfg.Database.Elasticsearch.Enabled())
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
}

func TestLoadFromFile_Overrides(t *testing.T) {
	cfg, err := LoadFromFile(writeConfig(t, minimalConfig+`
  elasticsearch:
    addresses: ["http://es:9200"]
matching:
  compat_weight: 0.7
  distance_weight: 0.3
dispatch:
  queues:
    - name: only
      concurrency: 2
  default_queue: only
  base_backoff: 50
camunda:
  broker_address: zeebe:26500
`))
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Matching.CompatWeight)
	assert.Equal(t, "http://es:9200", cfg.Database.Elasticsearch.GetURL())
	assert.True(t, cfg.Database.Elasticsearch.Enabled())
	assert.True(t, cfg.Camunda.Enabled())
	require.Len(t, cfg.Dispatch.Queues, 1)
	assert.Equal(t, 50*time.Millisecond, GetDuration(cfg.Dispatch.BaseBackoff))
}

func TestLoadFromFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing postgres host",
			body: "database:\n  redis:\n    address: x\n",
			want: "database.postgres.host",
		},
		{
			name: "unknown default queue",
			body: minimalConfig + "dispatch:\n  default_queue: nope\n",
			want: "dispatch.default_queue",
		},
		{
			name: "negative weight",
			body: minimalConfig + "matching:\n  compat_weight: -1\n",
			want: "weights",
		},
		{
			name: "unknown ranking mode",
			body: minimalConfig + "matching:\n  default_mode: nearest\n",
			want: "matching.default_mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetWorkerConfig(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{
		"notify-compatible-donors": {Enabled: false, MaxJobsActive: 2},
	}}

	assert.False(t, IsWorkerEnabled(cfg, "notify-compatible-donors"))
	assert.True(t, IsWorkerEnabled(cfg, "other"))
	assert.Equal(t, 5, GetWorkerConfig(cfg, "other").MaxJobsActive)
	assert.Equal(t, 2, GetWorkerConfig(cfg, "notify-compatible-donors").MaxJobsActive)
}

func TestLoadFromFile_ExpandsEnv(t *testing.T) {
	t.Setenv("BLOODLINK_TEST_REDIS", "cache:6380")
	t.Setenv("BLOODLINK_TEST_ZEEBE", "")

	cfg, err := LoadFromFile(writeConfig(t, `
camunda:
  broker_address: ${BLOODLINK_TEST_ZEEBE}
database:
  postgres:
    host: localhost
    database: bloodlink
    user: bloodlink
  redis:
    address: ${BLOODLINK_TEST_REDIS}
`))
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", cfg.Database.Redis.Address)
	assert.Empty(t, cfg.Camunda.BrokerAddress)
	assert.False(t, cfg.Camunda.Enabled())
}
