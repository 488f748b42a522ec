package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func envMap(m map[string]string) lookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claimguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("", envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, domain.TierCommunity, cfg.Tier)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "channel", cfg.EventBus.Type)
	assert.Equal(t, domain.DefaultAlertExpression, cfg.Alert.Expression)
}

func TestLoad_ProTierFromEnv(t *testing.T) {
	cfg, err := load("", envMap(map[string]string{"CLAIMGUARD_TIER": "PRO"}))
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.True(t, cfg.Cache.EnableTwoPhase)
	assert.Equal(t, "nats", cfg.EventBus.Type)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
tier: pro
server:
  port: 9090
model:
  path: /srv/models/model.json
  frequencyTablePath: /srv/models/freq.json
alert:
  expression: risk_score >= 90 || amount > 50000.0
repository:
  driver: pgx
  postgresHost: db.internal
cache:
  claimTtl: 2m
eventBus:
  type: kafka
  kafkaBrokers: [kafka-1:9092, kafka-2:9092]
`)

	cfg, err := load(path, envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/srv/models/model.json", cfg.Model.Path)
	assert.Equal(t, "risk_score >= 90 || amount > 50000.0", cfg.Alert.Expression)
	assert.Equal(t, "pgx", cfg.Repository.Driver)
	assert.Equal(t, "db.internal", cfg.Repository.PostgresHost)
	assert.Equal(t, 5432, cfg.Repository.PostgresPort, "unset keys keep pro defaults")
	assert.Equal(t, 2*time.Minute, cfg.Cache.ClaimTTL)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.EventBus.KafkaBrokers)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	cfg, err := load(path, envMap(map[string]string{
		"CLAIMGUARD_PORT":          "7070",
		"CLAIMGUARD_DEBUG":         "true",
		"CLAIMGUARD_DB_PATH":       "/tmp/claims.db",
		"CLAIMGUARD_BUS_TYPE":      "kafka",
		"CLAIMGUARD_KAFKA_BROKERS": " k1:9092, ,k2:9092 ",
		"CLAIMGUARD_RATE_LIMIT":    "25",
		"CLAIMGUARD_CLAIM_TTL":     "30s",
		"CLAIMGUARD_MODEL_PATH":    "",
	}))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/claims.db", cfg.Repository.SQLitePath)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.EventBus.KafkaBrokers)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 25.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 30*time.Second, cfg.Cache.ClaimTTL)
	assert.Equal(t, "./models/xgboost_final_model.json", cfg.Model.Path, "empty env values are ignored")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		env  map[string]string
	}{
		{name: "bad port env", env: map[string]string{"CLAIMGUARD_PORT": "eighty"}},
		{name: "unknown tier", env: map[string]string{"CLAIMGUARD_TIER": "enterprise"}},
		{name: "bad yaml", body: "server: [port"},
		{name: "unsupported driver", body: "repository:\n  driver: mysql\n"},
		{name: "kafka without brokers", body: "eventBus:\n  type: kafka\n"},
		{name: "bad ttl", env: map[string]string{"CLAIMGUARD_CLAIM_TTL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}
			_, err := load(path, envMap(tt.env))
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
