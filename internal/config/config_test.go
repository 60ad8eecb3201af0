package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_AreValid(t *testing.T) {
	cfg := Defaults()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 64, cfg.BurstConcurrency)
}

func TestApplyEnv_OverridesDefaults(t *testing.T) {
	env := map[string]string{
		"KAFKA_BROKERS":        "a:9092,b:9092",
		"KAFKA_TOPIC":          "payments",
		"CONSUMER_CONCURRENCY": "4",
		"RETRY_BACKOFF":        "250ms",
		"USE_KAFKA":            "false",
		"STORE_BACKEND":        "sqlite",
		"CASSANDRA_PORT":       "not-a-number",
	}
	cfg := Defaults()

	applyEnv(cfg, func(k string) string { return env[k] })

	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "payments", cfg.KafkaTopic)
	assert.Equal(t, 4, cfg.ConsumerConcurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff)
	assert.False(t, cfg.UseKafka)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, 9042, cfg.CassandraPort, "invalid values keep the previous setting")
}

func TestLoadConfig_ReadsYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kafka_topic: from-file\nconsumer_concurrency: 6\nretry_backoff: 2s\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("CONSUMER_CONCURRENCY", "2")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.KafkaTopic)
	assert.Equal(t, 2, cfg.ConsumerConcurrency)
	assert.Equal(t, 2*time.Second, cfg.RetryBackoff)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "both"
	cfg.ConsumerConcurrency = 0
	cfg.Keyspace = "drop table;"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
	assert.Contains(t, err.Error(), "concurrency")
	assert.Contains(t, err.Error(), "keyspace")
}

func TestValidate_InMemoryBrokerNeedsAllMode(t *testing.T) {
	cfg := Defaults()
	cfg.UseKafka = false
	cfg.Mode = ModeConsumer

	assert.Error(t, cfg.Validate())
}

func TestString_RedactsPasswords(t *testing.T) {
	cfg := Defaults()
	cfg.PostgresDSN = "postgres://user:secret@db:5432/tx"

	s := cfg.String()

	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "REDACTED")
}
