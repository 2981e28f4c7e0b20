package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func validEnv() map[string]string {
	return map[string]string{
		"OPENAI_API_KEY":             "sk-test",
		"QSTASH_TOKEN":               "qs-token",
		"QSTASH_WEBHOOK_URL":         "https://insight.example.com/webhook",
		"QSTASH_CURRENT_SIGNING_KEY": "sig-current",
		"QSTASH_NEXT_SIGNING_KEY":    "sig-next",
		"REDIS_URL":                  "redis://localhost:6379/0",
	}
}

func build(t *testing.T, env map[string]string) *Config {
	t.Helper()
	var c Config
	require.NoError(t, c.applyEnv(mapLookup(env)))
	c.applyDefaults()
	return &c
}

func TestDefaults(t *testing.T) {
	c := build(t, validEnv())
	require.NoError(t, c.Validate())

	assert.Equal(t, 3001, c.Server.Port)
	assert.Equal(t, "http://localhost:3000", c.Server.CORSOrigin)
	assert.Equal(t, "gpt-4o-mini", c.OpenAI.Model)
	assert.InDelta(t, 0.7, c.OpenAI.Temperature, 1e-6)
	assert.Equal(t, DefaultQStashURL, c.QStash.URL)
	assert.Equal(t, 60*time.Second, c.QStash.Delay)
	assert.Equal(t, DriverRedis, c.Store.Driver)
	assert.Equal(t, time.Hour, c.TTL())
	assert.Equal(t, 1.0, c.RateLimit.RPS)
	assert.Equal(t, 5, c.RateLimit.Burst)
}

func TestTTLFallback(t *testing.T) {
	for _, v := range []string{"abc", "0", "-5", ""} {
		env := validEnv()
		env["ANALYSIS_TTL_SECONDS"] = v
		assert.Equal(t, time.Hour, build(t, env).TTL(), v)
	}
	env := validEnv()
	env["ANALYSIS_TTL_SECONDS"] = "120"
	assert.Equal(t, 2*time.Minute, build(t, env).TTL())
}

func TestValidateListsEveryMissingField(t *testing.T) {
	c := build(t, map[string]string{})
	err := c.Validate()
	require.Error(t, err)
	for _, key := range []string{"OPENAI_API_KEY", "QSTASH_TOKEN", "QSTASH_WEBHOOK_URL",
		"QSTASH_CURRENT_SIGNING_KEY", "QSTASH_NEXT_SIGNING_KEY", "REDIS_URL"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestValidateStoreDrivers(t *testing.T) {
	env := validEnv()
	env["STORE_DRIVER"] = "Postgres"
	c := build(t, env)
	assert.Equal(t, DriverPostgres, c.Store.Driver)
	assert.Equal(t, 5432, c.Database.Port)
	err := c.ValidateStore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_HOST")

	env["STORE_DRIVER"] = "memory"
	assert.NoError(t, build(t, env).ValidateStore())

	env["STORE_DRIVER"] = "etcd"
	assert.ErrorContains(t, build(t, env).ValidateStore(), "unknown driver")
}

func TestValidateRejectsRelativeWebhookURL(t *testing.T) {
	env := validEnv()
	env["QSTASH_WEBHOOK_URL"] = "/webhook"
	assert.ErrorContains(t, build(t, env).Validate(), "absolute URL")
}

func TestApplyEnvRejectsMalformedNumbers(t *testing.T) {
	var c Config
	err := c.applyEnv(mapLookup(map[string]string{"PORT": "http", "RATE_LIMIT_RPS": "fast"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PORT")
	assert.Contains(t, err.Error(), "RATE_LIMIT_RPS")
}

func TestParseDelay(t *testing.T) {
	tests := map[string]time.Duration{"60": time.Minute, "90s": 90 * time.Second, "2m": 2 * time.Minute, "0": 0}
	for in, want := range tests {
		got, err := ParseDelay(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"soon", "-1", "-3s"} {
		_, err := ParseDelay(in)
		assert.Error(t, err, in)
	}
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
store:
  driver: mysql
  ttlSeconds: 600
database:
  host: db.internal
  user: insight
  name: insight
qstash:
  delay: 30s
`), 0o600))
	t.Setenv("PORT", "9090")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, c.Server.Port, "env wins over yaml")
	assert.Equal(t, DriverMySQL, c.Store.Driver)
	assert.Equal(t, 10*time.Minute, c.TTL())
	assert.Equal(t, 30*time.Second, c.QStash.Delay)
	assert.NoError(t, c.ValidateStore())
	assert.Equal(t, "insight:@tcp(db.internal:3306)/insight?parseTime=true&charset=utf8mb4&loc=UTC", c.MySQLDSN())
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NoError(t, err)
}

func TestPostgresDSN(t *testing.T) {
	var c Config
	c.Database.Host, c.Database.Port = "pg", 5432
	c.Database.User, c.Database.Password, c.Database.Name = "u", "p@ss", "insight"
	c.Database.SSLMode = "disable"
	assert.Equal(t, "postgres://u:p%40ss@pg:5432/insight?sslmode=disable", c.PostgresDSN())
}

func TestValidateWorker(t *testing.T) {
	c := build(t, map[string]string{"STORE_DRIVER": "memory"})
	assert.ErrorContains(t, c.ValidateWorker(), "OPENAI_API_KEY")

	c = build(t, map[string]string{"STORE_DRIVER": "memory", "OPENAI_API_KEY": "sk"})
	assert.NoError(t, c.ValidateWorker())
}
