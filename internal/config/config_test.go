package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 100, cfg.RateLimit.Capacity)
	assert.Equal(t, 10, cfg.RateLimit.RefillRate)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadParsesFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: postgres
  host: dbhost
  port: 5432
  user: auditor
  password: hunter2
  name: moveaudit
  sslMode: require
minio:
  endpoint: minio:9000
  accessKey: ak
  secretKey: sk
  bucketName: reports
  region: us-east-1
  useSSL: true
openai:
  apiKey: sk-yaml
  model: gpt-4o
github:
  token: ghp_file
auth:
  apiKeys:
    acme: key-one
    globex: key-two
rateLimit:
  capacity: 50
  refillRate: 5
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.Equal(t, "minio:9000", cfg.Minio.Endpoint)
	assert.True(t, cfg.Minio.UseSSL)
	assert.Equal(t, "sk-yaml", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.OpenAI.Model)
	assert.Equal(t, "ghp_file", cfg.GitHub.Token)
	assert.Equal(t, map[string]string{"acme": "key-one", "globex": "key-two"}, cfg.Auth.APIKeys)
	assert.Equal(t, 50, cfg.RateLimit.Capacity)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestDSNBuilders(t *testing.T) {
	path := writeConfig(t, `
database:
  host: dbhost
  port: 3306
  user: auditor
  password: hunter2
  name: moveaudit
  sslMode: require
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t,
		"auditor:hunter2@tcp(dbhost:3306)/moveaudit?parseTime=true&charset=utf8mb4&loc=UTC",
		cfg.MySQLDSN())
	assert.Equal(t,
		"host=dbhost port=3306 user=auditor password=hunter2 dbname=moveaudit sslmode=require",
		cfg.PostgresDSN())
}

func TestEnvFallbacksOnlyFillEmptyFields(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("GITHUB_TOKEN", "ghp_env")

	path := writeConfig(t, "openai:\n  apiKey: sk-yaml\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sk-yaml", cfg.OpenAI.APIKey)
	assert.Equal(t, "ghp_env", cfg.GitHub.Token)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
