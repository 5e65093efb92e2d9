package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Engine.MaxRetryCount)
	assert.Equal(t, 5, cfg.Agent.Workers)
	assert.Equal(t, 60*time.Second, cfg.MCP.HealthInterval)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 9000
database:
  driver: sqlite
  name: flowforge.db
agent:
  workers: 2
  poll_interval: 5s
mcp:
  url_rewrites:
    mcp.example.com: "mcp-internal:8080"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 2, cfg.Agent.Workers)
	assert.Equal(t, 5*time.Second, cfg.Agent.PollInterval)
	assert.Equal(t, "mcp-internal:8080", cfg.MCP.URLRewrites["mcp.example.com"])

	// untouched sections keep their defaults
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, 0.3, cfg.Monitor.FailureRateThreshold)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  http_port: 9000
`)
	t.Setenv("FLOWFORGE_SERVER_HTTP_PORT", "7070")
	t.Setenv("FLOWFORGE_DATABASE_PASSWORD", "from-env")
	t.Setenv("FLOWFORGE_REDIS_ENABLED", "true")
	t.Setenv("FLOWFORGE_AGENT_POLL_INTERVAL", "42s")
	t.Setenv("FLOWFORGE_SERVER_API_KEYS", "key-a, key-b,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.HTTPPort)
	assert.Equal(t, "from-env", cfg.Database.Password)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 42*time.Second, cfg.Agent.PollInterval)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Server.APIKeys)
}

func TestLoad_InvalidEnvValueIgnored(t *testing.T) {
	t.Setenv("FLOWFORGE_SERVER_HTTP_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not: a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
database:
  driver: oracle
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"port collision", func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, false},
		{"port out of range", func(c *Config) { c.Server.HTTPPort = 70000 }, false},
		{"missing db name", func(c *Config) { c.Database.Name = "" }, false},
		{"sqlite without name", func(c *Config) { c.Database.Driver = "sqlite"; c.Database.Name = "" }, true},
		{"redis enabled without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, false},
		{"negative retries", func(c *Config) { c.Engine.MaxRetryCount = -1 }, false},
		{"zero workers", func(c *Config) { c.Agent.Workers = 0 }, false},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	t.Parallel()

	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "ff", Password: "pw", Name: "flowforge", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=ff password=pw dbname=flowforge sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "ff", Password: "pw", Name: "flowforge"}
	assert.Equal(t, "ff:pw@tcp(db:3306)/flowforge?charset=utf8mb4&parseTime=True&loc=Local", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "flowforge.db"}
	assert.Equal(t, "flowforge.db", lite.DSN())
}
