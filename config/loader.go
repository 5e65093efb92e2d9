package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix namespaces environment overrides.
const EnvPrefix = "FLOWFORGE_"

// Load builds the configuration with defaults → file → environment
// precedence. path may be empty.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides fields from FLOWFORGE_ variables. Only operationally
// relevant knobs are exposed; structural settings stay in the file.
func applyEnv(cfg *Config) {
	envInt("SERVER_HTTP_PORT", &cfg.Server.HTTPPort)
	envInt("SERVER_METRICS_PORT", &cfg.Server.MetricsPort)
	envStringSlice("SERVER_API_KEYS", &cfg.Server.APIKeys)
	envStringSlice("SERVER_CORS_ALLOWED_ORIGINS", &cfg.Server.CORSAllowedOrigins)

	envString("DATABASE_DRIVER", &cfg.Database.Driver)
	envString("DATABASE_HOST", &cfg.Database.Host)
	envInt("DATABASE_PORT", &cfg.Database.Port)
	envString("DATABASE_USER", &cfg.Database.User)
	envString("DATABASE_PASSWORD", &cfg.Database.Password)
	envString("DATABASE_NAME", &cfg.Database.Name)
	envString("DATABASE_SSL_MODE", &cfg.Database.SSLMode)

	envBool("REDIS_ENABLED", &cfg.Redis.Enabled)
	envString("REDIS_ADDR", &cfg.Redis.Addr)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)

	envInt("ENGINE_MAX_RETRY_COUNT", &cfg.Engine.MaxRetryCount)
	envDuration("ENGINE_LOCK_TTL", &cfg.Engine.LockTTL)

	envInt("AGENT_WORKERS", &cfg.Agent.Workers)
	envDuration("AGENT_POLL_INTERVAL", &cfg.Agent.PollInterval)
	envDuration("AGENT_LLM_TIMEOUT", &cfg.Agent.LLMTimeout)
	envInt("AGENT_MAX_TOOL_CALLS", &cfg.Agent.MaxToolCalls)
	envDuration("AGENT_TOOL_TIMEOUT", &cfg.Agent.ToolTimeout)
	envFloat("AGENT_RATE_LIMIT_RPS", &cfg.Agent.RateLimitRPS)

	envDuration("MCP_CALL_TIMEOUT", &cfg.MCP.CallTimeout)
	envDuration("MCP_HEALTH_INTERVAL", &cfg.MCP.HealthInterval)

	envDuration("MONITOR_INTERVAL", &cfg.Monitor.Interval)
	envDuration("MONITOR_STALL_TIMEOUT", &cfg.Monitor.StallTimeout)

	envString("LOG_LEVEL", &cfg.Log.Level)
	envString("LOG_FORMAT", &cfg.Log.Format)

	envBool("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	envString("TELEMETRY_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envStringSlice(key string, dst *[]string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
	}
}
