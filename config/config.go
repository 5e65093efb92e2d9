// Package config loads the FlowForge configuration: defaults, then an
// optional YAML file, then FLOWFORGE_-prefixed environment overrides.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Engine    EngineConfig    `yaml:"engine"`
	Agent     AgentConfig     `yaml:"agent"`
	MCP       MCPConfig       `yaml:"mcp"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds the HTTP listeners.
type ServerConfig struct {
	HTTPPort           int           `yaml:"http_port"`
	MetricsPort        int           `yaml:"metrics_port"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	APIKeys            []string      `yaml:"api_keys"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
	RateLimitRPS       int           `yaml:"rate_limit_rps"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
}

// DatabaseConfig holds the primary database connection.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres, mysql, sqlite
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DSN renders the driver-specific connection string.
func (d DatabaseConfig) DSN() string {
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	default:
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	}
}

// RedisConfig enables the distributed instance lock.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// EngineConfig tunes workflow execution.
type EngineConfig struct {
	MaxRetryCount int           `yaml:"max_retry_count"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
}

// AgentConfig tunes the agent task service.
type AgentConfig struct {
	Workers            int           `yaml:"workers"`
	QueueSize          int           `yaml:"queue_size"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollMaxInterval    time.Duration `yaml:"poll_max_interval"`
	LLMTimeout         time.Duration `yaml:"llm_timeout"`
	MaxToolCalls       int           `yaml:"max_tool_calls"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	RateLimitRPS       float64       `yaml:"rate_limit_rps"`
	ContextTokenBudget int           `yaml:"context_token_budget"`
}

// MCPConfig tunes the tool bridge.
type MCPConfig struct {
	CallTimeout    time.Duration     `yaml:"call_timeout"`
	MaxRetries     int               `yaml:"max_retries"`
	HealthInterval time.Duration     `yaml:"health_interval"`
	URLRewrites    map[string]string `yaml:"url_rewrites"`
}

// MonitorConfig tunes execution monitoring.
type MonitorConfig struct {
	Interval              time.Duration `yaml:"interval"`
	FailureRateThreshold  float64       `yaml:"failure_rate_threshold"`
	PendingDepthThreshold int64         `yaml:"pending_depth_threshold"`
	StallTimeout          time.Duration `yaml:"stall_timeout"`
	AlertBufferSize       int           `yaml:"alert_buffer_size"`
}

// LogConfig controls zap.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// TelemetryConfig controls OTel export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    100,
			RateLimitBurst:  200,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "flowforge",
			Name:            "flowforge",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Engine: EngineConfig{
			MaxRetryCount: 3,
			LockTTL:       10 * time.Minute,
		},
		Agent: AgentConfig{
			Workers:         5,
			QueueSize:       256,
			PollInterval:    15 * time.Second,
			PollMaxInterval: 5 * time.Minute,
			LLMTimeout:      10 * time.Minute,
			MaxToolCalls:    5,
			ToolTimeout:     30 * time.Second,
		},
		MCP: MCPConfig{
			CallTimeout:    30 * time.Second,
			MaxRetries:     2,
			HealthInterval: 60 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:              60 * time.Second,
			FailureRateThreshold:  0.3,
			PendingDepthThreshold: 100,
			StallTimeout:          30 * time.Minute,
			AlertBufferSize:       256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "flowforge",
			SampleRate:  1.0,
		},
	}
}

// Validate checks the configuration before boot.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort == c.Server.HTTPPort {
		return fmt.Errorf("server.metrics_port must differ from http_port")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
	}
	if c.Database.Driver != "sqlite" && c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.Engine.MaxRetryCount < 0 {
		return fmt.Errorf("engine.max_retry_count must not be negative")
	}
	if c.Agent.Workers <= 0 {
		return fmt.Errorf("agent.workers must be positive")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is enabled")
	}
	return nil
}
