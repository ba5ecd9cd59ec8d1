// Package config provides configuration management for the studio backend.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the studio backend.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds the SQLite database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means the in-memory event bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// RedisConfig holds the optional Redis connection used for short-lived
// reply state. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AgentConfig holds the agent subprocess configuration.
type AgentConfig struct {
	// Binary is the agent executable spawned per reply.
	Binary string `mapstructure:"binary"`

	// SettingsPath points to the agent settings document (hidden tools,
	// display names, model defaults).
	SettingsPath string `mapstructure:"settingsPath"`

	// CallbackURL is the base URL the agent posts its events back to.
	// Defaults to http://localhost:{server.port}.
	CallbackURL string `mapstructure:"callbackUrl"`

	// CallbackToken is the shared secret required on /trpc callbacks.
	// Empty disables the check (localhost deployments).
	CallbackToken string `mapstructure:"callbackToken"`

	// Workspace is the working directory handed to the subprocess.
	Workspace string `mapstructure:"workspace"`

	// Mode selects the agent entry point: direct or coordinator.
	Mode string `mapstructure:"mode"`

	LLMProvider string `mapstructure:"llmProvider"`
	ModelName   string `mapstructure:"modelName"`
	APIKey      string `mapstructure:"apiKey"`

	// KillGrace is the delay in seconds between the soft and hard kill
	// when a reply is interrupted.
	KillGrace int `mapstructure:"killGrace"`
}

// StorageConfig holds uploaded-file storage configuration.
type StorageConfig struct {
	UploadRoot    string `mapstructure:"uploadRoot"`
	RetentionDays int    `mapstructure:"retentionDays"`
}

// AuthConfig holds the development identity settings. Real authentication
// terminates upstream; handlers only read the authenticated user id.
type AuthConfig struct {
	// DevUserHeader names the header carrying the user id in development.
	DevUserHeader string `mapstructure:"devUserHeader"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// KillGraceDuration returns the soft-to-hard kill delay as a time.Duration.
func (a *AgentConfig) KillGraceDuration() time.Duration {
	return time.Duration(a.KillGrace) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("STUDIO_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	// SSE streams stay open for the lifetime of a reply; the write timeout
	// must not cut them off.
	v.SetDefault("server.writeTimeout", 0)

	// Database defaults
	v.SetDefault("database.path", "./studio.db")

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "studio-backend")
	v.SetDefault("nats.maxReconnects", 10)

	// Redis defaults - empty addr disables the reply KV state
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Agent defaults
	v.SetDefault("agent.binary", "./agent")
	v.SetDefault("agent.settingsPath", "./agents.yaml")
	v.SetDefault("agent.callbackUrl", "")
	v.SetDefault("agent.callbackToken", "")
	v.SetDefault("agent.workspace", ".")
	v.SetDefault("agent.mode", "direct")
	v.SetDefault("agent.llmProvider", "dashscope")
	v.SetDefault("agent.modelName", "qwen3-max-preview")
	v.SetDefault("agent.apiKey", "")
	v.SetDefault("agent.killGrace", 5)

	// Storage defaults
	v.SetDefault("storage.uploadRoot", "./uploads")
	v.SetDefault("storage.retentionDays", 7)

	// Auth defaults
	v.SetDefault("auth.devUserHeader", "X-User-ID")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix STUDIO_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/studio/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("STUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("agent.binary", "STUDIO_AGENT_BINARY")
	_ = v.BindEnv("agent.apiKey", "STUDIO_AGENT_API_KEY")
	_ = v.BindEnv("agent.callbackToken", "STUDIO_AGENT_CALLBACK_TOKEN")
	_ = v.BindEnv("database.path", "STUDIO_DB_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/studio/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if cfg.Agent.Binary == "" {
		errs = append(errs, "agent.binary is required")
	}
	if cfg.Agent.Mode != "direct" && cfg.Agent.Mode != "coordinator" {
		errs = append(errs, "agent.mode must be direct or coordinator")
	}
	if cfg.Agent.KillGrace <= 0 {
		errs = append(errs, "agent.killGrace must be positive")
	}

	if cfg.Storage.RetentionDays <= 0 {
		errs = append(errs, "storage.retentionDays must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// ResolvedCallbackURL returns the callback base URL the agent subprocess
// should post to, defaulting to the local server address.
func (c *Config) ResolvedCallbackURL() string {
	if c.Agent.CallbackURL != "" {
		return c.Agent.CallbackURL
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.Port)
}
