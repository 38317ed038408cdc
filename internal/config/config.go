// Package config provides configuration loading, validation, and defaults
// for the messaging engine. It reads config.yaml and ENGINE_* environment
// variables via viper and validates the result with go-playground/validator.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config defines the application configuration parameters for all
// components of the engine.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	AI        AIConfig        `mapstructure:"ai"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" validate:"required"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"min=1s"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"min=1s"`
}

// DatabaseConfig controls the SQLite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// AIConfig controls the Gemini draft client.
type AIConfig struct {
	APIKey             string        `mapstructure:"api_key"`
	Model              string        `mapstructure:"model" validate:"required"`
	Temperature        float32       `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxRetries         int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" validate:"min=100ms"`
	MaxHistory         int           `mapstructure:"max_history" validate:"min=1,max=500"`
	DefaultTimeout     time.Duration `mapstructure:"default_timeout" validate:"min=1s,max=10m"`
	DefaultInstruction string        `mapstructure:"default_instruction"`
}

// DispatchConfig controls outbound channel delivery retries.
type DispatchConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"min=50ms"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"min=1s"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"min=1s"`
}

// NotifyConfig controls the notification collaborators. Both transports are
// optional; an empty URL/token disables the corresponding notifier.
type NotifyConfig struct {
	AMQPURL       string `mapstructure:"amqp_url"`
	Exchange      string `mapstructure:"exchange"`
	TelegramToken string `mapstructure:"telegram_token"`
}

// SchedulerConfig holds cron schedules for recurring tasks, keyed by task
// name as registered in the task registry.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables and schedules a single recurring task.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// LoadConfig reads configuration from the given path, layering defaults,
// the YAML file (optional), and ENGINE_* environment variables, then
// validates the result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !strings.Contains(err.Error(), "no such file") {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// Missing config file is fine, defaults + env apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.path", "engine.db")

	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.retry_delay", 2*time.Second)
	v.SetDefault("ai.max_history", 50)
	v.SetDefault("ai.default_timeout", 30*time.Second)
	v.SetDefault("ai.default_instruction",
		"You are a helpful customer support assistant. Keep replies short, factual and friendly.")

	v.SetDefault("dispatch.max_attempts", 3)
	v.SetDefault("dispatch.initial_backoff", 500*time.Millisecond)
	v.SetDefault("dispatch.max_backoff", 10*time.Second)
	v.SetDefault("dispatch.request_timeout", 30*time.Second)

	v.SetDefault("notify.exchange", "engine.notifications")

	v.SetDefault("scheduler.tasks", map[string]TaskConfig{
		"time_elapsed_sweep": {Enabled: true, Schedule: "0 * * * * *"},
		"sql_maintenance":    {Enabled: true, Schedule: "0 0 4 * * *"},
	})
}
