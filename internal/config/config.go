package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/seantiz/turnstile/internal/engine"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "turnstile.db"
	defaultLogLevel   = "info"

	defaultUpstreamTimeout = 30 * time.Second

	envPrefix     = "TURNSTILE"
	envConfigFile = "TURNSTILE_CONFIG"
	configName    = "turnstile"
)

// Config holds application configuration loaded from the environment and an
// optional config file.
type Config struct {
	ListenAddr string         `mapstructure:"listen_addr" validate:"required"`
	DBPath     string         `mapstructure:"db_path" validate:"required"`
	LogLevel   string         `mapstructure:"log_level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Upstream   UpstreamConfig `mapstructure:"upstream"`
	Queue      QueueConfig    `mapstructure:"queue"`
}

// UpstreamConfig configures the shared session to the rate-limited upstream.
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// QueueConfig mirrors engine.Config with file/env-friendly names.
type QueueConfig struct {
	MaxConcurrent         int           `mapstructure:"max_concurrent" validate:"gte=1"`
	CooldownPeriod        time.Duration `mapstructure:"cooldown_period" validate:"gte=0"`
	BatchCleanupThreshold int           `mapstructure:"batch_cleanup_threshold" validate:"gte=1"` // minimum 1
	CleanupInterval       time.Duration `mapstructure:"cleanup_interval" validate:"gt=0"`
	HeartbeatTimeout      time.Duration `mapstructure:"heartbeat_timeout" validate:"gt=0"`
	ResultRetention       time.Duration `mapstructure:"result_retention" validate:"gt=0"`
	IdlePoll              time.Duration `mapstructure:"idle_poll" validate:"gt=0"`
	Retry                 RetryConfig   `mapstructure:"retry"`
}

// RetryConfig configures backoff for rate-limited task attempts.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=1"`
	BaseDelay   time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	Step        time.Duration `mapstructure:"step" validate:"gte=0"`
	Jitter      time.Duration `mapstructure:"jitter" validate:"gte=0"`
}

// Engine converts the queue section into engine configuration.
func (q QueueConfig) Engine() engine.Config {
	return engine.Config{
		MaxConcurrent:         q.MaxConcurrent,
		CooldownPeriod:        q.CooldownPeriod,
		BatchCleanupThreshold: q.BatchCleanupThreshold,
		CleanupInterval:       q.CleanupInterval,
		HeartbeatTimeout:      q.HeartbeatTimeout,
		ResultRetention:       q.ResultRetention,
		IdlePoll:              q.IdlePoll,
		Retry: engine.RetryPolicy{
			MaxAttempts: q.Retry.MaxAttempts,
			BaseDelay:   q.Retry.BaseDelay,
			Step:        q.Retry.Step,
			Jitter:      q.Retry.Jitter,
		},
	}
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	return parseLogLevel(c.LogLevel)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", defaultListenAddr)
	v.SetDefault("db_path", defaultDBPath)
	v.SetDefault("log_level", defaultLogLevel)

	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.timeout", defaultUpstreamTimeout)

	d := engine.DefaultConfig()
	v.SetDefault("queue.max_concurrent", d.MaxConcurrent)
	v.SetDefault("queue.cooldown_period", d.CooldownPeriod)
	v.SetDefault("queue.batch_cleanup_threshold", d.BatchCleanupThreshold)
	v.SetDefault("queue.cleanup_interval", d.CleanupInterval)
	v.SetDefault("queue.heartbeat_timeout", d.HeartbeatTimeout)
	v.SetDefault("queue.result_retention", d.ResultRetention)
	v.SetDefault("queue.idle_poll", d.IdlePoll)
	v.SetDefault("queue.retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("queue.retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("queue.retry.step", d.Retry.Step)
	v.SetDefault("queue.retry.jitter", d.Retry.Jitter)
}

// Load reads configuration from defaults, an optional turnstile.yaml (or the
// file named by TURNSTILE_CONFIG), and TURNSTILE_* environment variables, in
// increasing precedence, then validates it.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv(envConfigFile); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
