// Package config provides configuration management for the quiz engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	qerrors "candle-quiz/internal/errors"
	"candle-quiz/internal/logging"
	"candle-quiz/internal/models"
	"candle-quiz/internal/resilience"
	"candle-quiz/internal/store"
	"candle-quiz/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	Session       SessionConfig      `mapstructure:"session"`
	Generator     GeneratorConfig    `mapstructure:"generator"`
	Store         StoreConfig        `mapstructure:"store"`
	Logging       logging.LogConfig  `mapstructure:"logging"`
	Server        ServerConfig       `mapstructure:"server"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// SessionConfig holds the quiz session defaults.
type SessionConfig struct {
	Difficulty     string        `mapstructure:"difficulty" validate:"oneof=Easy Medium Hard"`
	Candles        int           `mapstructure:"candles" validate:"min=2,max=5"`
	Horizon        int           `mapstructure:"horizon" validate:"oneof=1 3"`
	UseLocalOnFail bool          `mapstructure:"use_local_on_fail"`
	InitialLocal   int           `mapstructure:"initial_local" validate:"min=0,max=20"`
	Variants       int           `mapstructure:"variants" validate:"min=1,max=1000"`
	BatchSize      int           `mapstructure:"batch_size" validate:"min=1,max=20"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout" validate:"min=0"`
}

// GeneratorConfig configures the external item generator.
type GeneratorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Model          string        `mapstructure:"model" validate:"required_if=Enabled true"`
	BaseURL        string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"min=0"`
	MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" validate:"min=0"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" validate:"min=0"`

	// Consecutive failed calls that open the circuit, and how long it
	// stays open before a probe call is let through.
	BreakerThreshold int           `mapstructure:"breaker_threshold" validate:"min=1"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown" validate:"min=0"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string      `mapstructure:"backend" validate:"oneof=sqlite redis memory"`
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"min=0"`
	Prefix   string `mapstructure:"prefix"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Terminal bool          `mapstructure:"terminal"`
	Bell     bool          `mapstructure:"bell"`
	Webhook  WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url" validate:"required_if=Enabled true,omitempty,url"`
}

// Credentials holds API credentials.
type Credentials struct {
	Generator GeneratorCredentials `mapstructure:"generator"`
}

// GeneratorCredentials holds the external generator API key.
type GeneratorCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/candle-quiz"
	}
	return filepath.Join(home, ".config", "candle-quiz")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing
// files are created from templates and defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(configDir, "data", "quiz.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("session.difficulty", string(models.DifficultyMedium))
	v.SetDefault("session.candles", 3)
	v.SetDefault("session.horizon", 3)
	v.SetDefault("session.use_local_on_fail", true)
	v.SetDefault("session.initial_local", 5)
	v.SetDefault("session.variants", 50)
	v.SetDefault("session.batch_size", 20)
	v.SetDefault("session.batch_timeout", "2m")

	v.SetDefault("generator.enabled", true)
	v.SetDefault("generator.model", "gpt-4o-mini")
	v.SetDefault("generator.timeout", "60s")
	v.SetDefault("generator.max_attempts", 3)
	v.SetDefault("generator.initial_backoff", "300ms")
	v.SetDefault("generator.max_backoff", "10s")
	v.SetDefault("generator.breaker_threshold", 5)
	v.SetDefault("generator.breaker_cooldown", "30s")

	v.SetDefault("store.backend", store.BackendSQLite)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.prefix", "quiz")

	def := logging.DefaultLogConfig()
	v.SetDefault("logging.level", def.Level)
	v.SetDefault("logging.console", def.Console)
	v.SetDefault("logging.file", def.File)
	v.SetDefault("logging.file_path", def.FilePath)
	v.SetDefault("logging.max_size", def.MaxSize)
	v.SetDefault("logging.max_backups", def.MaxBackups)
	v.SetDefault("logging.max_age", def.MaxAge)

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "90s")

	v.SetDefault("notifications.terminal", true)
}

func loadConfigFile(configDir string, target *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Credentials.Generator.APIKey = v
	}
	if v := os.Getenv("QUIZ_API_KEY"); v != "" {
		cfg.Credentials.Generator.APIKey = v
	}
	if v := os.Getenv("QUIZ_DIFFICULTY"); v != "" {
		cfg.Session.Difficulty = string(models.ParseDifficulty(v))
	}
	if v := os.Getenv("QUIZ_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = strings.ToLower(v)
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if qerrors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return qerrors.Wrap(qerrors.ErrConfigInvalid, strings.Join(msgs, "; "))
		}
		return qerrors.Wrap(qerrors.ErrConfigInvalid, err.Error())
	}
	return nil
}

// Settings returns the default session settings.
func (c *Config) Settings() models.Settings {
	return models.Settings{
		Difficulty: models.ParseDifficulty(c.Session.Difficulty),
		Candles:    c.Session.Candles,
		Horizon:    c.Session.Horizon,
	}.Normalized()
}

// HasGenerator reports whether the external generator can be used.
func (c *Config) HasGenerator() bool {
	return c.Generator.Enabled && c.Credentials.Generator.APIKey != ""
}

// RetryConfig returns the retry policy for single external requests.
func (c *Config) RetryConfig() utils.RetryConfig {
	rc := utils.DefaultRetryConfig()
	rc.MaxAttempts = c.Generator.MaxAttempts
	if c.Generator.InitialBackoff > 0 {
		rc.InitialDelay = c.Generator.InitialBackoff
	}
	if c.Generator.MaxBackoff > 0 {
		rc.MaxDelay = c.Generator.MaxBackoff
	}
	return rc
}

// BreakerConfig returns the circuit breaker guarding external calls.
func (c *Config) BreakerConfig() resilience.CircuitBreakerConfig {
	bc := resilience.DefaultCircuitBreakerConfig()
	if c.Generator.BreakerThreshold > 0 {
		bc.FailureThreshold = c.Generator.BreakerThreshold
	}
	if c.Generator.BreakerCooldown > 0 {
		bc.Timeout = c.Generator.BreakerCooldown
	}
	return bc
}

// StoreOptions returns the persistence backend options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		Backend:       c.Store.Backend,
		Path:          c.Store.Path,
		RedisAddr:     c.Store.Redis.Addr,
		RedisPassword: c.Store.Redis.Password,
		RedisDB:       c.Store.Redis.DB,
		RedisPrefix:   c.Store.Redis.Prefix,
	}
}
