package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Facts     FactsConfig     `yaml:"facts" mapstructure:"facts"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	ExtractModel   string `yaml:"extract_model" mapstructure:"extract_model"`
	RecoveryModel  string `yaml:"recovery_model" mapstructure:"recovery_model"`
	EditorialModel string `yaml:"editorial_model" mapstructure:"editorial_model"`
}

// FactsConfig holds the standardized financial-facts provider settings.
type FactsConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// PipelineConfig configures summary generation behavior. The coverage
// threshold and recovery concurrency are policy values, deliberately
// configuration rather than constants.
type PipelineConfig struct {
	CoverageThreshold     int `yaml:"coverage_threshold" mapstructure:"coverage_threshold"`
	RecoveryConcurrency   int `yaml:"recovery_concurrency" mapstructure:"recovery_concurrency"`
	ExtractionTimeoutSecs int `yaml:"extraction_timeout_secs" mapstructure:"extraction_timeout_secs"`
	RecoveryTimeoutSecs   int `yaml:"recovery_timeout_secs" mapstructure:"recovery_timeout_secs"`
	SynthesisTimeoutSecs  int `yaml:"synthesis_timeout_secs" mapstructure:"synthesis_timeout_secs"`
	HeartbeatSecs         int `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs"`
	ExcerptBudgetChars    int `yaml:"excerpt_budget_chars" mapstructure:"excerpt_budget_chars"`
	RecoveryExcerptChars  int `yaml:"recovery_excerpt_chars" mapstructure:"recovery_excerpt_chars"`
}

// CacheConfig configures the financial-facts cache.
type CacheConfig struct {
	TTLHours              int `yaml:"ttl_hours" mapstructure:"ttl_hours"`
	SweepIntervalMins     int `yaml:"sweep_interval_mins" mapstructure:"sweep_interval_mins"`
	InvalidateScanCap     int `yaml:"invalidate_scan_cap" mapstructure:"invalidate_scan_cap"`
	InvalidateTimeoutSecs int `yaml:"invalidate_timeout_secs" mapstructure:"invalidate_timeout_secs"`
}

// TTL returns the cache TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FILINGSUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.extract_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.recovery_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.editorial_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("facts.base_url", "https://data.sec.gov")
	v.SetDefault("facts.rate_per_sec", 8.0)
	v.SetDefault("facts.timeout_secs", 15)
	v.SetDefault("pipeline.coverage_threshold", 3)
	v.SetDefault("pipeline.recovery_concurrency", 4)
	v.SetDefault("pipeline.extraction_timeout_secs", 120)
	v.SetDefault("pipeline.recovery_timeout_secs", 45)
	v.SetDefault("pipeline.synthesis_timeout_secs", 90)
	v.SetDefault("pipeline.heartbeat_secs", 10)
	v.SetDefault("pipeline.excerpt_budget_chars", 48000)
	v.SetDefault("pipeline.recovery_excerpt_chars", 12000)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.sweep_interval_mins", 30)
	v.SetDefault("cache.invalidate_scan_cap", 10000)
	v.SetDefault("cache.invalidate_timeout_secs", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
