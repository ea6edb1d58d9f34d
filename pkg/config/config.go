// Package config loads configuration for the ruleset pipeline.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "config.json"
	configEnvVar      = "SRSBOX_CONFIG"
)

// Config contains all runtime options required by the pipeline.
type Config struct {
	Version  int                 `mapstructure:"version"`
	Rulesets map[string][]string `mapstructure:"rulesets"`
	Output   OutputConfig        `mapstructure:"output"`
	Download DownloadConfig      `mapstructure:"download"`
	Filter   FilterConfig        `mapstructure:"filter"`
	Compile  CompileConfig       `mapstructure:"compile"`
	Logging  LoggingConfig       `mapstructure:"logging"`
	Metrics  MetricsConfig       `mapstructure:"metrics"`
}

// OutputConfig holds output directory settings.
type OutputConfig struct {
	JSONDir string `mapstructure:"json_dir"`
	SRSDir  string `mapstructure:"srs_dir"`
}

// DownloadConfig holds fetcher and coordinator settings.
type DownloadConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	MaxRetries  int    `mapstructure:"max_retries"`
	Resume      bool   `mapstructure:"resume"`
	UseCache    bool   `mapstructure:"use_cache"`
	CacheDir    string `mapstructure:"cache_dir"`
	WorkDir     string `mapstructure:"work_dir"`
	UserAgent   string `mapstructure:"user_agent"`

	Timeout   time.Duration `mapstructure:"-"`
	BaseDelay time.Duration `mapstructure:"-"`
	CacheTTL  time.Duration `mapstructure:"-"`
}

// FilterConfig holds rule denylist settings.
type FilterConfig struct {
	Keywords []string `mapstructure:"keywords"`
	Strict   bool     `mapstructure:"strict"`
}

// CompileConfig holds external rule-compiler settings.
type CompileConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Binary  string `mapstructure:"binary"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// MetricsConfig holds the optional Prometheus listener settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ValidateLogLevel ensures the user-provided log level matches the supported set.
func ValidateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", level)
	}
	return nil
}

// ValidateSourceURL confirms that a configured source is an absolute http(s) URL.
func ValidateSourceURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %s: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q in %s", parsed.Scheme, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url %s has no host", raw)
	}
	return nil
}

// Setup loads the JSON configuration file and produces a Config instance.
func Setup() (*Config, error) {
	configPath := defaultConfigPath
	if fromEnv := strings.TrimSpace(os.Getenv(configEnvVar)); fromEnv != "" {
		configPath = fromEnv
	}
	return Load(configPath)
}

// Load reads and validates the configuration at the given path.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = false
	}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var err error
	cfg.Download.Timeout, err = parseDuration(v.GetString("download.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid download.timeout: %w", err)
	}
	cfg.Download.BaseDelay, err = parseDuration(v.GetString("download.base_delay"))
	if err != nil {
		return nil, fmt.Errorf("invalid download.base_delay: %w", err)
	}
	cfg.Download.CacheTTL, err = parseDuration(v.GetString("download.cache_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid download.cache_ttl: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", 1)
	v.SetDefault("output.json_dir", "rule-sets")
	v.SetDefault("output.srs_dir", "rule-sets")
	v.SetDefault("download.concurrency", 5)
	v.SetDefault("download.max_retries", 3)
	v.SetDefault("download.resume", true)
	v.SetDefault("download.use_cache", true)
	v.SetDefault("download.cache_dir", "temp/cache")
	v.SetDefault("download.work_dir", "temp/downloads")
	v.SetDefault("download.timeout", "30s")
	v.SetDefault("download.base_delay", "1s")
	v.SetDefault("download.cache_ttl", "24h")
	v.SetDefault("download.user_agent",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("filter.keywords", []string{"ruleset.skk.moe"})
	v.SetDefault("filter.strict", false)
	v.SetDefault("compile.enabled", false)
	v.SetDefault("compile.binary", "sing-box")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "stdout")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")
}

func parseDuration(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	return time.ParseDuration(raw)
}

func validateConfig(cfg *Config) error {
	if err := ValidateLogLevel(cfg.Logging.Level); err != nil {
		return err
	}

	if cfg.Version < 1 {
		return errors.New("version must be >= 1")
	}

	if len(cfg.Rulesets) == 0 {
		return errors.New("rulesets must contain at least one entry")
	}
	for name, urls := range cfg.Rulesets {
		if strings.TrimSpace(name) == "" {
			return errors.New("ruleset names must not be empty")
		}
		if len(urls) == 0 {
			return fmt.Errorf("ruleset %s has no source urls", name)
		}
		for _, raw := range urls {
			if err := ValidateSourceURL(raw); err != nil {
				return fmt.Errorf("ruleset %s: %w", name, err)
			}
		}
	}

	if cfg.Download.Concurrency < 1 {
		return errors.New("download.concurrency must be >= 1")
	}
	if cfg.Download.MaxRetries < 0 {
		return errors.New("download.max_retries must be >= 0")
	}
	if cfg.Download.Timeout <= 0 {
		return errors.New("download.timeout must be positive")
	}

	if cfg.Compile.Enabled && strings.TrimSpace(cfg.Compile.Binary) == "" {
		return errors.New("compile.binary is required when compile.enabled is set")
	}

	return nil
}
