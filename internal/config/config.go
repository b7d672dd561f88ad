// Package config provides configuration management for the backtester.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"hs-backtest/internal/analysis"
	apperrors "hs-backtest/internal/errors"
	"hs-backtest/internal/logging"
)

// Config holds all application configuration.
type Config struct {
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	Extrema    ExtremaConfig    `mapstructure:"extrema"`
	Patterns   PatternsConfig   `mapstructure:"patterns"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Data       DataConfig       `mapstructure:"data"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	UI         UIConfig         `mapstructure:"ui"`
}

// AnalysisConfig holds smoothing configuration.
type AnalysisConfig struct {
	Bandwidth    string  `mapstructure:"bandwidth"`  // "cv_ls" or a number of bars
	Regression   string  `mapstructure:"regression"` // "ll" or "lc"
	MinBandwidth float64 `mapstructure:"min_bandwidth"`
	MaxBandwidth float64 `mapstructure:"max_bandwidth"` // 0 = automatic
	GridSize     int     `mapstructure:"grid_size"`
}

// ExtremaConfig holds extrema extraction configuration.
type ExtremaConfig struct {
	CollapseRuns bool `mapstructure:"collapse_runs"`
}

// PatternsConfig holds pattern matching thresholds.
type PatternsConfig struct {
	MaxSpan           int     `mapstructure:"max_span"`
	ShoulderTolerance float64 `mapstructure:"shoulder_tolerance"`
	RatioMin          float64 `mapstructure:"ratio_min"`
	RatioMax          float64 `mapstructure:"ratio_max"`
	MinProminence     float64 `mapstructure:"min_prominence"`
}

// SimulationConfig holds profit simulation configuration.
type SimulationConfig struct {
	MaxHoldBars int `mapstructure:"max_hold_bars"`
	Workers     int `mapstructure:"workers"`
}

// DataConfig selects where price histories come from.
type DataConfig struct {
	Source    string  `mapstructure:"source"` // csv, yahoo, store
	Symbol    string  `mapstructure:"symbol"`
	CSVPath   string  `mapstructure:"csv_path"`
	Start     string  `mapstructure:"start"` // YYYY-MM-DD, empty = open
	End       string  `mapstructure:"end"`
	Interval  string  `mapstructure:"interval"`
	ProxyURL  string  `mapstructure:"proxy_url"`
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second
}

// StoreConfig holds database configuration.
type StoreConfig struct {
	Path    string `mapstructure:"path"`
	SaveRun bool   `mapstructure:"save_runs"`
}

// LoggingConfig mirrors logging.LogConfig.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/hs-backtest"
	}
	return filepath.Join(home, ".config", "hs-backtest")
}

// ConfigPath returns the config file path inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. A missing
// config.toml is created from the template and defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env in the config dir, then the working directory; neither is required.
	_ = godotenv.Load(filepath.Join(configDir, ".env"))
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config.toml: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.Store.Path = expandHome(cfg.Store.Path)
	cfg.Data.CSVPath = expandHome(cfg.Data.CSVPath)
	cfg.Logging.FilePath = expandHome(cfg.Logging.FilePath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration rooted at configDir.
func Default(configDir string) *Config {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	v := viper.New()
	setDefaults(v, configDir)

	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("analysis.bandwidth", analysis.CrossValidationLS)
	v.SetDefault("analysis.regression", "ll")
	v.SetDefault("analysis.min_bandwidth", 0.5)
	v.SetDefault("analysis.max_bandwidth", 0.0)
	v.SetDefault("analysis.grid_size", 24)

	v.SetDefault("extrema.collapse_runs", false)

	v.SetDefault("patterns.max_span", 30)
	v.SetDefault("patterns.shoulder_tolerance", 0.04)
	v.SetDefault("patterns.ratio_min", 0.25)
	v.SetDefault("patterns.ratio_max", 0.7)
	v.SetDefault("patterns.min_prominence", 0.03)

	v.SetDefault("simulation.max_hold_bars", 0)
	v.SetDefault("simulation.workers", 1)

	v.SetDefault("data.source", "yahoo")
	v.SetDefault("data.symbol", "SPY")
	v.SetDefault("data.interval", "1d")
	v.SetDefault("data.rate_limit", 2.0)

	v.SetDefault("store.path", filepath.Join(configDir, "hsbt.db"))
	v.SetDefault("store.save_runs", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "hsbt.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "2006-01-02")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HSBT_SYMBOL"); v != "" {
		cfg.Data.Symbol = v
	}
	if v := os.Getenv("HSBT_DATA_SOURCE"); v != "" {
		cfg.Data.Source = v
	}
	if v := os.Getenv("HSBT_CSV_PATH"); v != "" {
		cfg.Data.CSVPath = v
	}
	if v := os.Getenv("HSBT_BANDWIDTH"); v != "" {
		cfg.Analysis.Bandwidth = v
	}
	if v := os.Getenv("HSBT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Simulation.Workers = n
		}
	}
	if v := os.Getenv("HSBT_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("HSBT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HSBT_PROXY_URL"); v != "" {
		cfg.Data.ProxyURL = v
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if _, err := analysis.ParseBandwidth(c.Analysis.Bandwidth); err != nil {
		return apperrors.NewValidationError("analysis.bandwidth", c.Analysis.Bandwidth, err.Error())
	}
	if c.Analysis.Regression != "ll" && c.Analysis.Regression != "lc" {
		return apperrors.NewValidationError("analysis.regression", c.Analysis.Regression, "must be 'll' or 'lc'")
	}
	if c.Analysis.MinBandwidth <= 0 {
		return apperrors.NewValidationError("analysis.min_bandwidth", c.Analysis.MinBandwidth, "must be positive")
	}
	if c.Analysis.MaxBandwidth != 0 && c.Analysis.MaxBandwidth <= c.Analysis.MinBandwidth {
		return apperrors.NewValidationError("analysis.max_bandwidth", c.Analysis.MaxBandwidth, "must exceed min_bandwidth or be 0")
	}

	if c.Patterns.MaxSpan <= 0 {
		return apperrors.NewValidationError("patterns.max_span", c.Patterns.MaxSpan, "must be positive")
	}
	if c.Patterns.ShoulderTolerance <= 0 || c.Patterns.ShoulderTolerance >= 1 {
		return apperrors.NewValidationError("patterns.shoulder_tolerance", c.Patterns.ShoulderTolerance, "must be between 0 and 1")
	}
	if c.Patterns.RatioMin <= 0 || c.Patterns.RatioMax <= c.Patterns.RatioMin {
		return apperrors.NewValidationError("patterns.ratio_max", c.Patterns.RatioMax, "need 0 < ratio_min < ratio_max")
	}
	if c.Patterns.MinProminence <= 0 {
		return apperrors.NewValidationError("patterns.min_prominence", c.Patterns.MinProminence, "must be positive")
	}

	if c.Simulation.MaxHoldBars < 0 {
		return apperrors.NewValidationError("simulation.max_hold_bars", c.Simulation.MaxHoldBars, "must be non-negative")
	}
	if c.Simulation.Workers < 0 {
		return apperrors.NewValidationError("simulation.workers", c.Simulation.Workers, "must be non-negative")
	}

	switch c.Data.Source {
	case "csv":
		if c.Data.CSVPath == "" {
			return apperrors.NewValidationError("data.csv_path", c.Data.CSVPath, "required when source is csv")
		}
	case "yahoo", "store":
	default:
		return apperrors.NewValidationError("data.source", c.Data.Source, "must be csv, yahoo or store")
	}
	if _, _, err := c.Data.Range(); err != nil {
		return apperrors.NewValidationError("data.start", c.Data.Start+".."+c.Data.End, err.Error())
	}

	return nil
}

// Range parses Start and End. Empty values give zero times.
func (d DataConfig) Range() (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if d.Start != "" {
		if from, err = time.Parse("2006-01-02", d.Start); err != nil {
			return from, to, fmt.Errorf("invalid start date %q", d.Start)
		}
	}
	if d.End != "" {
		if to, err = time.Parse("2006-01-02", d.End); err != nil {
			return from, to, fmt.Errorf("invalid end date %q", d.End)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return from, to, fmt.Errorf("end %s is before start %s", d.End, d.Start)
	}
	return from, to, nil
}

// LogConfig converts the logging section for the logging package.
func (c *Config) LogConfig() logging.LogConfig {
	return logging.LogConfig{
		Level:      c.Logging.Level,
		Console:    c.Logging.Console,
		File:       c.Logging.File,
		FilePath:   c.Logging.FilePath,
		MaxSize:    c.Logging.MaxSize,
		MaxBackups: c.Logging.MaxBackups,
		MaxAge:     c.Logging.MaxAge,
	}
}
