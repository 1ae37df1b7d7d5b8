package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Store    StoreConfig    `koanf:"store"`
	Analysis AnalysisConfig `koanf:"analysis"`
	Training TrainingConfig `koanf:"training"`
	Pipeline PipelineConfig `koanf:"pipeline"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int           `koanf:"max_conns"`
	MinConns        int           `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	ReportTTL    time.Duration `koanf:"report_ttl"`
}

// StoreConfig tunes the sample store adapter.
type StoreConfig struct {
	PageSize          int     `koanf:"page_size"`
	FetchesPerSecond  float64 `koanf:"fetches_per_second"`
	FetchBurst        int     `koanf:"fetch_burst"`
}

// AnalysisConfig carries every stage threshold. Defaults match the
// analyzer's documented behavior; overriding them is for experimentation,
// not production tuning.
type AnalysisConfig struct {
	OutlierZScore            float64       `koanf:"outlier_z_score"`
	MinTrendSamples          int           `koanf:"min_trend_samples"`
	TrendConfidence          float64       `koanf:"trend_confidence"`
	TrendMagnitude           float64       `koanf:"trend_magnitude"`
	FluctuationCV            float64       `koanf:"fluctuation_cv"`
	PatternConfidence        float64       `koanf:"pattern_confidence"`
	PatternMinDays           int           `koanf:"pattern_min_days"`
	CorrelationMinOverlap    int           `koanf:"correlation_min_overlap"`
	CorrelationSignificance  float64       `koanf:"correlation_significance"`
	AlignmentTolerance       time.Duration `koanf:"alignment_tolerance"`
}

type TrainingConfig struct {
	MinSamples      int     `koanf:"min_samples"`
	ValidationSplit float64 `koanf:"validation_split"`
}

type PipelineConfig struct {
	Workers         int           `koanf:"workers"`
	WindowSpan      time.Duration `koanf:"window_span"`
	HistoryCapacity int           `koanf:"history_capacity"`
	EventBuffer     int           `koanf:"event_buffer"`
	DefaultDeadline time.Duration `koanf:"default_deadline"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:           0,
			PoolSize:     5,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			ReportTTL:    24 * time.Hour,
		},
		Store: StoreConfig{
			PageSize:         500,
			FetchesPerSecond: 20,
			FetchBurst:       5,
		},
		Analysis: AnalysisConfig{
			OutlierZScore:           3.0,
			MinTrendSamples:         10,
			TrendConfidence:         0.8,
			TrendMagnitude:          0.1,
			FluctuationCV:           0.15,
			PatternConfidence:       0.8,
			PatternMinDays:          5,
			CorrelationMinOverlap:   10,
			CorrelationSignificance: 0.7,
			AlignmentTolerance:      5 * time.Minute,
		},
		Training: TrainingConfig{
			MinSamples:      20,
			ValidationSplit: 0.2,
		},
		Pipeline: PipelineConfig{
			Workers:         runtime.NumCPU(),
			WindowSpan:      7 * 24 * time.Hour,
			HistoryCapacity: 30,
			EventBuffer:     16,
			DefaultDeadline: 5 * time.Minute,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	// Double underscore separates nesting levels because key names contain
	// single underscores: HIE_ANALYSIS__OUTLIER_Z_SCORE=4 overrides
	// analysis.outlier_z_score.
	if err := k.Load(env.Provider("HIE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, "HIE_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects threshold values the pipeline cannot operate with.
func (c *Config) Validate() error {
	if c.Analysis.OutlierZScore <= 0 {
		return fmt.Errorf("analysis.outlier_z_score must be positive")
	}
	if c.Analysis.TrendConfidence < 0 || c.Analysis.TrendConfidence > 1 {
		return fmt.Errorf("analysis.trend_confidence must be in [0,1]")
	}
	if c.Analysis.PatternConfidence < 0 || c.Analysis.PatternConfidence > 1 {
		return fmt.Errorf("analysis.pattern_confidence must be in [0,1]")
	}
	if c.Analysis.CorrelationMinOverlap < 3 {
		return fmt.Errorf("analysis.correlation_min_overlap must be >= 3")
	}
	if c.Training.ValidationSplit <= 0 || c.Training.ValidationSplit >= 1 {
		return fmt.Errorf("training.validation_split must be in (0,1)")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1")
	}
	if c.Pipeline.HistoryCapacity < 1 {
		return fmt.Errorf("pipeline.history_capacity must be >= 1")
	}
	return nil
}
