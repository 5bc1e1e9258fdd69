package domain

import (
	"time"
)

// Config represents the main application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Training   TrainingConfig   `mapstructure:"training"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	RateLimit    float64       `mapstructure:"rate_limit"`
	RateBurst    int           `mapstructure:"rate_burst"`
}

// TrainingConfig controls synthetic corpus generation and model fitting.
// Seed 0 means randomized per process start.
type TrainingConfig struct {
	Size int   `mapstructure:"size"`
	Seed int64 `mapstructure:"seed"`
}

// ThresholdsConfig holds the calibrated decision thresholds. These are
// configuration rather than constants so they can be recalibrated against
// validation data without a code change.
type ThresholdsConfig struct {
	// AnomalyQuantile is the quantile of training-corpus anomaly scores used
	// as the is_anomalous cutoff.
	AnomalyQuantile float64 `mapstructure:"anomaly_quantile"`
	// DisorderConfidence is the minimum classifier confidence at which a
	// non-none prediction is considered actionable.
	DisorderConfidence float64 `mapstructure:"disorder_confidence"`
	// HbA1cDelta is the largest reported-vs-corrected difference, in absolute
	// percentage points, still regarded as clinically insignificant.
	HbA1cDelta float64 `mapstructure:"hba1c_delta"`
}

// AuditConfig configures the append-only assessment audit store.
type AuditConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Path        string `mapstructure:"path"`
	RecentLimit int    `mapstructure:"recent_limit"`
}

// CacheConfig configures the assessment result cache. Caching is safe because
// inference is deterministic for a given trained model.
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Size    int  `mapstructure:"size"`
}

// LoggingConfig represents logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
