package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/hba1c-validation-server/internal/domain"
)

// Manager loads and validates application configuration using Viper.
type Manager struct {
	config *domain.Config
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	m := &Manager{}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from file, environment and defaults.
func (m *Manager) loadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/hba1c-validation-server/")

	viper.SetEnvPrefix("HBA1C")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	m.setDefaults()

	// Config file is optional - defaults and env vars cover everything
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := viper.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values.
func (m *Manager) setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 5000)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.rate_limit", 50)
	viper.SetDefault("server.rate_burst", 100)

	viper.SetDefault("training.size", 1000)
	viper.SetDefault("training.seed", 0)

	viper.SetDefault("thresholds.anomaly_quantile", 0.95)
	viper.SetDefault("thresholds.disorder_confidence", 0.5)
	viper.SetDefault("thresholds.hba1c_delta", 0.3)

	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.path", "./data/assessments.db")
	viper.SetDefault("audit.recent_limit", 50)

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.size", 1024)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration.
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration.
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetThresholds returns the decision thresholds.
func (m *Manager) GetThresholds() *domain.ThresholdsConfig {
	return &m.config.Thresholds
}

// Validate validates the configuration.
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Training.Size <= 0 {
		return fmt.Errorf("training size must be positive, got %d", config.Training.Size)
	}

	if config.Thresholds.AnomalyQuantile <= 0 || config.Thresholds.AnomalyQuantile >= 1 {
		return fmt.Errorf("anomaly quantile must be in (0, 1), got %f", config.Thresholds.AnomalyQuantile)
	}
	if config.Thresholds.DisorderConfidence <= 0 || config.Thresholds.DisorderConfidence > 1 {
		return fmt.Errorf("disorder confidence threshold must be in (0, 1], got %f", config.Thresholds.DisorderConfidence)
	}
	if config.Thresholds.HbA1cDelta <= 0 {
		return fmt.Errorf("hba1c delta bound must be positive, got %f", config.Thresholds.HbA1cDelta)
	}

	if config.Audit.Enabled && config.Audit.Path == "" {
		return fmt.Errorf("audit store path is required when audit is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}
