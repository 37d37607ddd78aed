// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	System      SystemConfig     `yaml:"system"`
	Server      ServerConfig     `yaml:"server"`
	Database    DatabaseConfig   `yaml:"database"`
	MarketData  MarketDataConfig `yaml:"market_data"`
	Execution   ExecutionConfig  `yaml:"execution"`
	Strategies  []StrategyConfig `yaml:"strategies"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ServerConfig contains the control plane HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig contains persistence settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MarketDataConfig contains market data API settings
type MarketDataConfig struct {
	GammaBaseURL      string  `yaml:"gamma_base_url"`
	ClobBaseURL       string  `yaml:"clob_base_url"`
	RequestTimeoutSec int     `yaml:"request_timeout_seconds"`
	RateLimitRPS      float64 `yaml:"rate_limit_rps"`
}

// ExecutionConfig contains order execution settings
type ExecutionConfig struct {
	APIKey     string `yaml:"api_key"`
	Secret     string `yaml:"secret"`
	Passphrase string `yaml:"passphrase"`
	// MaxWorkers bounds concurrent live order submissions.
	MaxWorkers int `yaml:"max_workers"`
}

// StrategyConfig describes one strategy run started at boot.
type StrategyConfig struct {
	Name                     string                 `yaml:"name"`
	Strategy                 string                 `yaml:"strategy"`
	AllocationUSD            float64                `yaml:"allocation_usd"`
	RebalanceIntervalSeconds int                    `yaml:"rebalance_interval_seconds"`
	Paper                    bool                   `yaml:"paper"`
	Parameters               map[string]interface{} `yaml:"parameters"`
}

// RebalanceInterval returns the configured interval as a duration.
func (s StrategyConfig) RebalanceInterval() time.Duration {
	return time.Duration(s.RebalanceIntervalSeconds) * time.Second
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name"`
	EnableMetrics bool   `yaml:"enable_metrics"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	ExecutionPoolBuffer int `yaml:"execution_pool_buffer"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := os.Expand(string(data), os.Getenv)

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateDatabaseConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateExecutionConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateStrategies(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateDatabaseConfig() error {
	if c.Database.Path == "" {
		return ValidationError{
			Field:   "database.path",
			Message: "database path is required",
		}
	}
	return nil
}

func (c *Config) validateExecutionConfig() error {
	if c.Execution.MaxWorkers <= 0 {
		return ValidationError{
			Field:   "execution.max_workers",
			Value:   c.Execution.MaxWorkers,
			Message: "must be positive",
		}
	}

	// Live strategies need venue credentials; all-paper configs do not.
	allPaper := true
	for _, s := range c.Strategies {
		if !s.Paper {
			allPaper = false
			break
		}
	}
	if !allPaper && c.Execution.APIKey == "" {
		return ValidationError{
			Field:   "execution.api_key",
			Message: "API key is required when any strategy runs live",
		}
	}

	return nil
}

func (c *Config) validateStrategies() error {
	seen := make(map[string]bool)
	for i, s := range c.Strategies {
		if s.Name == "" {
			return ValidationError{
				Field:   fmt.Sprintf("strategies[%d].name", i),
				Message: "strategy run name is required",
			}
		}
		if seen[s.Name] {
			return ValidationError{
				Field:   fmt.Sprintf("strategies[%d].name", i),
				Value:   s.Name,
				Message: "duplicate strategy run name",
			}
		}
		seen[s.Name] = true

		if s.Strategy == "" {
			return ValidationError{
				Field:   fmt.Sprintf("strategies[%d].strategy", i),
				Message: "strategy type is required",
			}
		}
		if s.AllocationUSD <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("strategies[%d].allocation_usd", i),
				Value:   s.AllocationUSD,
				Message: "allocation must be positive",
			}
		}
		if s.RebalanceIntervalSeconds <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("strategies[%d].rebalance_interval_seconds", i),
				Value:   s.RebalanceIntervalSeconds,
				Message: "rebalance interval must be positive",
			}
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Execution.APIKey = maskString(c.Execution.APIKey)
	configCopy.Execution.Secret = maskString(c.Execution.Secret)
	configCopy.Execution.Passphrase = maskString(c.Execution.Passphrase)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

// Helper functions

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the baseline configuration that file values overlay.
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "portfolio_trader.db",
		},
		MarketData: MarketDataConfig{
			GammaBaseURL:      "https://gamma-api.polymarket.com",
			ClobBaseURL:       "https://clob.polymarket.com",
			RequestTimeoutSec: 10,
			RateLimitRPS:      5,
		},
		Execution: ExecutionConfig{
			MaxWorkers: 10,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "portfolio_trader",
			EnableMetrics: true,
		},
		Concurrency: ConcurrencyConfig{
			ExecutionPoolBuffer: 100,
		},
	}
}
