package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// configWithRetryDefault is used for proper default handling of retryEnabled
type configWithRetryDefault struct {
	Config          `yaml:",inline"`
	RetryEnabledPtr *bool `json:"retryEnabled" yaml:"retryEnabled"`
}

// Load reads and parses the configuration file.
// Files ending in .yaml or .yml are parsed as YAML, anything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var rawCfg configWithRetryDefault
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &rawCfg)
	default:
		err = json.Unmarshal(data, &rawCfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &rawCfg.Config

	// Handle retryEnabled default
	if rawCfg.RetryEnabledPtr != nil {
		cfg.RetryEnabled = *rawCfg.RetryEnabledPtr
	} else {
		cfg.RetryEnabled = DefaultRetryEnabled
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = DefaultLogFormat
	}
	if cfg.PerPage == 0 {
		cfg.PerPage = DefaultPerPage
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.RefreshTimeout == 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if cfg.StatusLogInterval == 0 {
		cfg.StatusLogInterval = DefaultStatusLogInterval
	}
	// BlockLagThreshold default is 0, which is valid
	if cfg.UpstreamMessageTimeout == 0 {
		cfg.UpstreamMessageTimeout = DefaultUpstreamMessageTimeout
	}
	if cfg.UpstreamReconnectInterval == 0 {
		cfg.UpstreamReconnectInterval = DefaultUpstreamReconnectInterval
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.Balancer == "" {
		cfg.Balancer = DefaultBalancer
	}
	if cfg.Contract.QueryMethod == "" {
		cfg.Contract.QueryMethod = DefaultQueryMethod
	}
	if cfg.Contract.Denom == "" {
		cfg.Contract.Denom = DefaultDenom
	}

	if cfg.CircuitBreaker != nil {
		if cfg.CircuitBreaker.FailureThreshold == 0 {
			cfg.CircuitBreaker.FailureThreshold = DefaultCBFailureThreshold
		}
		if cfg.CircuitBreaker.RecoveryTimeout == 0 {
			cfg.CircuitBreaker.RecoveryTimeout = DefaultCBRecoveryTimeout
		}
		if cfg.CircuitBreaker.HalfOpenMaxRequests == 0 {
			cfg.CircuitBreaker.HalfOpenMaxRequests = DefaultCBHalfOpenMaxRequests
		}
	}

	for i := range cfg.Validators {
		if cfg.Validators[i].Weight == 0 {
			cfg.Validators[i].Weight = DefaultValidatorWeight
		}
		if cfg.Validators[i].Role == "" {
			cfg.Validators[i].Role = DefaultValidatorRole
		}
	}
}

// validate checks the configuration for errors.
// Struct tags cover per-field rules; cross-field rules follow.
func validate(cfg *Config) error {
	if len(cfg.Validators) == 0 {
		return errors.New("at least one validator is required")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	names := make(map[string]bool)
	for i, v := range cfg.Validators {
		if names[v.Name] {
			return fmt.Errorf("validator[%d]: duplicate validator name '%s'", i, v.Name)
		}
		names[v.Name] = true

		if v.RPCURL == "" && v.WSURL == "" {
			return fmt.Errorf("validator '%s': at least one of rpcUrl or wsUrl is required", v.Name)
		}

		if v.Weight <= 0 {
			return fmt.Errorf("validator '%s': weight must be positive", v.Name)
		}

		if v.Role != RoleMain && v.Role != RoleFallback {
			return fmt.Errorf("validator '%s': role must be 'main' or 'fallback'", v.Name)
		}
	}

	if cfg.PerPage <= 0 {
		return fmt.Errorf("perPage must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.RefreshInterval < 0 {
		return fmt.Errorf("refreshInterval must be non-negative")
	}

	if cfg.RefreshTimeout < 0 {
		return fmt.Errorf("refreshTimeout must be non-negative")
	}

	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("requestTimeout must be non-negative")
	}

	if cfg.HealthCheckInterval < 0 {
		return fmt.Errorf("healthCheckInterval must be non-negative")
	}

	if cfg.RetryMaxAttempts < 0 {
		return fmt.Errorf("retryMaxAttempts must be non-negative")
	}

	return nil
}
