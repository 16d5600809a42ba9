package config

import "time"

// Role defines the validator role type
type Role string

const (
	RoleMain     Role = "main"
	RoleFallback Role = "fallback"
)

// Config represents the main configuration structure
type Config struct {
	Host                      string                `json:"host" yaml:"host"`
	Port                      int                   `json:"port" yaml:"port" validate:"gte=0,lte=65535"`
	LogLevel                  string                `json:"logLevel" yaml:"logLevel"`
	LogFormat                 string                `json:"logFormat" yaml:"logFormat" validate:"omitempty,oneof=console json"`
	PerPage                   int                   `json:"perPage" yaml:"perPage" validate:"gte=0"`
	RefreshInterval           int                   `json:"refreshInterval" yaml:"refreshInterval"` // ms
	RefreshTimeout            int                   `json:"refreshTimeout" yaml:"refreshTimeout"`   // ms - bound on one full pagination pass
	RequestTimeout            int                   `json:"requestTimeout" yaml:"requestTimeout"`   // ms
	HealthCheckInterval       int                   `json:"healthCheckInterval" yaml:"healthCheckInterval"`
	StatusLogInterval         int                   `json:"statusLogInterval" yaml:"statusLogInterval"`
	BlockLagThreshold         uint64                `json:"blockLagThreshold" yaml:"blockLagThreshold"`
	UpstreamMessageTimeout    int                   `json:"upstreamMessageTimeout" yaml:"upstreamMessageTimeout"`       // ms - timeout for receiving messages from validator WebSocket
	UpstreamReconnectInterval int                   `json:"upstreamReconnectInterval" yaml:"upstreamReconnectInterval"` // ms - interval between reconnection attempts
	UpstreamPingInterval      int                   `json:"upstreamPingInterval" yaml:"upstreamPingInterval"`           // ms - 0 disables keepalive pings
	RetryEnabled              bool                  `json:"retryEnabled" yaml:"-"`
	RetryMaxAttempts          int                   `json:"retryMaxAttempts" yaml:"retryMaxAttempts"`
	Balancer                  string                `json:"balancer" yaml:"balancer" validate:"omitempty,oneof=weighted roundrobin"`
	Contract                  ContractConfig        `json:"contract" yaml:"contract"`
	Lookup                    *LookupConfig         `json:"lookup,omitempty" yaml:"lookup,omitempty"`
	CircuitBreaker            *CircuitBreakerConfig `json:"circuitBreaker,omitempty" yaml:"circuitBreaker,omitempty"`
	Validators                []ValidatorConfig     `json:"validators" yaml:"validators" validate:"required,min=1,dive"`
}

// ContractConfig describes the mixnet contract that holds mixnode bonds
type ContractConfig struct {
	Address     string `json:"address" yaml:"address" validate:"required"`
	QueryMethod string `json:"queryMethod" yaml:"queryMethod"` // JSON-RPC method for smart queries
	Denom       string `json:"denom" yaml:"denom"`             // staking denomination reported by /status
}

// LookupConfig controls memoization of derived directory views
type LookupConfig struct {
	Size int `json:"size" yaml:"size" validate:"gte=0"` // number of memoized views
}

// CircuitBreakerConfig controls per-validator circuit breaking
type CircuitBreakerConfig struct {
	Enabled             bool `json:"enabled" yaml:"enabled"`
	FailureThreshold    int  `json:"failureThreshold" yaml:"failureThreshold" validate:"gte=0"`
	RecoveryTimeout     int  `json:"recoveryTimeout" yaml:"recoveryTimeout" validate:"gte=0"` // ms
	HalfOpenMaxRequests int  `json:"halfOpenMaxRequests" yaml:"halfOpenMaxRequests" validate:"gte=0"`
}

// ValidatorConfig represents a single validator endpoint
type ValidatorConfig struct {
	Name     string `json:"name" yaml:"name" validate:"required"`
	RPCURL   string `json:"rpcUrl" yaml:"rpcUrl" validate:"omitempty,url"`
	WSURL    string `json:"wsUrl" yaml:"wsUrl" validate:"omitempty,url"`
	Weight   int    `json:"weight" yaml:"weight"`
	Role     Role   `json:"role" yaml:"role"`
	PreferWS bool   `json:"preferWs" yaml:"preferWs"`
}

// Default values
const (
	DefaultHost                      = "localhost"
	DefaultPort                      = 8080
	DefaultLogLevel                  = "info"
	DefaultLogFormat                 = "console"
	DefaultPerPage                   = 100
	DefaultRefreshInterval           = 60000  // ms
	DefaultRefreshTimeout            = 120000 // ms
	DefaultRequestTimeout            = 5000   // ms
	DefaultHealthCheckInterval       = 10000  // ms
	DefaultStatusLogInterval         = 30000  // ms
	DefaultUpstreamMessageTimeout    = 60000  // ms
	DefaultUpstreamReconnectInterval = 5000   // ms
	DefaultRetryEnabled              = true
	DefaultRetryMaxAttempts          = 3
	DefaultBalancer                  = "weighted"
	DefaultValidatorWeight           = 1
	DefaultValidatorRole             = RoleMain
	DefaultQueryMethod               = "wasm_contractSmartState"
	DefaultDenom                     = "unym"
	DefaultLookupSize                = 256
	DefaultCBFailureThreshold        = 5
	DefaultCBRecoveryTimeout         = 30000 // ms
	DefaultCBHalfOpenMaxRequests     = 2
)

// GetRefreshIntervalDuration returns the refresh interval as time.Duration
func (c *Config) GetRefreshIntervalDuration() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Millisecond
}

// GetRefreshTimeoutDuration returns the pagination pass bound as time.Duration
func (c *Config) GetRefreshTimeoutDuration() time.Duration {
	return time.Duration(c.RefreshTimeout) * time.Millisecond
}

// GetRequestTimeoutDuration returns request timeout as time.Duration
func (c *Config) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetHealthCheckIntervalDuration returns health check interval as time.Duration
func (c *Config) GetHealthCheckIntervalDuration() time.Duration {
	return time.Duration(c.HealthCheckInterval) * time.Millisecond
}

// GetStatusLogIntervalDuration returns status log interval as time.Duration
func (c *Config) GetStatusLogIntervalDuration() time.Duration {
	return time.Duration(c.StatusLogInterval) * time.Millisecond
}

// GetUpstreamMessageTimeoutDuration returns validator message timeout as time.Duration
func (c *Config) GetUpstreamMessageTimeoutDuration() time.Duration {
	return time.Duration(c.UpstreamMessageTimeout) * time.Millisecond
}

// GetUpstreamReconnectIntervalDuration returns validator reconnect interval as time.Duration
func (c *Config) GetUpstreamReconnectIntervalDuration() time.Duration {
	return time.Duration(c.UpstreamReconnectInterval) * time.Millisecond
}

// GetUpstreamPingIntervalDuration returns the WebSocket ping interval as time.Duration
func (c *Config) GetUpstreamPingIntervalDuration() time.Duration {
	return time.Duration(c.UpstreamPingInterval) * time.Millisecond
}

// IsCircuitBreakerEnabled returns true if circuit breaking is configured and enabled
func (c *Config) IsCircuitBreakerEnabled() bool {
	return c.CircuitBreaker != nil && c.CircuitBreaker.Enabled
}

// GetLookupSize returns the number of memoized directory views
func (c *Config) GetLookupSize() int {
	if c.Lookup == nil || c.Lookup.Size == 0 {
		return DefaultLookupSize
	}
	return c.Lookup.Size
}

// GetRecoveryTimeoutDuration returns the breaker recovery timeout as time.Duration
func (c *CircuitBreakerConfig) GetRecoveryTimeoutDuration() time.Duration {
	return time.Duration(c.RecoveryTimeout) * time.Millisecond
}
