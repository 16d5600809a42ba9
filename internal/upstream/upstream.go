package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"mixcache/internal/config"
	"mixcache/internal/jsonrpc"
)

// Upstream represents a single validator JSON-RPC endpoint
type Upstream struct {
	name     string
	rpcURL   string
	wsURL    string
	weight   int
	role     Role
	preferWS bool

	httpClient *http.Client
	status     *Status
	breaker    *CircuitBreaker
	logger     zerolog.Logger

	wsClient *UpstreamWSClient
}

// Config for creating a new Upstream
type Config struct {
	Name           string
	RPCURL         string
	WSURL          string
	Weight         int
	Role           Role
	PreferWS       bool
	RequestTimeout time.Duration
	CircuitBreaker CircuitBreakerConfig
	Logger         zerolog.Logger
}

// NewUpstream creates a new Upstream instance
func NewUpstream(cfg Config) *Upstream {
	transport := &http.Transport{
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}

	weight := cfg.Weight
	if weight <= 0 {
		weight = 1
	}

	return &Upstream{
		name:       cfg.Name,
		rpcURL:     cfg.RPCURL,
		wsURL:      cfg.WSURL,
		weight:     weight,
		role:       cfg.Role,
		preferWS:   cfg.PreferWS,
		httpClient: httpClient,
		status:     NewStatus(),
		breaker:    NewCircuitBreaker(cfg.CircuitBreaker),
		logger:     cfg.Logger.With().Str("validator", cfg.Name).Logger(),
	}
}

// NewUpstreamFromConfig creates an Upstream from config
func NewUpstreamFromConfig(cfg config.ValidatorConfig, globalCfg *config.Config, logger zerolog.Logger) *Upstream {
	return NewUpstream(Config{
		Name:           cfg.Name,
		RPCURL:         cfg.RPCURL,
		WSURL:          cfg.WSURL,
		Weight:         cfg.Weight,
		Role:           RoleFromConfig(cfg.Role),
		PreferWS:       cfg.PreferWS,
		RequestTimeout: globalCfg.GetRequestTimeoutDuration(),
		CircuitBreaker: CircuitBreakerConfigFrom(globalCfg.CircuitBreaker),
		Logger:         logger,
	})
}

// Name returns the validator name
func (u *Upstream) Name() string {
	return u.name
}

// Weight returns the weight for load balancing
func (u *Upstream) Weight() int {
	return u.weight
}

// Role returns the validator role
func (u *Upstream) Role() Role {
	return u.role
}

// IsMain returns true if this is a main validator
func (u *Upstream) IsMain() bool {
	return u.role == RoleMain
}

// IsFallback returns true if this is a fallback validator
func (u *Upstream) IsFallback() bool {
	return u.role == RoleFallback
}

// IsHealthy returns the health status
func (u *Upstream) IsHealthy() bool {
	return u.status.IsHealthy()
}

// SetHealthy sets the health status
func (u *Upstream) SetHealthy(healthy bool) {
	u.status.SetHealthy(healthy)
}

// Available returns true if the validator is healthy and its breaker admits a request
func (u *Upstream) Available() bool {
	return u.IsHealthy() && u.breaker.AllowRequest()
}

// BreakerState returns the circuit breaker state name
func (u *Upstream) BreakerState() string {
	return u.breaker.State()
}

// GetCurrentBlock returns the latest block height seen on this validator
func (u *Upstream) GetCurrentBlock() uint64 {
	return u.status.GetCurrentBlock()
}

// UpdateBlock updates the block if the new value is higher
func (u *Upstream) UpdateBlock(block uint64) bool {
	return u.status.UpdateBlock(block)
}

// IncrementRequestCount increments the request counter
func (u *Upstream) IncrementRequestCount() {
	u.status.IncrementRequestCount()
}

// SwapRequestCount returns the current request count and resets it to zero
func (u *Upstream) SwapRequestCount() uint64 {
	return u.status.SwapRequestCount()
}

// GetFailureCount returns the number of failed requests
func (u *Upstream) GetFailureCount() uint64 {
	return u.status.GetFailureCount()
}

// HasRPC returns true if HTTP RPC URL is configured
func (u *Upstream) HasRPC() bool {
	return u.rpcURL != ""
}

// HasWS returns true if WebSocket URL is configured
func (u *Upstream) HasWS() bool {
	return u.wsURL != ""
}

// Execute sends a JSON-RPC request and returns the response.
// When preferWS is true and the WebSocket is connected, uses WebSocket.
// Otherwise prefers HTTP RPC, falls back to WebSocket if HTTP is not available.
// Transport failures and retryable RPC errors count against the circuit breaker.
func (u *Upstream) Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	var (
		resp *jsonrpc.Response
		err  error
	)
	switch {
	case u.preferWS && u.wsConnected():
		resp, err = u.ExecuteWS(ctx, req)
	case u.HasRPC():
		resp, err = u.ExecuteHTTP(ctx, req)
	case u.HasWS():
		resp, err = u.ExecuteWS(ctx, req)
	default:
		err = fmt.Errorf("no endpoint configured for validator %s", u.name)
	}

	if err != nil || resp.IsRetryableError() {
		u.status.IncrementFailureCount()
		u.breaker.RecordFailure()
	} else {
		u.breaker.RecordSuccess()
	}
	return resp, err
}

// ExecuteHTTP sends a JSON-RPC request via HTTP
func (u *Upstream) ExecuteHTTP(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if u.rpcURL == "" {
		return nil, fmt.Errorf("HTTP RPC URL not configured")
	}

	reqBytes, err := req.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.rpcURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := u.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	u.IncrementRequestCount()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	rpcResp, err := jsonrpc.ParseResponse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return rpcResp, nil
}

// ExecuteWS sends a JSON-RPC request via WebSocket
func (u *Upstream) ExecuteWS(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if u.wsClient == nil {
		return nil, fmt.Errorf("WebSocket not connected")
	}
	return u.wsClient.SendRequest(ctx, req)
}

// StartWS establishes the WebSocket connection for this validator. Called by Pool at startup.
func (u *Upstream) StartWS(ctx context.Context, messageTimeout, reconnectInterval, pingInterval time.Duration) error {
	if u.wsURL == "" {
		return fmt.Errorf("WebSocket URL not configured")
	}
	if u.wsClient != nil {
		return nil
	}

	u.wsClient = NewUpstreamWSClient(u.wsURL, messageTimeout, reconnectInterval, pingInterval, u, u.logger)
	return u.wsClient.Connect(ctx)
}

func (u *Upstream) wsConnected() bool {
	return u.wsClient != nil && u.wsClient.Connected()
}

// Close closes all connections
func (u *Upstream) Close() {
	if u.wsClient != nil {
		u.wsClient.Close()
		u.wsClient = nil
	}
	u.httpClient.CloseIdleConnections()
}
