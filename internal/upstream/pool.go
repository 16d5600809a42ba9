package upstream

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"mixcache/internal/config"
)

// ValidatorStatus is a point-in-time view of one validator
type ValidatorStatus struct {
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Healthy  bool   `json:"healthy"`
	Block    uint64 `json:"block"`
	Breaker  string `json:"breaker"`
	Failures uint64 `json:"failures"`
}

// Pool represents the set of validators queried for contract state
type Pool struct {
	upstreams []*Upstream
	monitor   *HealthMonitor
	cfg       *config.Config
	logger    zerolog.Logger
	mu        sync.RWMutex
}

// NewPool creates a new Pool from the validator configuration
func NewPool(cfg *config.Config, logger zerolog.Logger) *Pool {
	poolLogger := logger.With().Str("component", "pool").Logger()

	upstreams := make([]*Upstream, 0, len(cfg.Validators))
	for _, vCfg := range cfg.Validators {
		upstreams = append(upstreams, NewUpstreamFromConfig(vCfg, cfg, poolLogger))
	}

	monitor := NewHealthMonitor(
		upstreams,
		cfg.BlockLagThreshold,
		cfg.GetHealthCheckIntervalDuration(),
		cfg.GetStatusLogIntervalDuration(),
		poolLogger,
	)

	return &Pool{
		upstreams: upstreams,
		monitor:   monitor,
		cfg:       cfg,
		logger:    poolLogger,
	}
}

// NewPoolFromUpstreams creates a Pool around existing upstreams without health monitoring
func NewPoolFromUpstreams(upstreams []*Upstream, logger zerolog.Logger) *Pool {
	return &Pool{
		upstreams: upstreams,
		logger:    logger,
	}
}

// Start connects WebSocket validators and starts the health monitor
func (p *Pool) Start(ctx context.Context) {
	if p.cfg != nil {
		for _, u := range p.upstreams {
			if !u.HasWS() {
				continue
			}
			err := u.StartWS(ctx,
				p.cfg.GetUpstreamMessageTimeoutDuration(),
				p.cfg.GetUpstreamReconnectIntervalDuration(),
				p.cfg.GetUpstreamPingIntervalDuration(),
			)
			if err != nil {
				p.logger.Warn().Err(err).Str("validator", u.Name()).Msg("WebSocket start failed, using HTTP only")
			}
		}
	}

	if p.monitor != nil {
		p.monitor.Start()
	}
	p.logger.Info().
		Int("validators", len(p.upstreams)).
		Msg("pool started")
}

// Stop stops the pool and closes all connections
func (p *Pool) Stop() {
	if p.monitor != nil {
		p.monitor.Stop()
	}
	for _, u := range p.upstreams {
		u.Close()
	}
	p.logger.Info().Msg("pool stopped")
}

// GetAll returns all validators
func (p *Pool) GetAll() []*Upstream {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Upstream, len(p.upstreams))
	copy(result, p.upstreams)
	return result
}

// GetHealthyMain returns healthy main validators
func (p *Pool) GetHealthyMain() []*Upstream {
	return p.filter(func(u *Upstream) bool { return u.IsHealthy() && u.IsMain() })
}

// GetHealthyFallback returns healthy fallback validators
func (p *Pool) GetHealthyFallback() []*Upstream {
	return p.filter(func(u *Upstream) bool { return u.IsHealthy() && u.IsFallback() })
}

// GetForRequest returns validators suitable for a request
// Returns main validators if any are healthy, otherwise returns fallback
func (p *Pool) GetForRequest() []*Upstream {
	main := p.GetHealthyMain()
	if len(main) > 0 {
		return main
	}
	return p.GetHealthyFallback()
}

// HasHealthyUpstreams returns true if at least one validator is healthy
func (p *Pool) HasHealthyUpstreams() bool {
	return len(p.filter(func(u *Upstream) bool { return u.IsHealthy() })) > 0
}

// Status returns the status of every validator
func (p *Pool) Status() []ValidatorStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]ValidatorStatus, 0, len(p.upstreams))
	for _, u := range p.upstreams {
		result = append(result, ValidatorStatus{
			Name:     u.Name(),
			Role:     u.Role(),
			Healthy:  u.IsHealthy(),
			Block:    u.GetCurrentBlock(),
			Breaker:  u.BreakerState(),
			Failures: u.GetFailureCount(),
		})
	}
	return result
}

func (p *Pool) filter(keep func(*Upstream) bool) []*Upstream {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Upstream, 0, len(p.upstreams))
	for _, u := range p.upstreams {
		if keep(u) {
			result = append(result, u)
		}
	}
	return result
}
