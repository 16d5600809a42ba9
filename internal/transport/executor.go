package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"mixcache/internal/balancer"
	"mixcache/internal/jsonrpc"
	"mixcache/internal/upstream"
)

// ErrAllUpstreamsFailed is returned when every attempted validator failed
var ErrAllUpstreamsFailed = errors.New("all validators failed")

// ErrNoUpstreamsAvailable is returned when the selector has nothing left to offer
var ErrNoUpstreamsAvailable = errors.New("no validators available")

// RetryConfig holds retry configuration
type RetryConfig struct {
	Enabled     bool
	MaxAttempts int
}

// FallbackProvider reports which main validators are currently eligible
type FallbackProvider interface {
	GetHealthyMain() []*upstream.Upstream
}

// Executor sends JSON-RPC requests to validators with retry across the pool
type Executor struct {
	selector balancer.Selector
	pool     FallbackProvider
	config   RetryConfig
	logger   zerolog.Logger
}

// NewExecutor creates a new Executor. pool may be nil, in which case fallback
// transitions are not logged.
func NewExecutor(selector balancer.Selector, pool FallbackProvider, cfg RetryConfig, logger zerolog.Logger) *Executor {
	return &Executor{
		selector: selector,
		pool:     pool,
		config:   cfg,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
}

// Execute sends a request, trying each available validator at most once
// (main first, then fallback) until one succeeds or attempts run out.
// A non-retryable JSON-RPC error is returned as a response without retry.
func (e *Executor) Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	tried := make(map[string]bool)
	if !e.config.Enabled {
		resp, _, err := e.executeOnce(ctx, req, tried, false)
		return resp, err
	}

	var lastErr error
	var lastResp *jsonrpc.Response
	var lastUpstream string
	usedFallback := false

	maxAttempts := e.config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if !usedFallback && e.isUsingFallback(tried) {
			usedFallback = true
			e.logger.Warn().
				Str("method", req.Method).
				Int("triedMain", len(tried)).
				Msg("all main validators failed, falling back")
		}

		resp, name, err := e.executeOnce(ctx, req, tried, usedFallback)

		if err == nil && !resp.HasError() {
			return resp, nil
		}

		if err == nil {
			if !resp.IsRetryableError() {
				return resp, nil
			}
			lastResp = resp
			lastErr = resp.Error
			lastUpstream = name
		} else {
			lastErr = err
			lastUpstream = name
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, ErrNoUpstreamsAvailable) {
			break
		}

		logEvent := e.logger.Warn().
			Int("attempt", attempt+1).
			Int("maxAttempts", maxAttempts).
			Err(lastErr).
			Str("method", req.Method).
			Bool("usingFallback", usedFallback)
		if lastUpstream != "" {
			logEvent = logEvent.Str("validator", lastUpstream)
		}
		logEvent.Msg("request failed, retrying")
	}

	if lastResp != nil && lastResp.HasError() {
		return lastResp, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrAllUpstreamsFailed, lastErr)
	}

	return nil, ErrAllUpstreamsFailed
}

// isUsingFallback checks if all main validators have been tried
func (e *Executor) isUsingFallback(tried map[string]bool) bool {
	if e.pool == nil {
		return false
	}
	mainUpstreams := e.pool.GetHealthyMain()
	for _, u := range mainUpstreams {
		if !tried[u.Name()] {
			return false
		}
	}
	return len(mainUpstreams) > 0
}

// executeOnce runs the request on a single validator and marks it as tried.
// The returned name is empty when no validator could be selected.
func (e *Executor) executeOnce(ctx context.Context, req *jsonrpc.Request, exclude map[string]bool, isFallback bool) (*jsonrpc.Response, string, error) {
	u := e.selector.Next(exclude)
	if u == nil {
		return nil, "", ErrNoUpstreamsAvailable
	}

	name := u.Name()
	exclude[name] = true

	resp, err := u.Execute(ctx, req)
	if err != nil {
		logEvent := e.logger.Warn().
			Err(err).
			Str("validator", name).
			Str("method", req.Method).
			Bool("isFallback", u.IsFallback())
		if isFallback {
			logEvent.Msg("fallback request failed")
		} else {
			logEvent.Msg("request failed")
		}
		return nil, name, err
	}

	if resp.HasError() {
		e.logger.Debug().
			Str("validator", name).
			Str("method", req.Method).
			Int("errorCode", resp.Error.Code).
			Str("errorMessage", resp.Error.Message).
			Msg("RPC error response")
	} else {
		e.logger.Debug().
			Str("validator", name).
			Str("method", req.Method).
			Msg("request succeeded")
	}

	return resp, name, nil
}
