package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"mixcache/internal/balancer"
	"mixcache/internal/config"
	"mixcache/internal/mixnode"
	"mixcache/internal/pagecache"
	"mixcache/internal/refresher"
	"mixcache/internal/transport"
	"mixcache/internal/upstream"
)

// Server owns the validator pool, the mixnode cache and the HTTP API
type Server struct {
	cfg        *config.Config
	pool       *upstream.Pool
	cache      *pagecache.Cache[mixnode.MixNodeBond]
	directory  *mixnode.Directory
	refresher  *refresher.Refresher
	httpServer *http.Server
	logger     zerolog.Logger
}

// New creates a new Server from configuration
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	pool := upstream.NewPool(cfg, logger)

	selector := balancer.New(cfg.Balancer, pool)
	exec := transport.NewExecutor(selector, pool, transport.RetryConfig{
		Enabled:     cfg.RetryEnabled,
		MaxAttempts: cfg.RetryMaxAttempts,
	}, logger)

	contract := mixnode.NewContractTransport(exec, cfg.Contract, logger)

	cache, err := pagecache.New[mixnode.MixNodeBond](contract, cfg.PerPage,
		pagecache.WithLogger(logger),
		pagecache.WithPassTimeout(cfg.GetRefreshTimeoutDuration()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mixnode cache: %w", err)
	}

	directory, err := mixnode.NewDirectory(cache, cfg.GetLookupSize())
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	logger.Info().
		Str("contract", cfg.Contract.Address).
		Str("queryMethod", cfg.Contract.QueryMethod).
		Int("perPage", cfg.PerPage).
		Dur("refreshTimeout", cfg.GetRefreshTimeoutDuration()).
		Str("balancer", cfg.Balancer).
		Bool("circuitBreaker", cfg.IsCircuitBreakerEnabled()).
		Msg("mixnode cache configured")

	return &Server{
		cfg:       cfg,
		pool:      pool,
		cache:     cache,
		directory: directory,
		refresher: refresher.New(cache, cfg.GetRefreshIntervalDuration(), logger),
		logger:    logger,
	}, nil
}

// Start starts the pool, the refresh loop and the HTTP listener
func (s *Server) Start(ctx context.Context) error {
	s.pool.Start(ctx)
	if !s.pool.HasHealthyUpstreams() {
		s.logger.Warn().Msg("no healthy validators at startup, first refresh may fail")
	}

	s.refresher.Start()

	handler := NewHandler(s.directory, s.cache, s.pool, s.refresher, s.cfg.Contract.Denom, s.logger)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		s.logger.Info().
			Str("addr", addr).
			Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down server...")

	var httpErr error
	if s.httpServer != nil {
		httpErr = s.httpServer.Shutdown(ctx)
	}

	s.refresher.Stop()
	s.pool.Stop()

	if httpErr != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", httpErr)
	}

	s.logger.Info().Msg("server stopped")
	return nil
}
