package refresher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mixcache/internal/pagecache"
)

// Refreshable is anything that can rebuild itself from its source
type Refreshable interface {
	Refresh(ctx context.Context) error
}

// Refresher refreshes a target once at start and then on every tick.
// A failed refresh is logged and retried on the next tick.
type Refresher struct {
	target   Refreshable
	interval time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Refresher
func New(target Refreshable, interval time.Duration, logger zerolog.Logger) *Refresher {
	ctx, cancel := context.WithCancel(context.Background())

	return &Refresher{
		target:   target,
		interval: interval,
		logger:   logger.With().Str("component", "refresher").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the refresh loop
func (r *Refresher) Start() {
	r.wg.Add(1)
	go r.loop()

	r.logger.Info().
		Dur("interval", r.interval).
		Msg("refresher started")
}

// Stop cancels any refresh in flight and waits for the loop to exit
func (r *Refresher) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info().Msg("refresher stopped")
}

// Trigger runs a refresh now and returns its outcome
func (r *Refresher) Trigger(ctx context.Context) error {
	return r.refresh(ctx, "manual")
}

func (r *Refresher) loop() {
	defer r.wg.Done()

	r.refresh(r.ctx, "startup")

	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.refresh(r.ctx, "tick")
		}
	}
}

func (r *Refresher) refresh(ctx context.Context, reason string) error {
	start := time.Now()
	err := r.target.Refresh(ctx)
	if err == nil {
		r.logger.Debug().
			Str("reason", reason).
			Dur("took", time.Since(start)).
			Msg("refresh completed")
		return nil
	}

	if errors.Is(err, context.Canceled) && r.ctx.Err() != nil {
		return err
	}

	logEvent := r.logger.Warn().
		Err(err).
		Str("reason", reason).
		Dur("took", time.Since(start))
	var fetchErr *pagecache.FetchError
	if errors.As(err, &fetchErr) {
		logEvent = logEvent.Int("pagesCompleted", fetchErr.PagesCompleted)
	}
	logEvent.Msg("refresh failed, keeping previous snapshot")
	return err
}
