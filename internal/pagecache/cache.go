package pagecache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	flightReplace = "replace"
	flightAppend  = "append"
)

// Cache keeps a local copy of a remote paginated collection.
// The only mutation path is a full pagination pass; readers see either the
// previously published snapshot or the newly completed one, never a mix.
type Cache[T any] struct {
	transport Transport[T]
	perPage   int
	logger      zerolog.Logger
	now         func() time.Time
	passTimeout time.Duration

	// concurrent calls of the same kind share one pass
	sf singleflight.Group
	// at most one pass of either kind pages the transport
	passMu sync.Mutex

	mu    sync.RWMutex
	items []T
	stats Stats
}

// Option configures a Cache
type Option func(*options)

type options struct {
	logger      zerolog.Logger
	now         func() time.Time
	passTimeout time.Duration
}

// WithLogger sets the logger used for refresh progress
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock overrides the time source used for Stats.LastRefresh
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithPassTimeout bounds a whole pagination pass. Zero means no bound.
func WithPassTimeout(d time.Duration) Option {
	return func(o *options) {
		o.passTimeout = d
	}
}

// New creates a Cache that fetches perPage items per transport call
func New[T any](transport Transport[T], perPage int, opts ...Option) (*Cache[T], error) {
	if transport == nil {
		return nil, &ConfigError{Field: "transport", Reason: "is required"}
	}
	if perPage <= 0 {
		return nil, &ConfigError{Field: "perPage", Reason: "must be positive"}
	}

	o := options{
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[T]{
		transport: transport,
		perPage:   perPage,
		logger:      o.logger.With().Str("component", "pagecache").Int("perPage", perPage).Logger(),
		now:         o.now,
		passTimeout: o.passTimeout,
	}, nil
}

// Refresh rebuilds the snapshot from a complete pagination pass.
// On failure it returns a *FetchError and the published snapshot is left untouched.
// Callers arriving while a pass is in flight wait for it and share its result.
func (c *Cache[T]) Refresh(ctx context.Context) error {
	return c.join(ctx, flightReplace, false)
}

// RefreshAppend runs a complete pagination pass and publishes the current
// snapshot followed by the newly fetched items. Items are not deduplicated.
func (c *Cache[T]) RefreshAppend(ctx context.Context) error {
	return c.join(ctx, flightAppend, true)
}

// join attaches the caller to the in-flight pass of the given kind, starting one
// if none is running. The pass is detached from any single caller's context and
// bounded only by the pass timeout; a caller whose ctx ends stops waiting while
// the pass carries on for the others.
func (c *Cache[T]) join(ctx context.Context, key string, appendMode bool) error {
	if err := ctx.Err(); err != nil {
		return &FetchError{Err: err}
	}

	ch := c.sf.DoChan(key, func() (interface{}, error) {
		passCtx := context.WithoutCancel(ctx)
		if c.passTimeout > 0 {
			var cancel context.CancelFunc
			passCtx, cancel = context.WithTimeout(passCtx, c.passTimeout)
			defer cancel()
		}
		return nil, c.run(passCtx, appendMode)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug().Err(res.Err).Str("kind", key).Msg("refresh coalesced with in-flight pass")
		}
		return res.Err
	case <-ctx.Done():
		c.logger.Debug().Err(ctx.Err()).Str("kind", key).Msg("caller stopped waiting for in-flight pass")
		return &FetchError{Err: ctx.Err()}
	}
}

// Snapshot returns a copy of the published items in transport order
func (c *Cache[T]) Snapshot() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]T, len(c.items))
	copy(result, c.items)
	return result
}

// Load returns the published items together with their generation.
// The returned slice is shared and must not be modified.
func (c *Cache[T]) Load() ([]T, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items, c.stats.Generation
}

// Stats returns the current cache statistics
func (c *Cache[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// run performs one pass and publishes it on success
func (c *Cache[T]) run(ctx context.Context, appendMode bool) error {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	started := c.now()
	acc, pages, err := c.collect(ctx)
	if err != nil {
		c.mu.Lock()
		c.stats.Failures++
		c.stats.LastError = err.Error()
		c.mu.Unlock()

		c.logger.Warn().
			Err(err).
			Int("pagesCompleted", pages).
			Bool("append", appendMode).
			Msg("refresh failed, keeping previous snapshot")
		return err
	}

	c.mu.Lock()
	if appendMode {
		merged := make([]T, 0, len(c.items)+len(acc))
		merged = append(merged, c.items...)
		acc = append(merged, acc...)
	}
	c.items = acc
	c.stats.Generation++
	c.stats.Size = len(acc)
	c.stats.Pages = pages
	c.stats.LastRefresh = c.now()
	c.stats.LastError = ""
	c.stats.Refreshes++
	generation := c.stats.Generation
	c.mu.Unlock()

	c.logger.Info().
		Int("items", len(acc)).
		Int("pages", pages).
		Uint64("generation", generation).
		Bool("append", appendMode).
		Dur("took", c.now().Sub(started)).
		Msg("snapshot published")
	return nil
}

// collect pages through the collection into a private accumulator.
// It returns the number of pages fetched; on error that is the count before the failure.
func (c *Cache[T]) collect(ctx context.Context) ([]T, int, error) {
	var (
		acc    []T
		cursor string
		pages  int
	)

	for {
		if err := ctx.Err(); err != nil {
			return nil, pages, &FetchError{Err: err, PagesCompleted: pages}
		}
		page, err := c.transport.FetchPage(ctx, c.perPage, cursor)
		if err != nil {
			return nil, pages, &FetchError{Err: err, PagesCompleted: pages}
		}
		pages++

		acc = append(acc, page.Items...)
		cursor = page.NextCursor

		c.logger.Debug().
			Int("page", pages).
			Int("items", len(page.Items)).
			Str("nextCursor", cursor).
			Msg("page fetched")

		if !ShouldFetchNext(page, c.perPage) {
			break
		}
	}

	if acc == nil {
		acc = []T{}
	}
	return acc, pages, nil
}

// ShouldFetchNext reports whether another page should be requested after page.
// Both a non-empty cursor and a full page are required: a short page ends the
// pass even if the transport echoed a cursor.
func ShouldFetchNext[T any](page Page[T], perPage int) bool {
	nextExists := page.NextCursor != ""
	fullPage := len(page.Items) == perPage
	return nextExists && fullPage
}
