package pagecache

import (
	"context"
	"fmt"
	"time"
)

// Page is one transport response: a bounded run of items plus a continuation cursor.
// An empty NextCursor means the transport knows of no further page.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// Transport fetches one page of at most perPage items starting after the given cursor.
// An empty cursor requests the first page.
type Transport[T any] interface {
	FetchPage(ctx context.Context, perPage int, after string) (Page[T], error)
}

// TransportFunc adapts a plain function to the Transport interface
type TransportFunc[T any] func(ctx context.Context, perPage int, after string) (Page[T], error)

// FetchPage calls f
func (f TransportFunc[T]) FetchPage(ctx context.Context, perPage int, after string) (Page[T], error) {
	return f(ctx, perPage, after)
}

// Stats describes the cache state after the most recent refresh attempt
type Stats struct {
	Generation  uint64    `json:"generation"`
	Size        int       `json:"size"`
	Pages       int       `json:"pages"`
	LastRefresh time.Time `json:"lastRefresh"`
	LastError   string    `json:"lastError,omitempty"`
	Refreshes   uint64    `json:"refreshes"`
	Failures    uint64    `json:"failures"`
}

// ConfigError reports invalid construction parameters
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid cache config: %s %s", e.Field, e.Reason)
}

// FetchError reports a failed page request during a refresh.
// PagesCompleted is the number of pages retrieved before the failing one.
type FetchError struct {
	Err            error
	PagesCompleted int
}

// Error implements the error interface
func (e *FetchError) Error() string {
	return fmt.Sprintf("page fetch failed after %d pages: %v", e.PagesCompleted, e.Err)
}

// Unwrap returns the underlying transport error
func (e *FetchError) Unwrap() error {
	return e.Err
}
