package refresher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixcache/internal/pagecache"
)

type countingTarget struct {
	calls atomic.Int32
	err   error
}

func (c *countingTarget) Refresh(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestRefresher_RefreshesAtStartAndOnTick(t *testing.T) {
	target := &countingTarget{}
	r := New(target, 10*time.Millisecond, zerolog.Nop())
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool { return target.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestRefresher_ZeroIntervalRefreshesOnce(t *testing.T) {
	target := &countingTarget{}
	r := New(target, 0, zerolog.Nop())
	r.Start()

	assert.Eventually(t, func() bool { return target.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	r.Stop()
	assert.Equal(t, int32(1), target.calls.Load())
}

func TestRefresher_FailureKeepsLooping(t *testing.T) {
	target := &countingTarget{err: &pagecache.FetchError{Err: errors.New("boom"), PagesCompleted: 2}}
	r := New(target, 10*time.Millisecond, zerolog.Nop())
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool { return target.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestRefresher_TriggerReturnsOutcome(t *testing.T) {
	fetchErr := &pagecache.FetchError{Err: errors.New("boom"), PagesCompleted: 1}
	target := &countingTarget{err: fetchErr}
	r := New(target, time.Hour, zerolog.Nop())

	err := r.Trigger(context.Background())
	require.Error(t, err)
	var got *pagecache.FetchError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, 1, got.PagesCompleted)

	target.err = nil
	assert.NoError(t, r.Trigger(context.Background()))
	assert.Equal(t, int32(2), target.calls.Load())
}

func TestRefresher_StopCancelsInFlightRefresh(t *testing.T) {
	started := make(chan struct{})
	target := refreshFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	r := New(target, time.Hour, zerolog.Nop())
	r.Start()
	<-started

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}

type refreshFunc func(ctx context.Context) error

func (f refreshFunc) Refresh(ctx context.Context) error { return f(ctx) }
