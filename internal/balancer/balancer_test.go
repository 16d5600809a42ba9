package balancer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixcache/internal/jsonrpc"
	"mixcache/internal/upstream"
)

func newValidator(name string, weight int, role upstream.Role) *upstream.Upstream {
	return upstream.NewUpstream(upstream.Config{
		Name:   name,
		RPCURL: "http://" + name,
		Weight: weight,
		Role:   role,
		Logger: zerolog.Nop(),
	})
}

func TestWeightedRoundRobin_RespectsWeights(t *testing.T) {
	a := newValidator("a", 3, upstream.RoleMain)
	b := newValidator("b", 1, upstream.RoleMain)
	pool := upstream.NewPoolFromUpstreams([]*upstream.Upstream{a, b}, zerolog.Nop())

	wrr := NewWeightedRoundRobin(pool)
	counts := map[string]int{}
	for i := 0; i < 40; i++ {
		u := wrr.Next(nil)
		require.NotNil(t, u)
		counts[u.Name()]++
	}

	assert.Equal(t, 30, counts["a"])
	assert.Equal(t, 10, counts["b"])
}

func TestWeightedRoundRobin_ExcludeAndFallback(t *testing.T) {
	main := newValidator("main", 1, upstream.RoleMain)
	fb := newValidator("fb", 1, upstream.RoleFallback)
	pool := upstream.NewPoolFromUpstreams([]*upstream.Upstream{main, fb}, zerolog.Nop())

	wrr := NewWeightedRoundRobin(pool)
	assert.Equal(t, "main", wrr.Next(nil).Name())
	assert.Equal(t, "fb", wrr.Next(map[string]bool{"main": true}).Name())
	assert.Nil(t, wrr.Next(map[string]bool{"main": true, "fb": true}))
}

func TestWeightedRoundRobin_SkipsOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tripped := upstream.NewUpstream(upstream.Config{
		Name:           "tripped",
		RPCURL:         srv.URL,
		Role:           upstream.RoleMain,
		CircuitBreaker: upstream.CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeout: time.Hour},
		Logger:         zerolog.Nop(),
	})
	ok := newValidator("ok", 1, upstream.RoleMain)
	pool := upstream.NewPoolFromUpstreams([]*upstream.Upstream{tripped, ok}, zerolog.Nop())

	req, err := jsonrpc.NewRequest("status", nil, jsonrpc.NewIDInt(1))
	require.NoError(t, err)

	require.Equal(t, "closed", tripped.BreakerState())
	_, err = tripped.Execute(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, "open", tripped.BreakerState())

	wrr := NewWeightedRoundRobin(pool)
	for i := 0; i < 5; i++ {
		assert.Equal(t, "ok", wrr.Next(nil).Name())
	}
}

func TestRoundRobin_Cycles(t *testing.T) {
	a := newValidator("a", 5, upstream.RoleMain)
	b := newValidator("b", 1, upstream.RoleMain)
	pool := upstream.NewPoolFromUpstreams([]*upstream.Upstream{a, b}, zerolog.Nop())

	rr := NewRoundRobin(pool)
	assert.Equal(t, "a", rr.Next(nil).Name())
	assert.Equal(t, "b", rr.Next(nil).Name())
	assert.Equal(t, "a", rr.Next(nil).Name())

	a.SetHealthy(false)
	assert.Equal(t, "b", rr.Next(nil).Name())
}

func TestNew_ByName(t *testing.T) {
	pool := upstream.NewPoolFromUpstreams(nil, zerolog.Nop())
	assert.IsType(t, &RoundRobin{}, New("roundrobin", pool))
	assert.IsType(t, &WeightedRoundRobin{}, New("weighted", pool))
	assert.IsType(t, &WeightedRoundRobin{}, New("", pool))
}
