package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixcache/internal/jsonrpc"
)

// rpcHandler answers every JSON-RPC request through fn
func rpcHandler(t *testing.T, fn func(req *jsonrpc.Request) *jsonrpc.Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		resp := fn(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func statusResult(height string, catchingUp bool) map[string]interface{} {
	return map[string]interface{}{
		"sync_info": map[string]interface{}{
			"latest_block_height": height,
			"catching_up":         catchingUp,
		},
	}
}

func newTestUpstream(name, rpcURL string, cb CircuitBreakerConfig) *Upstream {
	return NewUpstream(Config{
		Name:           name,
		RPCURL:         rpcURL,
		Role:           RoleMain,
		RequestTimeout: time.Second,
		CircuitBreaker: cb,
		Logger:         zerolog.Nop(),
	})
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Enabled:             true,
		FailureThreshold:    2,
		RecoveryTimeout:     time.Minute,
		HalfOpenMaxRequests: 1,
	})
	cb.now = func() time.Time { return now }

	assert.True(t, cb.AllowRequest())
	cb.RecordFailure()
	assert.Equal(t, "closed", cb.State())
	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())
	assert.False(t, cb.AllowRequest())

	now = now.Add(time.Minute)
	assert.True(t, cb.AllowRequest())
	assert.Equal(t, "half-open", cb.State())

	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Enabled: true, FailureThreshold: 1, RecoveryTimeout: time.Second})
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	require.True(t, cb.AllowRequest())
	cb.RecordFailure()
	assert.Equal(t, "open", cb.State())
}

func TestCircuitBreaker_DisabledAlwaysAllows(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	for i := 0; i < 10; i++ {
		cb.RecordFailure()
	}
	assert.True(t, cb.AllowRequest())
}

func TestUpstream_ExecuteHTTP(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(req *jsonrpc.Request) *jsonrpc.Response {
		resp, _ := jsonrpc.NewResponse(req.ID, map[string]string{"method": req.Method})
		return resp
	}))
	defer srv.Close()

	u := newTestUpstream("v1", srv.URL, CircuitBreakerConfig{})
	defer u.Close()

	req, err := jsonrpc.NewRequest("status", nil, jsonrpc.NewIDInt(1))
	require.NoError(t, err)

	resp, err := u.Execute(context.Background(), req)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, resp.GetResultAs(&out))
	assert.Equal(t, "status", out["method"])
	assert.Equal(t, uint64(1), u.SwapRequestCount())
}

func TestUpstream_ExecuteFailureTripsBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u := newTestUpstream("v1", srv.URL, CircuitBreakerConfig{Enabled: true, FailureThreshold: 2, RecoveryTimeout: time.Hour})
	req, _ := jsonrpc.NewRequest("status", nil, jsonrpc.NewIDInt(1))

	for i := 0; i < 2; i++ {
		_, err := u.Execute(context.Background(), req)
		require.Error(t, err)
	}

	assert.Equal(t, uint64(2), u.GetFailureCount())
	assert.Equal(t, "open", u.BreakerState())
	assert.False(t, u.Available())
}

func TestUpstream_NoEndpoint(t *testing.T) {
	u := NewUpstream(Config{Name: "empty", Logger: zerolog.Nop()})
	req, _ := jsonrpc.NewRequest("status", nil, jsonrpc.NewIDInt(1))
	_, err := u.Execute(context.Background(), req)
	assert.Error(t, err)
}

func TestHealthMonitor_MarksFailingAndLagging(t *testing.T) {
	good := httptest.NewServer(rpcHandler(t, func(req *jsonrpc.Request) *jsonrpc.Response {
		resp, _ := jsonrpc.NewResponse(req.ID, statusResult("1000", false))
		return resp
	}))
	defer good.Close()

	lagging := httptest.NewServer(rpcHandler(t, func(req *jsonrpc.Request) *jsonrpc.Response {
		resp, _ := jsonrpc.NewResponse(req.ID, statusResult("900", false))
		return resp
	}))
	defer lagging.Close()

	syncing := httptest.NewServer(rpcHandler(t, func(req *jsonrpc.Request) *jsonrpc.Response {
		resp, _ := jsonrpc.NewResponse(req.ID, statusResult("1000", true))
		return resp
	}))
	defer syncing.Close()

	ups := []*Upstream{
		newTestUpstream("good", good.URL, CircuitBreakerConfig{}),
		newTestUpstream("lagging", lagging.URL, CircuitBreakerConfig{}),
		newTestUpstream("syncing", syncing.URL, CircuitBreakerConfig{}),
	}

	hm := NewHealthMonitor(ups, 10, 0, 0, zerolog.Nop())
	hm.CheckAll()
	defer hm.Stop()

	assert.True(t, ups[0].IsHealthy())
	assert.Equal(t, uint64(1000), ups[0].GetCurrentBlock())
	assert.False(t, ups[1].IsHealthy())
	assert.False(t, ups[2].IsHealthy())
	assert.Equal(t, uint64(1000), hm.GetMaxBlock())
}

func TestPool_HealthyViews(t *testing.T) {
	main := NewUpstream(Config{Name: "main", RPCURL: "http://a", Role: RoleMain, Logger: zerolog.Nop()})
	fallback := NewUpstream(Config{Name: "fb", RPCURL: "http://b", Role: RoleFallback, Logger: zerolog.Nop()})
	p := NewPoolFromUpstreams([]*Upstream{main, fallback}, zerolog.Nop())

	assert.Equal(t, []*Upstream{main}, p.GetForRequest())

	main.SetHealthy(false)
	assert.Equal(t, []*Upstream{fallback}, p.GetForRequest())
	assert.True(t, p.HasHealthyUpstreams())

	statuses := p.Status()
	require.Len(t, statuses, 2)
	assert.False(t, statuses[0].Healthy)
	assert.Equal(t, "closed", statuses[1].Breaker)
}

func TestUpstreamWSClient_RequestResponse(t *testing.T) {
	var served atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req jsonrpc.Request
			if err := json.Unmarshal(data, &req); err != nil {
				return
			}
			served.Add(1)
			resp, _ := jsonrpc.NewResponse(req.ID, statusResult("42", false))
			out, _ := resp.Bytes()
			if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	u := NewUpstream(Config{Name: "ws", WSURL: wsURL, PreferWS: true, Logger: zerolog.Nop()})
	require.NoError(t, u.StartWS(context.Background(), time.Second, 50*time.Millisecond, 0))
	defer u.Close()

	req, _ := jsonrpc.NewRequest("status", nil, jsonrpc.NewIDString("caller-id"))
	resp, err := u.Execute(context.Background(), req)
	require.NoError(t, err)

	// the caller's id is restored on the response
	assert.Equal(t, "caller-id", resp.ID.Value())

	height, err := fetchStatus(context.Background(), u)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), height)
	assert.Equal(t, int32(2), served.Load())
}
