package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixcache/internal/mixnode"
	"mixcache/internal/pagecache"
	"mixcache/internal/upstream"
)

func testBond(identity, owner string, layer mixnode.Layer) mixnode.MixNodeBond {
	return mixnode.MixNodeBond{
		BondAmount:      mixnode.Coin{Denom: "unym", Amount: "100"},
		TotalDelegation: mixnode.Coin{Denom: "unym", Amount: "25"},
		Owner:           owner,
		Layer:           layer,
		MixNode:         mixnode.MixNode{IdentityKey: identity, Host: identity + ".example.net"},
	}
}

type fixture struct {
	handler http.Handler
	cache   *pagecache.Cache[mixnode.MixNodeBond]
	fail    error
}

type staticValidators []upstream.ValidatorStatus

func (s staticValidators) Status() []upstream.ValidatorStatus { return s }

type cacheTrigger struct {
	cache *pagecache.Cache[mixnode.MixNodeBond]
}

func (c cacheTrigger) Trigger(ctx context.Context) error { return c.cache.Refresh(ctx) }

func newFixture(t *testing.T) *fixture {
	f := &fixture{}
	nodes := []mixnode.MixNodeBond{
		testBond("a", "alice", mixnode.LayerOne),
		testBond("b", "bob", mixnode.LayerTwo),
		testBond("c", "alice", mixnode.LayerTwo),
	}
	tr := pagecache.TransportFunc[mixnode.MixNodeBond](func(ctx context.Context, perPage int, after string) (pagecache.Page[mixnode.MixNodeBond], error) {
		if after == "" {
			return pagecache.Page[mixnode.MixNodeBond]{Items: nodes[:2], NextCursor: "b"}, nil
		}
		if f.fail != nil {
			return pagecache.Page[mixnode.MixNodeBond]{}, f.fail
		}
		return pagecache.Page[mixnode.MixNodeBond]{Items: nodes[2:], NextCursor: "c"}, nil
	})

	cache, err := pagecache.New[mixnode.MixNodeBond](tr, 2)
	require.NoError(t, err)
	dir, err := mixnode.NewDirectory(cache, 8)
	require.NoError(t, err)

	validators := staticValidators{{Name: "v1", Role: upstream.RoleMain, Healthy: true, Block: 42, Breaker: "closed"}}
	f.cache = cache
	f.handler = NewHandler(dir, cache, validators, cacheTrigger{cache}, "unym", zerolog.Nop()).Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHandler_EmptyBeforeRefresh(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/mixnodes")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[mixNodesResponse](t, rec)
	assert.Equal(t, 0, body.Count)
	assert.NotNil(t, body.Nodes)
}

func TestHandler_RefreshThenList(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[pagecache.Stats](t, rec)
	assert.Equal(t, 3, stats.Size)
	assert.Equal(t, uint64(1), stats.Generation)

	body := decode[mixNodesResponse](t, f.do(t, http.MethodGet, "/mixnodes"))
	require.Equal(t, 3, body.Count)
	assert.Equal(t, "a", body.Nodes[0].Identity())
	assert.Equal(t, "c", body.Nodes[2].Identity())
}

func TestHandler_Filters(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Refresh(context.Background()))

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"by layer", "/mixnodes?layer=2", []string{"b", "c"}},
		{"by owner", "/mixnodes?owner=alice", []string{"a", "c"}},
		{"layer and owner", "/mixnodes?layer=2&owner=alice", []string{"c"}},
		{"no match", "/mixnodes?owner=nobody", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			body := decode[mixNodesResponse](t, rec)
			got := make([]string, 0, len(body.Nodes))
			for _, n := range body.Nodes {
				got = append(got, n.Identity())
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandler_InvalidLayer(t *testing.T) {
	f := newFixture(t)
	for _, q := range []string{"/mixnodes?layer=x", "/mixnodes?layer=7", "/mixnodes?layer=-1"} {
		rec := f.do(t, http.MethodGet, q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestHandler_GetByIdentity(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Refresh(context.Background()))

	rec := f.do(t, http.MethodGet, "/mixnodes/b")
	require.Equal(t, http.StatusOK, rec.Code)
	node := decode[mixnode.MixNodeBond](t, rec)
	assert.Equal(t, "bob", node.Owner)

	rec = f.do(t, http.MethodGet, "/mixnodes/zzz")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_RefreshFailureReportsPages(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Refresh(context.Background()))

	f.fail = errors.New("validator unreachable")
	rec := f.do(t, http.MethodPost, "/refresh")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	body := decode[errorResponse](t, rec)
	require.NotNil(t, body.PagesCompleted)
	assert.Equal(t, 1, *body.PagesCompleted)
	assert.Contains(t, body.Error, "validator unreachable")

	// previous snapshot is still served
	list := decode[mixNodesResponse](t, f.do(t, http.MethodGet, "/mixnodes"))
	assert.Equal(t, 3, list.Count)
}

func TestHandler_Status(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Refresh(context.Background()))

	rec := f.do(t, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[statusResponse](t, rec)
	assert.Equal(t, 3, body.Cache.Size)
	assert.Equal(t, 2, body.Cache.Pages)
	require.Len(t, body.Validators, 1)
	assert.Equal(t, uint64(42), body.Validators[0].Block)
	assert.Equal(t, "unym", body.Denom)
	assert.Equal(t, "300", body.TotalBonded)
}

func TestHandler_MixNodeStake(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Refresh(context.Background()))

	rec := f.do(t, http.MethodGet, "/mixnodes/a/stake")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[stakeResponse](t, rec)
	assert.Equal(t, "a", body.Identity)
	assert.Equal(t, "unym", body.Denom)
	assert.Equal(t, "125", body.TotalStake)

	rec = f.do(t, http.MethodGet, "/mixnodes/zzz/stake")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
