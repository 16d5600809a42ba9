package mixnode

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"mixcache/internal/config"
	"mixcache/internal/jsonrpc"
	"mixcache/internal/pagecache"
)

// ErrEmptyResult is returned when the contract answers with a null result
var ErrEmptyResult = errors.New("contract returned empty result")

// Executor sends a JSON-RPC request to some validator
type Executor interface {
	Execute(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
}

// ContractTransport fetches pages of mixnode bonds from the mixnet contract
type ContractTransport struct {
	exec        Executor
	address     string
	queryMethod string
	logger      zerolog.Logger
	nextID      atomic.Int64
}

var _ pagecache.Transport[MixNodeBond] = (*ContractTransport)(nil)

// NewContractTransport creates a transport for the contract described by cfg
func NewContractTransport(exec Executor, cfg config.ContractConfig, logger zerolog.Logger) *ContractTransport {
	method := cfg.QueryMethod
	if method == "" {
		method = config.DefaultQueryMethod
	}
	return &ContractTransport{
		exec:        exec,
		address:     cfg.Address,
		queryMethod: method,
		logger:      logger.With().Str("component", "contract").Str("contract", cfg.Address).Logger(),
	}
}

// FetchPage queries up to perPage bonds whose identity sorts after the cursor
func (t *ContractTransport) FetchPage(ctx context.Context, perPage int, after string) (pagecache.Page[MixNodeBond], error) {
	query := getMixNodesQuery{GetMixNodes: getMixNodesArgs{Limit: perPage, StartAfter: after}}
	req, err := jsonrpc.NewRequest(t.queryMethod, []interface{}{t.address, query}, jsonrpc.NewIDInt(t.nextID.Add(1)))
	if err != nil {
		return pagecache.Page[MixNodeBond]{}, fmt.Errorf("failed to build query: %w", err)
	}

	resp, err := t.exec.Execute(ctx, req)
	if err != nil {
		return pagecache.Page[MixNodeBond]{}, err
	}
	if resp.HasError() {
		return pagecache.Page[MixNodeBond]{}, resp.Error
	}
	if resp.ResultIsNull() {
		return pagecache.Page[MixNodeBond]{}, ErrEmptyResult
	}

	var paged PagedMixNodeResponse
	if err := resp.GetResultAs(&paged); err != nil {
		return pagecache.Page[MixNodeBond]{}, fmt.Errorf("failed to decode mixnode page: %w", err)
	}

	page := pagecache.Page[MixNodeBond]{Items: paged.Nodes}
	if paged.StartNextAfter != nil {
		page.NextCursor = *paged.StartNextAfter
	}

	t.logger.Debug().
		Str("after", after).
		Int("nodes", len(page.Items)).
		Str("next", page.NextCursor).
		Msg("fetched mixnode page")

	return page, nil
}
