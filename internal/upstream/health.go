package upstream

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mixcache/internal/jsonrpc"
)

// nodeStatus is the subset of the Tendermint status reply the monitor needs
type nodeStatus struct {
	SyncInfo struct {
		LatestBlockHeight string `json:"latest_block_height"`
		CatchingUp        bool   `json:"catching_up"`
	} `json:"sync_info"`
}

// HealthMonitor polls validators and marks failing or lagging ones unhealthy
type HealthMonitor struct {
	upstreams         []*Upstream
	blockLagThreshold uint64
	checkInterval     time.Duration
	statusLogInterval time.Duration
	logger            zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	maxBlock uint64
}

// NewHealthMonitor creates a new HealthMonitor
func NewHealthMonitor(upstreams []*Upstream, blockLagThreshold uint64, checkInterval, statusLogInterval time.Duration, logger zerolog.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	return &HealthMonitor{
		upstreams:         upstreams,
		blockLagThreshold: blockLagThreshold,
		checkInterval:     checkInterval,
		statusLogInterval: statusLogInterval,
		logger:            logger.With().Str("component", "health").Logger(),
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Start polls every validator once, then keeps polling in the background
func (hm *HealthMonitor) Start() {
	hm.CheckAll()

	hm.logger.Info().
		Uint64("maxBlock", hm.GetMaxBlock()).
		Int("validators", len(hm.upstreams)).
		Msg("initial validator status fetched")

	if hm.checkInterval > 0 {
		hm.wg.Add(1)
		go hm.pollLoop()
	}

	if hm.statusLogInterval > 0 {
		hm.wg.Add(1)
		go hm.logStatus()
	}
}

// Stop stops health monitoring
func (hm *HealthMonitor) Stop() {
	hm.cancel()
	hm.wg.Wait()
}

func (hm *HealthMonitor) pollLoop() {
	defer hm.wg.Done()

	ticker := time.NewTicker(hm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.CheckAll()
		}
	}
}

// CheckAll polls all validators in parallel and then applies the lag rule
func (hm *HealthMonitor) CheckAll() {
	var wg sync.WaitGroup
	for _, u := range hm.upstreams {
		wg.Add(1)
		go func(u *Upstream) {
			defer wg.Done()
			hm.pollStatus(u)
		}(u)
	}
	wg.Wait()

	hm.checkLag()
}

// pollStatus fetches the latest block height from a validator
func (hm *HealthMonitor) pollStatus(u *Upstream) {
	ctx, cancel := context.WithTimeout(hm.ctx, 10*time.Second)
	defer cancel()

	height, err := fetchStatus(ctx, u)
	if err != nil {
		if u.IsHealthy() {
			hm.logger.Warn().Err(err).Str("validator", u.Name()).Msg("status check failed, marking unhealthy")
		}
		u.SetHealthy(false)
		return
	}

	u.UpdateBlock(height)
	hm.updateMaxBlock(height)
	if !u.IsHealthy() {
		hm.logger.Info().Str("validator", u.Name()).Uint64("block", height).Msg("validator recovered, marking healthy")
	}
	u.SetHealthy(true)

	hm.logger.Debug().
		Str("validator", u.Name()).
		Uint64("block", height).
		Msg("polled validator status")
}

func fetchStatus(ctx context.Context, u *Upstream) (uint64, error) {
	req, err := jsonrpc.NewRequest("status", nil, jsonrpc.NewIDInt(1))
	if err != nil {
		return 0, err
	}

	var resp *jsonrpc.Response
	if u.HasRPC() {
		resp, err = u.ExecuteHTTP(ctx, req)
	} else {
		resp, err = u.ExecuteWS(ctx, req)
	}
	if err != nil {
		return 0, err
	}
	if resp.HasError() {
		return 0, resp.Error
	}

	var status nodeStatus
	if err := resp.GetResultAs(&status); err != nil {
		return 0, fmt.Errorf("failed to parse status: %w", err)
	}
	if status.SyncInfo.CatchingUp {
		return 0, fmt.Errorf("validator is catching up")
	}

	height, err := strconv.ParseUint(status.SyncInfo.LatestBlockHeight, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block height %q: %w", status.SyncInfo.LatestBlockHeight, err)
	}
	return height, nil
}

// updateMaxBlock updates the maximum block height seen across all validators
func (hm *HealthMonitor) updateMaxBlock(block uint64) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if block > hm.maxBlock {
		hm.maxBlock = block
	}
}

// GetMaxBlock returns the maximum block height
func (hm *HealthMonitor) GetMaxBlock() uint64 {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.maxBlock
}

// checkLag marks healthy validators that trail the maximum height by more than
// the threshold as unhealthy. A zero threshold disables the rule.
func (hm *HealthMonitor) checkLag() {
	if hm.blockLagThreshold == 0 {
		return
	}
	maxBlock := hm.GetMaxBlock()

	for _, u := range hm.upstreams {
		current := u.GetCurrentBlock()
		if !u.IsHealthy() || current >= maxBlock {
			continue
		}
		lag := maxBlock - current
		if lag > hm.blockLagThreshold {
			hm.logger.Warn().
				Str("validator", u.Name()).
				Uint64("currentBlock", current).
				Uint64("maxBlock", maxBlock).
				Uint64("lag", lag).
				Msg("validator lagging, marking unhealthy")
			u.SetHealthy(false)
		}
	}
}

// logStatus periodically logs the status of all validators
func (hm *HealthMonitor) logStatus() {
	defer hm.wg.Done()

	ticker := time.NewTicker(hm.statusLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.ctx.Done():
			return
		case <-ticker.C:
			hm.logCurrentStatus()
		}
	}
}

// logCurrentStatus logs health and request counts, resetting the counters
func (hm *HealthMonitor) logCurrentStatus() {
	var healthy, unhealthy []string
	var totalRequests uint64

	for _, u := range hm.upstreams {
		requests := u.SwapRequestCount()
		totalRequests += requests
		status := fmt.Sprintf("%s(block=%d,requests=%d,breaker=%s)", u.Name(), u.GetCurrentBlock(), requests, u.BreakerState())
		if u.IsHealthy() {
			healthy = append(healthy, status)
		} else {
			unhealthy = append(unhealthy, status)
		}
	}

	hm.logger.Info().
		Uint64("maxBlock", hm.GetMaxBlock()).
		Uint64("totalRequests", totalRequests).
		Strs("healthy", healthy).
		Strs("unhealthy", unhealthy).
		Msg("validators status")
}
