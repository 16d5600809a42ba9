package upstream

import (
	"sync/atomic"

	"mixcache/internal/config"
)

// Role represents the validator role
type Role string

const (
	RoleMain     Role = "main"
	RoleFallback Role = "fallback"
)

// RoleFromConfig converts config.Role to upstream.Role
func RoleFromConfig(r config.Role) Role {
	switch r {
	case config.RoleFallback:
		return RoleFallback
	default:
		return RoleMain
	}
}

// Selector picks the next validator to send a request to
type Selector interface {
	Next(exclude map[string]bool) *Upstream
}

// Status represents the health status of a validator
type Status struct {
	healthy      atomic.Bool
	currentBlock atomic.Uint64
	requestCount atomic.Uint64
	failureCount atomic.Uint64
}

// NewStatus creates a new Status
func NewStatus() *Status {
	s := &Status{}
	s.healthy.Store(true)
	return s
}

// IsHealthy returns the health status
func (s *Status) IsHealthy() bool {
	return s.healthy.Load()
}

// SetHealthy sets the health status
func (s *Status) SetHealthy(healthy bool) {
	s.healthy.Store(healthy)
}

// GetCurrentBlock returns the latest block height reported by the validator
func (s *Status) GetCurrentBlock() uint64 {
	return s.currentBlock.Load()
}

// UpdateBlock updates the block if the new value is higher
// Returns true if the block was updated
func (s *Status) UpdateBlock(block uint64) bool {
	for {
		current := s.currentBlock.Load()
		if block <= current {
			return false
		}
		if s.currentBlock.CompareAndSwap(current, block) {
			return true
		}
	}
}

// IncrementRequestCount increments the request counter
func (s *Status) IncrementRequestCount() {
	s.requestCount.Add(1)
}

// SwapRequestCount returns the current request count and resets it to zero
func (s *Status) SwapRequestCount() uint64 {
	return s.requestCount.Swap(0)
}

// IncrementFailureCount increments the failed request counter
func (s *Status) IncrementFailureCount() {
	s.failureCount.Add(1)
}

// GetFailureCount returns the total number of failed requests
func (s *Status) GetFailureCount() uint64 {
	return s.failureCount.Load()
}
