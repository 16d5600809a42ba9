package balancer

import (
	"sync"

	"mixcache/internal/upstream"
)

// WeightedRoundRobin implements weighted round-robin load balancing
type WeightedRoundRobin struct {
	provider      UpstreamProvider
	mu            sync.Mutex
	currentIndex  int
	currentWeight int
}

// NewWeightedRoundRobin creates a new WeightedRoundRobin balancer
func NewWeightedRoundRobin(provider UpstreamProvider) *WeightedRoundRobin {
	return &WeightedRoundRobin{
		provider:      provider,
		currentIndex:  -1,
		currentWeight: 0,
	}
}

// Next returns the next validator using weighted round-robin algorithm
// It filters healthy validators whose circuit breaker admits a request, and
// prefers main over fallback. Validators in the exclude map are skipped.
func (wrr *WeightedRoundRobin) Next(exclude map[string]bool) *upstream.Upstream {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()

	// Get available validators (main first, then fallback if no main)
	upstreams := wrr.getAvailable(exclude)
	if len(upstreams) == 0 {
		return nil
	}

	// If only one validator, return it directly
	if len(upstreams) == 1 {
		return upstreams[0]
	}

	// Calculate GCD and max weight for the current set
	gcd := wrr.gcdWeights(upstreams)
	maxWeight := wrr.maxWeight(upstreams)

	// Weighted round-robin selection
	for {
		wrr.currentIndex = (wrr.currentIndex + 1) % len(upstreams)

		if wrr.currentIndex == 0 {
			wrr.currentWeight = wrr.currentWeight - gcd
			if wrr.currentWeight <= 0 {
				wrr.currentWeight = maxWeight
			}
		}

		u := upstreams[wrr.currentIndex]
		if u.Weight() >= wrr.currentWeight {
			return u
		}
	}
}

// getAvailable returns available validators, excluding those in exclude map
// Returns main validators if any are available, otherwise fallback
func (wrr *WeightedRoundRobin) getAvailable(exclude map[string]bool) []*upstream.Upstream {
	// Try main validators first
	main := wrr.filterExcluded(wrr.provider.GetHealthyMain(), exclude)
	if len(main) > 0 {
		return main
	}

	// Fall back to fallback validators
	return wrr.filterExcluded(wrr.provider.GetHealthyFallback(), exclude)
}

// filterExcluded removes excluded and breaker-blocked validators from the list
func (wrr *WeightedRoundRobin) filterExcluded(upstreams []*upstream.Upstream, exclude map[string]bool) []*upstream.Upstream {
	return filterAvailable(upstreams, exclude)
}

// gcdWeights calculates the GCD of all validator weights
func (wrr *WeightedRoundRobin) gcdWeights(upstreams []*upstream.Upstream) int {
	if len(upstreams) == 0 {
		return 1
	}

	result := upstreams[0].Weight()
	for i := 1; i < len(upstreams); i++ {
		result = gcd(result, upstreams[i].Weight())
	}
	return result
}

// maxWeight returns the maximum weight among validators
func (wrr *WeightedRoundRobin) maxWeight(upstreams []*upstream.Upstream) int {
	max := 0
	for _, u := range upstreams {
		if u.Weight() > max {
			max = u.Weight()
		}
	}
	return max
}

// gcd calculates the greatest common divisor
func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Reset resets the balancer state
func (wrr *WeightedRoundRobin) Reset() {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()

	wrr.currentIndex = -1
	wrr.currentWeight = 0
}

// RoundRobin is a simple round-robin balancer (no weights)
type RoundRobin struct {
	provider UpstreamProvider
	mu       sync.Mutex
	index    int
}

// NewRoundRobin creates a new simple round-robin balancer
func NewRoundRobin(provider UpstreamProvider) *RoundRobin {
	return &RoundRobin{
		provider: provider,
		index:    -1,
	}
}

// Next returns the next validator using simple round-robin
func (rr *RoundRobin) Next(exclude map[string]bool) *upstream.Upstream {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	upstreams := rr.getAvailable(exclude)
	if len(upstreams) == 0 {
		return nil
	}

	rr.index = (rr.index + 1) % len(upstreams)
	return upstreams[rr.index]
}

// getAvailable returns available validators
func (rr *RoundRobin) getAvailable(exclude map[string]bool) []*upstream.Upstream {
	// Try main validators first
	main := rr.filterExcluded(rr.provider.GetHealthyMain(), exclude)
	if len(main) > 0 {
		return main
	}

	// Fall back to fallback validators
	return rr.filterExcluded(rr.provider.GetHealthyFallback(), exclude)
}

// filterExcluded removes excluded and breaker-blocked validators from the list
func (rr *RoundRobin) filterExcluded(upstreams []*upstream.Upstream, exclude map[string]bool) []*upstream.Upstream {
	return filterAvailable(upstreams, exclude)
}

func filterAvailable(upstreams []*upstream.Upstream, exclude map[string]bool) []*upstream.Upstream {
	result := make([]*upstream.Upstream, 0, len(upstreams))
	for _, u := range upstreams {
		if exclude[u.Name()] || !u.Available() {
			continue
		}
		result = append(result, u)
	}
	return result
}
