package balancer

import "mixcache/internal/upstream"

// Selector is the interface for selecting a validator; same as upstream.Selector for compatibility
type Selector = upstream.Selector

// UpstreamProvider provides access to validators
type UpstreamProvider interface {
	// GetHealthyMain returns healthy main validators
	GetHealthyMain() []*upstream.Upstream

	// GetHealthyFallback returns healthy fallback validators
	GetHealthyFallback() []*upstream.Upstream
}

// New returns the selector registered under name. Unknown names get weighted round-robin.
func New(name string, provider UpstreamProvider) Selector {
	if name == "roundrobin" {
		return NewRoundRobin(provider)
	}
	return NewWeightedRoundRobin(provider)
}
