// Package discovery keeps the strategy registry for video discovery.
// YouTube RSS is the only strategy today; the registry keeps the door
// open for API-based or non-YouTube sources without touching the engine.
package discovery

import (
	"fmt"

	"ChannelDigest/internal/ports"
)

// Strategy is a named discovery implementation.
type Strategy interface {
	ports.Discovery
	Kind() string
}

// Registry maps strategy kinds to their implementations.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{strategies: map[string]Strategy{}}
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	if r.strategies == nil {
		r.strategies = map[string]Strategy{}
	}
	r.strategies[s.Kind()] = s
}

// Resolve returns a strategy by kind or an error if it is absent.
func (r *Registry) Resolve(kind string) (Strategy, error) {
	if s, ok := r.strategies[kind]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("discovery strategy %q is not registered", kind)
}
