// Package loadbalance chooses which registered endpoint serves a call.
//
// Three strategies are implemented:
//   - RoundRobin:      stateless procedures, equal-capacity endpoints
//   - WeightedRandom:  heterogeneous endpoints (different CPU/memory)
//   - ConsistentHash:  endpoints holding per-key state; the same key keeps
//     landing on the same endpoint
package loadbalance

import (
	"errors"
	"fmt"

	"msgrpc/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer is the interface for load balancing strategies.
// The client calls Pick() before each call to select a target instance.
type Balancer interface {
	// Pick selects one instance from the available list.
	// Called on every call, must be goroutine-safe.
	Pick(instances []registry.Instance) (*registry.Instance, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// KeyedBalancer is a Balancer that can route by a caller-chosen key.
// The client uses the procedure name as the key when the balancer supports it.
type KeyedBalancer interface {
	Balancer
	PickKey(key string, instances []registry.Instance) (*registry.Instance, error)
}

// ByName returns the strategy for a config name.
func ByName(name string) (Balancer, error) {
	switch name {
	case "", "round_robin":
		return &RoundRobinBalancer{}, nil
	case "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "consistent_hash":
		return NewConsistentHashBalancer(), nil
	default:
		return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
	}
}
