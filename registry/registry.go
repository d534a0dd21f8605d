// Package registry is the directory of which endpoint serves which procedure.
//
// A server publishes one entry per procedure it exposes; a client looks a
// procedure up before calling it and picks one of the returned instances
// with a loadbalance.Balancer.
package registry

import "context"

// Instance is one endpoint that serves a procedure.
type Instance struct {
	Addr    string // Dialable address, e.g. "127.0.0.1:7070"
	Label   string // Endpoint label, for diagnostics
	Weight  int    // Weight for load balancing
	Version string
}

type Registry interface {
	Register(procedure string, instance Instance, ttl int64) error
	Deregister(procedure string, addr string) error
	Discover(procedure string) ([]Instance, error)
	// Watch emits the full instance list every time it changes, until ctx ends.
	Watch(ctx context.Context, procedure string) <-chan []Instance
}
