// Package registry provides the etcd-based implementation of the Registry interface.
//
// etcd serves as a shared phonebook of procedures:
//
//	Key:   /msgrpc/{procedure}/{addr}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if the server crashes, the lease expires
// and its entries disappear with it.
package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// KeyPrefix roots every key written by EtcdRegistry.
const KeyPrefix = "/msgrpc/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

func procedurePrefix(procedure string) string {
	return KeyPrefix + procedure + "/"
}

// Register adds an instance under procedure with a TTL lease kept alive in
// the background.
//
// Note: the lease id is a local variable, NOT stored on the struct, so one
// EtcdRegistry can be shared by several servers without a data race.
func (r *EtcdRegistry) Register(procedure string, instance Instance, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, procedurePrefix(procedure)+instance.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes an instance. Called during graceful shutdown before
// closing the listener.
func (r *EtcdRegistry) Deregister(procedure string, addr string) error {
	_, err := r.client.Delete(context.TODO(), procedurePrefix(procedure)+addr)
	return err
}

// Watch uses etcd's server-push Watch API and re-reads the full list on any
// change under the procedure prefix.
func (r *EtcdRegistry) Watch(ctx context.Context, procedure string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, procedurePrefix(procedure), clientv3.WithPrefix())
		for range watchChan {
			// Simpler than applying individual watch events
			instances, err := r.Discover(procedure)
			if err != nil {
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns every instance currently registered for procedure.
func (r *EtcdRegistry) Discover(procedure string) ([]Instance, error) {
	resp, err := r.client.Get(context.TODO(), procedurePrefix(procedure), clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			continue // Skip malformed entries
		}
		instances = append(instances, instance)
	}

	return instances, nil
}
