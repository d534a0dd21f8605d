package registry

import "context"

// StaticRegistry answers every lookup with a fixed server list. It is for
// clients pointed at known addresses without a shared directory.
type StaticRegistry struct {
	instances []Instance
}

func NewStaticRegistry(addrs ...string) *StaticRegistry {
	insts := make([]Instance, len(addrs))
	for i, addr := range addrs {
		insts[i] = Instance{Addr: addr, Weight: 1}
	}
	return &StaticRegistry{instances: insts}
}

// Register and Deregister are no-ops; the list never changes.
func (s *StaticRegistry) Register(procedure string, instance Instance, ttl int64) error { return nil }

func (s *StaticRegistry) Deregister(procedure string, addr string) error { return nil }

func (s *StaticRegistry) Discover(procedure string) ([]Instance, error) {
	return append([]Instance(nil), s.instances...), nil
}

// Watch never emits; the channel closes when ctx ends.
func (s *StaticRegistry) Watch(ctx context.Context, procedure string) <-chan []Instance {
	ch := make(chan []Instance)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}
