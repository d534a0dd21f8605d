package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegisterAndDiscover(t *testing.T) {
	reg := NewMemoryRegistry()

	inst1 := Instance{Addr: "127.0.0.1:8001", Label: "one", Weight: 10, Version: "1.0"}
	inst2 := Instance{Addr: "127.0.0.1:8002", Label: "two", Weight: 5, Version: "1.0"}
	require.NoError(t, reg.Register("Arith.Add", inst1, 10))
	require.NoError(t, reg.Register("Arith.Add", inst2, 10))

	instances, err := reg.Discover("Arith.Add")
	require.NoError(t, err)
	assert.ElementsMatch(t, []Instance{inst1, inst2}, instances)

	// Same address replaces rather than duplicates.
	inst1.Weight = 20
	require.NoError(t, reg.Register("Arith.Add", inst1, 10))
	instances, _ = reg.Discover("Arith.Add")
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister("Arith.Add", inst1.Addr))
	instances, err = reg.Discover("Arith.Add")
	require.NoError(t, err)
	assert.Equal(t, []Instance{inst2}, instances)

	instances, err = reg.Discover("unknown")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestMemoryWatch(t *testing.T) {
	reg := NewMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	updates := reg.Watch(ctx, "double")

	require.NoError(t, reg.Register("double", Instance{Addr: ":1"}, 10))
	require.NoError(t, reg.Register("double", Instance{Addr: ":2"}, 10))

	// Only the latest list is kept for a slow watcher.
	select {
	case got := <-updates:
		assert.Len(t, got, 2)
	case <-time.After(time.Second):
		t.Fatal("no watch update")
	}

	cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}

func TestStaticRegistry(t *testing.T) {
	reg := NewStaticRegistry("127.0.0.1:1", "127.0.0.1:2")
	require.NoError(t, reg.Register("anything", Instance{Addr: ":3"}, 10))

	insts, err := reg.Discover("anything")
	require.NoError(t, err)
	assert.Equal(t, []Instance{{Addr: "127.0.0.1:1", Weight: 1}, {Addr: "127.0.0.1:2", Weight: 1}}, insts)

	ctx, cancel := context.WithCancel(context.Background())
	updates := reg.Watch(ctx, "anything")
	cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed")
	}
}
