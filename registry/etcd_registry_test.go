package registry

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a running etcd, e.g. MSGRPC_ETCD_ENDPOINTS=localhost:2379.
func etcdEndpoints(t *testing.T) []string {
	t.Helper()
	raw := os.Getenv("MSGRPC_ETCD_ENDPOINTS")
	if raw == "" {
		t.Skip("MSGRPC_ETCD_ENDPOINTS not set")
	}
	return strings.Split(raw, ",")
}

func TestEtcdRegisterAndDiscover(t *testing.T) {
	reg, err := NewEtcdRegistry(etcdEndpoints(t), 2*time.Second)
	require.NoError(t, err)
	defer reg.Close()

	inst1 := Instance{Addr: "127.0.0.1:8001", Weight: 10, Version: "1.0"}
	inst2 := Instance{Addr: "127.0.0.1:8002", Weight: 5, Version: "1.0"}
	require.NoError(t, reg.Register("Arith.Add", inst1, 10))
	require.NoError(t, reg.Register("Arith.Add", inst2, 10))

	instances, err := reg.Discover("Arith.Add")
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	require.NoError(t, reg.Deregister("Arith.Add", inst1.Addr))
	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover("Arith.Add")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2.Addr, instances[0].Addr)

	reg.Deregister("Arith.Add", inst2.Addr)
}
