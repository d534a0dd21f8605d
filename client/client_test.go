package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgrpc/codec"
	"msgrpc/loadbalance"
	"msgrpc/message"
	"msgrpc/middleware"
	"msgrpc/registry"
	"msgrpc/rpc"
	"msgrpc/server"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct {
	calls atomic.Int64
}

func (a *Arith) Add(args *Args, reply *Reply) error {
	a.calls.Add(1)
	reply.Result = args.A + args.B
	return nil
}

func startServer(t *testing.T, reg registry.Registry, rcvr any, opts ...server.Option) *server.Server {
	t.Helper()
	svr := server.New(append([]server.Option{server.WithLogger(zerolog.Nop()), server.WithHeartbeat(0)}, opts...)...)
	require.NoError(t, svr.Register(rcvr))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(ln, "", reg) }()
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
		<-served
	})

	// Publishing happens inside ServeListener
	require.Eventually(t, func() bool {
		insts, _ := reg.Discover("Arith.Add")
		for _, inst := range insts {
			if inst.Addr == ln.Addr().String() {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return svr
}

func newClient(t *testing.T, reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	c := New(reg, bal, append([]Option{WithLogger(zerolog.Nop()), WithHeartbeat(0)}, opts...)...)
	t.Cleanup(func() { c.Close() })
	return c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientCall(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			reg := registry.NewMemoryRegistry()
			startServer(t, reg, &Arith{})
			c := newClient(t, reg, nil, WithCodec(ct))

			// Call Arith.Add(1, 2) = 3
			reply := &Reply{}
			require.NoError(t, c.Call(testContext(t), "Arith.Add", &Args{A: 1, B: 2}, reply))
			assert.Equal(t, 3, reply.Result)

			// Call again over the same connection: Add(10, 20) = 30
			reply2 := &Reply{}
			require.NoError(t, c.Call(testContext(t), "Arith.Add", &Args{A: 10, B: 20}, reply2))
			assert.Equal(t, 30, reply2.Result)

			c.mu.Lock()
			assert.Len(t, c.conns, 1)
			c.mu.Unlock()
		})
	}
}

func TestClientNoInstances(t *testing.T) {
	c := newClient(t, registry.NewMemoryRegistry(), nil)
	err := c.Call(testContext(t), "Arith.Add", &Args{}, nil)
	assert.ErrorIs(t, err, loadbalance.ErrNoInstances)
}

func TestClientSpreadsCalls(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	one, two := &Arith{}, &Arith{}
	startServer(t, reg, one)
	startServer(t, reg, two)
	c := newClient(t, reg, &loadbalance.RoundRobinBalancer{})

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Call(testContext(t), "Arith.Add", &Args{A: i, B: i}, nil))
	}
	assert.Equal(t, int64(5), one.calls.Load())
	assert.Equal(t, int64(5), two.calls.Load())
}

func TestClientConsistentHashSticks(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	one, two := &Arith{}, &Arith{}
	startServer(t, reg, one)
	startServer(t, reg, two)
	c := newClient(t, reg, loadbalance.NewConsistentHashBalancer())

	for i := 0; i < 10; i++ {
		require.NoError(t, c.Call(testContext(t), "Arith.Add", &Args{A: i}, nil))
	}
	calls := []int64{one.calls.Load(), two.calls.Load()}
	assert.ElementsMatch(t, []int64{0, 10}, calls)
}

func TestClientFollowsRegistry(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	first := &Arith{}
	svr := startServer(t, reg, first)
	c := newClient(t, reg, nil)
	require.NoError(t, c.Call(testContext(t), "Arith.Add", &Args{}, nil))

	second := &Arith{}
	startServer(t, reg, second)
	require.NoError(t, svr.Shutdown(time.Second))

	// The watch drops the stopped server from the cache
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		insts := c.instances["Arith.Add"]
		return len(insts) == 1 && insts[0].Addr != svr.Addr().String()
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Call(testContext(t), "Arith.Add", &Args{}, nil))
	assert.Equal(t, int64(1), second.calls.Load())
}

func TestClientCallback(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	var mu sync.Mutex
	var asked []string
	startServer(t, reg, &Arith{}, func(s *server.Server) {
		s.OnConnect(func(e *rpc.Engine) {
			go func() {
				name, err := rpc.CallAs[string](context.Background(), e, "whoami", nil)
				if err == nil {
					mu.Lock()
					asked = append(asked, name)
					mu.Unlock()
				}
			}()
		})
	})

	c := newClient(t, reg, nil)
	c.HandleFunc("whoami", func(ctx context.Context, arg any) (any, error) { return "client-1", nil })
	require.NoError(t, c.Call(testContext(t), "Arith.Add", &Args{}, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(asked) == 1 && asked[0] == "client-1"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestClientMiddleware(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	attempts := 0
	flaky := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.RequestPayload) (any, error) {
			attempts++
			if attempts < 3 {
				return nil, middleware.ErrTimeout
			}
			return next(ctx, req)
		}
	}
	startServer(t, reg, &Arith{})
	c := newClient(t, reg, nil, WithMiddleware(
		middleware.RetryMiddleware(3, time.Millisecond, nil),
		flaky,
	))

	reply := &Reply{}
	require.NoError(t, c.Call(testContext(t), "Arith.Add", &Args{A: 2, B: 2}, reply))
	assert.Equal(t, 4, reply.Result)
	assert.Equal(t, 3, attempts)
}

func TestClientClose(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	startServer(t, reg, &Arith{})
	c := newClient(t, reg, nil)
	require.NoError(t, c.Call(testContext(t), "Arith.Add", &Args{}, nil))

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	err := c.Call(testContext(t), "Arith.Add", &Args{}, nil)
	assert.True(t, errors.Is(err, ErrClientClosed))
}

func TestClientConcurrentFirstCalls(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	arith := &Arith{}
	startServer(t, reg, arith)
	c := newClient(t, reg, nil)

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var reply Reply
			if err := c.Call(testContext(t), "Arith.Add", &Args{A: i, B: 1}, &reply); err != nil {
				errs <- err
				return
			}
			if reply.Result != i+1 {
				errs <- fmt.Errorf("call %d: got %d", i, reply.Result)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.conns, 1)
	for _, cn := range c.conns {
		assert.True(t, cn.engine.Started())
	}
	assert.Equal(t, int64(callers), arith.calls.Load())
}
