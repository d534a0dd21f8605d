package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msgrpc/codec"
	"msgrpc/middleware"
	"msgrpc/registry"
	"msgrpc/rpc"
	"msgrpc/transport"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Div(args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("divide by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

// Sleep honours the call context.
func (a *Arith) Sleep(ctx context.Context, args *Args, reply *Reply) error {
	select {
	case <-time.After(time.Duration(args.A) * time.Millisecond):
		reply.Result = args.A
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Methods of any other shape are not served.
func (a *Arith) String() string { return "Arith" }

func startServer(t *testing.T, svr *Server, reg registry.Registry) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(ln, "", reg) }()
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
		assert.NoError(t, <-served)
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr string, ct codec.CodecType) *rpc.Engine {
	t.Helper()
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	stream := transport.NewStream(nc, ct, "test-client", transport.WithHeartbeat(0))
	e := rpc.New(stream, rpc.WithLogger(zerolog.Nop()))
	require.NoError(t, e.Start())
	t.Cleanup(func() { stream.Close() })
	return e
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// handling counts requests still being answered across all connections.
func handling(svr *Server) int {
	svr.mu.Lock()
	engines := svr.liveEnginesLocked()
	svr.mu.Unlock()
	n := 0
	for _, e := range engines {
		n += e.Handling()
	}
	return n
}

func newServer(opts ...Option) *Server {
	return New(append([]Option{WithLogger(zerolog.Nop()), WithHeartbeat(0)}, opts...)...)
}

func TestServer(t *testing.T) {
	for _, ct := range []codec.CodecType{codec.CodecTypeJSON, codec.CodecTypeBinary} {
		t.Run(ct.String(), func(t *testing.T) {
			svr := newServer()
			require.NoError(t, svr.Register(&Arith{}))
			assert.Equal(t, []string{"Arith.Add", "Arith.Div", "Arith.Sleep"}, svr.Procedures())

			e := dial(t, startServer(t, svr, nil), ct)
			ctx := testContext(t)

			reply, err := rpc.CallAs[Reply](ctx, e, "Arith.Add", Args{1, 2})
			require.NoError(t, err)
			assert.Equal(t, 3, reply.Result)

			_, err = e.Call(ctx, "Arith.Div", Args{1, 0})
			require.Error(t, err)
			assert.Equal(t, "divide by zero", err.Error())

			reply, err = rpc.CallAs[Reply](ctx, e, "Arith.Sleep", Args{A: 10})
			require.NoError(t, err)
			assert.Equal(t, 10, reply.Result)

			_, err = e.Call(ctx, "Arith.Mul", Args{1, 2})
			assert.ErrorIs(t, err, rpc.ErrProcedureNotFound)
		})
	}
}

func TestRegisterRejectsBadReceivers(t *testing.T) {
	svr := newServer()
	assert.Error(t, svr.Register(Arith{}))
	assert.Error(t, svr.Register(new(int)))

	type empty struct{}
	assert.Error(t, svr.Register(&empty{}))
	assert.Empty(t, svr.Procedures())
}

func TestHandleReachesLiveConnections(t *testing.T) {
	svr := newServer()
	e := dial(t, startServer(t, svr, nil), codec.CodecTypeJSON)
	require.Eventually(t, func() bool { return svr.Connections() == 1 }, 2*time.Second, 5*time.Millisecond)

	svr.HandleFunc("double", func(ctx context.Context, arg any) (any, error) {
		n, err := rpc.As[int](arg)
		return n * 2, err
	})
	n, err := rpc.CallAs[int](testContext(t), e, "double", 21)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}

func TestServerMiddleware(t *testing.T) {
	svr := newServer()
	svr.Use(middleware.TimeOutMiddleware(20 * time.Millisecond))
	require.NoError(t, svr.Register(&Arith{}))
	e := dial(t, startServer(t, svr, nil), codec.CodecTypeJSON)

	_, err := e.Call(testContext(t), "Arith.Sleep", Args{A: 1000})
	require.Error(t, err)
	assert.Equal(t, middleware.ErrTimeout.Error(), err.Error())
}

func TestOnConnectCallsBack(t *testing.T) {
	svr := newServer()
	greeted := make(chan string, 1)
	svr.OnConnect(func(e *rpc.Engine) {
		go func() {
			name, err := rpc.CallAs[string](context.Background(), e, "whoami", nil)
			if err == nil {
				greeted <- name
			}
		}()
	})

	addr := startServer(t, svr, nil)
	nc, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	stream := transport.NewStream(nc, codec.CodecTypeJSON, "window", transport.WithHeartbeat(0))
	defer stream.Close()
	e := rpc.New(stream, rpc.WithLogger(zerolog.Nop()))
	e.RegisterFunc("whoami", func(ctx context.Context, arg any) (any, error) { return "window", nil })
	require.NoError(t, e.Start())

	select {
	case name := <-greeted:
		assert.Equal(t, "window", name)
	case <-time.After(2 * time.Second):
		t.Fatal("server never called back")
	}
}

func TestPublishAndShutdown(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	svr := newServer(WithInstance(registry.Instance{Label: "arith-1", Weight: 3, Version: "1.0"}))
	require.NoError(t, svr.Register(&Arith{}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(ln, "10.0.0.1:9000", reg) }()

	require.Eventually(t, func() bool {
		insts, _ := reg.Discover("Arith.Add")
		return len(insts) == 1
	}, 2*time.Second, 5*time.Millisecond)
	insts, _ := reg.Discover("Arith.Div")
	require.Len(t, insts, 1)
	assert.Equal(t, registry.Instance{Addr: "10.0.0.1:9000", Label: "arith-1", Weight: 3, Version: "1.0"}, insts[0])

	require.NoError(t, svr.Shutdown(time.Second))
	require.NoError(t, <-served)
	insts, _ = reg.Discover("Arith.Add")
	assert.Empty(t, insts)

	assert.ErrorIs(t, svr.Serve("tcp", "127.0.0.1:0", "", nil), ErrServerClosed)
}

func TestShutdownWaitsForInflight(t *testing.T) {
	svr := newServer()
	require.NoError(t, svr.Register(&Arith{}))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(ln, "", nil) }()

	e := dial(t, ln.Addr().String(), codec.CodecTypeJSON)
	future, err := e.Go("Arith.Sleep", Args{A: 100})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return handling(svr) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svr.Shutdown(2*time.Second))
	require.NoError(t, <-served)

	value, err := future.Wait(testContext(t))
	require.NoError(t, err)
	reply, err := rpc.As[Reply](value)
	require.NoError(t, err)
	assert.Equal(t, 100, reply.Result)
	assert.Zero(t, svr.Connections())
}

func TestShutdownTimeout(t *testing.T) {
	svr := newServer()
	release := make(chan struct{})
	defer close(release)
	svr.HandleFunc("stuck", func(ctx context.Context, arg any) (any, error) {
		<-release
		return nil, nil
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go svr.ServeListener(ln, "", nil)

	e := dial(t, ln.Addr().String(), codec.CodecTypeJSON)
	_, err = e.Go("stuck", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return handling(svr) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Error(t, svr.Shutdown(30*time.Millisecond))
}
