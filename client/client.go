// Package client calls procedures served by msgrpc servers.
//
// Call flow:
//
//	Call(procedure) → Middleware Chain → instances (registry, cached by Watch)
//	  → Balancer.Pick → connection for addr (dial once, reuse) → rpc.Engine.Call
//
// Each server address gets one multiplexed connection. The connection is an
// rpc endpoint in both directions, so procedures registered with Handle can
// be called back by the server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"msgrpc/codec"
	"msgrpc/loadbalance"
	"msgrpc/message"
	"msgrpc/middleware"
	"msgrpc/registry"
	"msgrpc/rpc"
	"msgrpc/transport"
)

const DefaultDialTimeout = 5 * time.Second

var ErrClientClosed = errors.New("client: closed")

type conn struct {
	stream *transport.Stream
	engine *rpc.Engine
}

// Client is safe for concurrent use.
type Client struct {
	registry    registry.Registry
	balancer    loadbalance.Balancer
	codecType   codec.CodecType
	tag         string
	heartbeat   time.Duration
	dialTimeout time.Duration
	logger      zerolog.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(...(invoke))

	ctx    context.Context // Cancelled by Close; ends registry watches
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	conns      map[string]*conn                // addr → connection
	instances  map[string][]registry.Instance // procedure → latest known instances
	procedures map[string]rpc.Procedure        // served back to the server
}

// Option customizes a Client.
type Option func(*Client)

func WithCodec(t codec.CodecType) Option { return func(c *Client) { c.codecType = t } }

func WithTag(tag string) Option { return func(c *Client) { c.tag = tag } }

// WithHeartbeat sets the per-connection keepalive; zero disables it.
func WithHeartbeat(d time.Duration) Option { return func(c *Client) { c.heartbeat = d } }

func WithDialTimeout(d time.Duration) Option { return func(c *Client) { c.dialTimeout = d } }

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithMiddleware wraps every outgoing call, e.g. with retry or timeout.
// The request passed to the chain carries the procedure name and argument;
// its ID is empty until the engine assigns one.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Client) { c.middlewares = append(c.middlewares, mws...) }
}

// New creates a client that finds servers through reg and spreads calls with
// bal. A nil bal means round robin.
func New(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	c := &Client{
		registry:    reg,
		balancer:    bal,
		codecType:   codec.CodecTypeJSON,
		tag:         message.DefaultTag,
		heartbeat:   transport.DefaultHeartbeat,
		dialTimeout: DefaultDialTimeout,
		logger:      log.Logger,
		conns:       make(map[string]*conn),
		instances:   make(map[string][]registry.Instance),
		procedures:  make(map[string]rpc.Procedure),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "client").Str("balancer", bal.Name()).Logger()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.handler = middleware.Chain(c.middlewares...)(c.invoke)
	return c
}

// Call calls procedure on one of its instances and decodes the result into
// reply, which should be a pointer (or nil to discard it).
func (c *Client) Call(ctx context.Context, procedure string, args any, reply any) error {
	value, err := c.handler(ctx, &message.RequestPayload{Procedure: procedure, Argument: args})
	if err != nil {
		return err
	}
	return rpc.Decode(value, reply)
}

// invoke is the innermost handler: pick an instance and make the call.
func (c *Client) invoke(ctx context.Context, req *message.RequestPayload) (any, error) {
	instances, err := c.lookup(req.Procedure)
	if err != nil {
		return nil, err
	}

	var instance *registry.Instance
	if keyed, ok := c.balancer.(loadbalance.KeyedBalancer); ok {
		instance, err = keyed.PickKey(req.Procedure, instances)
	} else {
		instance, err = c.balancer.Pick(instances)
	}
	if err != nil {
		return nil, fmt.Errorf("client: %s: %w", req.Procedure, err)
	}

	cn, err := c.connect(ctx, instance.Addr)
	if err != nil {
		return nil, err
	}
	return cn.engine.Call(ctx, req.Procedure, req.Argument)
}

// lookup returns the cached instances of procedure. The first lookup asks
// the registry directly and starts a watch that keeps the cache current.
func (c *Client) lookup(procedure string) ([]registry.Instance, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	cached, ok := c.instances[procedure]
	c.mu.Unlock()
	if ok && len(cached) > 0 {
		return cached, nil
	}

	found, err := c.registry.Discover(procedure)
	if err != nil {
		return nil, fmt.Errorf("client: discover %q: %w", procedure, err)
	}

	c.mu.Lock()
	_, watching := c.instances[procedure]
	c.instances[procedure] = found
	c.mu.Unlock()
	if !watching {
		go c.watch(procedure)
	}
	return found, nil
}

func (c *Client) watch(procedure string) {
	for instances := range c.registry.Watch(c.ctx, procedure) {
		c.mu.Lock()
		c.instances[procedure] = instances
		c.mu.Unlock()
		c.logger.Debug().Str("procedure", procedure).Int("instances", len(instances)).Msg("instances changed")
	}
}

// connect returns the live connection to addr, dialing it if needed.
func (c *Client) connect(ctx context.Context, addr string) (*conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClientClosed
	}
	if cn, ok := c.conns[addr]; ok {
		c.mu.Unlock()
		return cn, nil
	}
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.dialTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}

	logger := c.logger.With().Str("addr", addr).Logger()
	stream := transport.NewStream(nc, c.codecType, addr,
		transport.WithHeartbeat(c.heartbeat),
		transport.WithStreamLogger(logger))
	engine := rpc.New(stream, rpc.WithTag(c.tag), rpc.WithLogger(logger))
	cn := &conn{stream: stream, engine: engine}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		stream.Close()
		return nil, ErrClientClosed
	}
	if existing, ok := c.conns[addr]; ok {
		// Lost a dial race; keep the first connection
		c.mu.Unlock()
		stream.Close()
		return existing, nil
	}
	for name, p := range c.procedures {
		engine.Register(name, p)
	}
	// Published only once started, so no caller ever sees an idle engine
	if err := engine.Start(); err != nil {
		c.mu.Unlock()
		stream.Close()
		return nil, err
	}
	c.conns[addr] = cn
	c.mu.Unlock()

	go c.reap(addr, cn)
	logger.Debug().Msg("connected")
	return cn, nil
}

// reap forgets a connection once it ends so the next call redials. Calls
// still waiting on it are rejected with rpc.ErrStopped.
func (c *Client) reap(addr string, cn *conn) {
	<-cn.stream.Done()
	c.mu.Lock()
	if c.conns[addr] == cn {
		delete(c.conns, addr)
	}
	c.mu.Unlock()
	if cn.engine.Started() {
		cn.engine.Stop()
	}
	c.logger.Debug().Str("addr", addr).AnErr("reason", cn.stream.Err()).Msg("connection closed")
}

// Handle serves p to servers this client is connected to, on current and
// future connections.
func (c *Client) Handle(name string, p rpc.Procedure) {
	c.mu.Lock()
	c.procedures[name] = p
	live := make([]*rpc.Engine, 0, len(c.conns))
	for _, cn := range c.conns {
		live = append(live, cn.engine)
	}
	c.mu.Unlock()

	for _, e := range live {
		e.Register(name, p)
	}
}

// HandleFunc is Handle for a plain function.
func (c *Client) HandleFunc(name string, fn func(ctx context.Context, arg any) (any, error)) {
	c.Handle(name, rpc.ProcedureFunc(fn))
}

// Close closes every connection. Pending calls are rejected with
// rpc.ErrStopped.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := make([]*conn, 0, len(c.conns))
	for _, cn := range c.conns {
		conns = append(conns, cn)
	}
	c.mu.Unlock()

	c.cancel()
	for _, cn := range conns {
		if cn.engine.Started() {
			cn.engine.Stop()
		}
		cn.stream.Close()
	}
	return nil
}
