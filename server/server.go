// Package server exposes procedures to remote callers over TCP, with service
// registration, a middleware chain, discovery publishing and graceful shutdown.
//
// Connection pipeline:
//
//	Accept conn → handleConn: transport.Stream + rpc.Engine (one per conn)
//	  → engine dispatches each request on its own goroutine
//	    → Middleware Chain → procedure (reflect.Call for services) → response frame
//
// Every connection is a full rpc endpoint, so a server can also call
// procedures its clients registered (see OnConnect).
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"msgrpc/codec"
	"msgrpc/message"
	"msgrpc/middleware"
	"msgrpc/registry"
	"msgrpc/rpc"
	"msgrpc/transport"
)

// DefaultTTL is the registry lease, in seconds, when none is configured.
const DefaultTTL = 10

var ErrServerClosed = errors.New("server: closed")

// Server accepts connections and serves registered procedures on each of them.
type Server struct {
	codecType   codec.CodecType
	tag         string
	heartbeat   time.Duration
	ttl         int64
	instance    registry.Instance // Label/Weight/Version published with every procedure
	logger      zerolog.Logger
	middlewares []middleware.Middleware

	mu         sync.Mutex
	procedures map[string]rpc.Procedure
	onConnect  []func(*rpc.Engine)
	engines    map[*rpc.Engine]*transport.Stream
	listener   net.Listener
	registry   registry.Registry // nil if not using discovery
	advertise  string            // Address published in the registry

	conns    sync.WaitGroup
	shutdown atomic.Bool // Set during shutdown to suppress Accept errors
}

// Option customizes a Server.
type Option func(*Server)

// WithCodec sets the codec the server encodes its frames with. Inbound frames
// are decoded with whatever codec their header names.
func WithCodec(t codec.CodecType) Option { return func(s *Server) { s.codecType = t } }

func WithTag(tag string) Option { return func(s *Server) { s.tag = tag } }

// WithHeartbeat sets the per-connection keepalive; zero disables it.
func WithHeartbeat(d time.Duration) Option { return func(s *Server) { s.heartbeat = d } }

// WithTTL sets the registry lease in seconds.
func WithTTL(seconds int64) Option { return func(s *Server) { s.ttl = seconds } }

// WithInstance sets the label, weight and version published in the registry.
// Addr is ignored; the advertise address passed to Serve wins.
func WithInstance(inst registry.Instance) Option { return func(s *Server) { s.instance = inst } }

func WithLogger(l zerolog.Logger) Option { return func(s *Server) { s.logger = l } }

// New creates a server with no procedures.
func New(opts ...Option) *Server {
	s := &Server{
		codecType:  codec.CodecTypeJSON,
		tag:        message.DefaultTag,
		heartbeat:  transport.DefaultHeartbeat,
		ttl:        DefaultTTL,
		logger:     log.Logger,
		procedures: make(map[string]rpc.Procedure),
		engines:    make(map[*rpc.Engine]*transport.Stream),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "server").Logger()
	return s
}

// Register registers a service receiver (e.g., &Arith{}). Its exported methods
// that match the RPC signature are served as "Arith.Method" procedures.
func (s *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	for name, p := range svc.procedures() {
		s.Handle(name, p)
	}
	return nil
}

// Handle serves p under name on current and future connections.
func (s *Server) Handle(name string, p rpc.Procedure) {
	s.mu.Lock()
	s.procedures[name] = p
	live := s.liveEnginesLocked()
	s.mu.Unlock()

	for _, e := range live {
		e.Register(name, p)
	}
}

// HandleFunc is Handle for a plain function.
func (s *Server) HandleFunc(name string, fn func(ctx context.Context, arg any) (any, error)) {
	s.Handle(name, rpc.ProcedureFunc(fn))
}

// Use registers a middleware. Middlewares are applied in the order they are
// added and only affect connections accepted afterwards.
func (s *Server) Use(mw middleware.Middleware) {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, mw)
	s.mu.Unlock()
}

// OnConnect runs fn with the engine of every new connection once it has
// started, so the server can call procedures the client registered.
func (s *Server) OnConnect(fn func(*rpc.Engine)) {
	s.mu.Lock()
	s.onConnect = append(s.onConnect, fn)
	s.mu.Unlock()
}

// Procedures returns the served procedure names in sorted order.
func (s *Server) Procedures() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.procedures))
	for name := range s.procedures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connections reports how many clients are connected.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.engines)
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve listens on address and serves until Shutdown.
//
// Parameters:
//   - advertiseAddr: the address to register (e.g., "127.0.0.1:8080").
//     This differs from the listen address because ":8080" is not routable.
//     Empty means the listener's own address.
//   - reg: the registry implementation. Pass nil to skip service discovery.
func (s *Server) Serve(network, address, advertiseAddr string, reg registry.Registry) error {
	ln, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.ServeListener(ln, advertiseAddr, reg)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ln net.Listener, advertiseAddr string, reg registry.Registry) error {
	if s.shutdown.Load() {
		ln.Close()
		return ErrServerClosed
	}
	if advertiseAddr == "" {
		advertiseAddr = ln.Addr().String()
	}

	s.mu.Lock()
	s.listener = ln
	s.registry = reg
	s.advertise = advertiseAddr
	names := make([]string, 0, len(s.procedures))
	for name := range s.procedures {
		names = append(names, name)
	}
	s.mu.Unlock()

	if reg != nil {
		inst := s.instance
		inst.Addr = advertiseAddr
		for _, name := range names {
			if err := reg.Register(name, inst, s.ttl); err != nil {
				ln.Close()
				return fmt.Errorf("server: publish %q: %w", name, err)
			}
		}
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Str("advertise", advertiseAddr).
		Int("procedures", len(names)).Msg("serving")

	// Accept loop: one goroutine per connection
	for {
		conn, err := ln.Accept()
		if err != nil {
			// listener.Close() during shutdown makes Accept fail on purpose
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		s.conns.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn binds one connection to its own engine and blocks until the
// connection ends.
func (s *Server) handleConn(conn net.Conn) {
	defer s.conns.Done()

	peer := conn.RemoteAddr().String()
	logger := s.logger.With().Str("peer", peer).Logger()
	stream := transport.NewStream(conn, s.codecType, peer,
		transport.WithHeartbeat(s.heartbeat),
		transport.WithStreamLogger(logger))

	s.mu.Lock()
	engine := rpc.New(stream, rpc.WithTag(s.tag), rpc.WithLogger(logger), rpc.WithMiddleware(s.middlewares...))
	for name, p := range s.procedures {
		engine.Register(name, p)
	}
	s.engines[engine] = stream
	hooks := append([]func(*rpc.Engine){}, s.onConnect...)
	s.mu.Unlock()

	if err := engine.Start(); err != nil {
		logger.Error().Err(err).Msg("engine failed to start")
		stream.Close()
	}
	logger.Debug().Msg("client connected")
	for _, fn := range hooks {
		fn(engine)
	}

	<-stream.Done()
	if engine.Started() {
		engine.Stop()
	}

	s.mu.Lock()
	delete(s.engines, engine)
	s.mu.Unlock()
	logger.Debug().AnErr("reason", stream.Err()).Msg("client disconnected")
}

func (s *Server) liveEnginesLocked() []*rpc.Engine {
	out := make([]*rpc.Engine, 0, len(s.engines))
	for e := range s.engines {
		out = append(out, e)
	}
	return out
}

// Shutdown performs graceful shutdown:
//  1. Deregister every procedure (clients stop routing to this server)
//  2. Set shutdown flag (so Accept error is recognized as intentional)
//  3. Close the listener (stop accepting new connections)
//  4. Wait for in-flight requests to finish (with timeout)
//  5. Close every connection
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	reg, advertise, ln := s.registry, s.advertise, s.listener
	names := make([]string, 0, len(s.procedures))
	for name := range s.procedures {
		names = append(names, name)
	}
	s.mu.Unlock()

	// Deregister FIRST so clients stop sending new requests
	if reg != nil {
		for _, name := range names {
			if err := reg.Deregister(name, advertise); err != nil {
				s.logger.Warn().Err(err).Str("procedure", name).Msg("deregister failed")
			}
		}
	}

	// Flag before closing, or Serve would report the Accept error
	s.shutdown.Store(true)
	if ln != nil {
		ln.Close()
	}

	s.mu.Lock()
	engines := s.liveEnginesLocked()
	streams := make([]*transport.Stream, 0, len(s.engines))
	for _, st := range s.engines {
		streams = append(streams, st)
	}
	s.mu.Unlock()

	// Let every connection finish answering what it already accepted
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var err error
	for _, e := range engines {
		if e.Drain(ctx) != nil {
			err = fmt.Errorf("server: timeout waiting for ongoing requests to finish")
			break
		}
	}

	for _, st := range streams {
		st.Close()
	}
	s.conns.Wait()

	s.logger.Info().Msg("server stopped")
	return err
}
