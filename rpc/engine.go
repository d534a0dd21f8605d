// Package rpc turns a one-way message transport into two-way procedure calls.
//
// Each endpoint owns one Engine. The engine keeps a table of pending calls
// keyed by correlation id and a registry of local procedures keyed by name:
//
//	caller: Go(name, arg) ── pending[id] = future ── Send(request) ──►
//	callee:                  dispatch(request) → procedure(arg) → Send(response)
//	caller: dispatch(response) → delete pending[id] → future settles
//
// Responses may come back in any order; the id is the only thing that pairs
// them with their calls. An unanswered call stays pending until a response
// arrives or the engine is stopped. There is no timeout: callers that need one
// pass a deadline to Future.Wait / Call, which stops waiting but leaves the
// call pending.
package rpc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"msgrpc/message"
	"msgrpc/middleware"
	"msgrpc/transport"
)

// maxIDAttempts bounds how often Go regenerates an id that collides with a
// pending one before giving up.
const maxIDAttempts = 8

// Engine is one endpoint of the RPC protocol. All methods are safe for
// concurrent use.
type Engine struct {
	transport   transport.Transport
	tag         string                  // Envelopes with another tag are ignored
	newID       func() string           // Correlation id generator
	now         func() time.Time        // Clock for RequestPayload.IssuedAt
	logger      zerolog.Logger          // Diagnostics, tagged with the transport label
	middlewares []middleware.Middleware // Applied around every procedure invocation
	handler     middleware.HandlerFunc  // middleware(...(invokeProcedure))
	listener    *dispatcher             // Same pointer for AddListener and RemoveListener

	mu         sync.Mutex
	started    bool
	ctx        context.Context // Cancelled by Stop; parent of procedure contexts
	cancel     context.CancelFunc
	pending    map[string]*pendingCall
	procedures map[string]Procedure
	handling   int           // Requests whose response has not been sent yet
	idle       chan struct{} // Closed when handling drops to zero
}

type pendingCall struct {
	request *message.RequestPayload
	future  *Future
}

// Option customizes an Engine.
type Option func(*Engine)

// WithTag sets the channel tag. Defaults to message.DefaultTag.
func WithTag(tag string) Option {
	return func(e *Engine) { e.tag = tag }
}

// WithIDGenerator replaces the correlation id generator (uuid.NewString).
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithClock replaces time.Now for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the diagnostics logger. Defaults to the zerolog global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMiddleware appends callee-side middleware, applied in the given order.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.middlewares = append(e.middlewares, mws...) }
}

// New creates a stopped engine on top of tr.
func New(tr transport.Transport, opts ...Option) *Engine {
	e := &Engine{
		transport:  tr,
		tag:        message.DefaultTag,
		newID:      uuid.NewString,
		now:        time.Now,
		logger:     log.Logger,
		pending:    make(map[string]*pendingCall),
		procedures: make(map[string]Procedure),
		idle:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("label", tr.Label()).Logger()
	e.handler = middleware.Chain(e.middlewares...)(e.invokeProcedure)
	e.listener = &dispatcher{engine: e}
	return e
}

// Label returns the transport's diagnostic label.
func (e *Engine) Label() string { return e.transport.Label() }

// Tag returns the channel tag this engine answers to.
func (e *Engine) Tag() string { return e.tag }

// Start subscribes the engine to its transport.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return &LifecycleError{Label: e.Label(), Op: "start"}
	}
	e.started = true
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.mu.Unlock()

	e.transport.AddListener(e.listener)
	e.logger.Debug().Str("tag", e.tag).Msg("engine started")
	return nil
}

// Stop unsubscribes the engine. Calls still waiting for a response are
// rejected with ErrStopped and running procedures see their context cancelled.
// A stopped engine may be started again.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return &LifecycleError{Label: e.Label(), Op: "stop"}
	}
	e.started = false
	abandoned := e.pending
	e.pending = make(map[string]*pendingCall)
	cancel := e.cancel
	e.mu.Unlock()

	e.transport.RemoveListener(e.listener)
	cancel()

	stopped := fmt.Errorf("rpc[%s]: %w", e.Label(), ErrStopped)
	for _, call := range abandoned {
		call.future.settle(nil, stopped)
	}
	e.logger.Debug().Int("abandoned", len(abandoned)).Msg("engine stopped")
	return nil
}

// Started reports whether the engine is running.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Go calls procedure on the remote endpoint and returns without waiting.
// The returned Future settles when the matching response arrives.
func (e *Engine) Go(procedure string, arg any) (*Future, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, fmt.Errorf("rpc[%s]: call %q: %w", e.Label(), procedure, ErrNotReady)
	}

	id, err := e.freshIDLocked()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	req := &message.RequestPayload{
		ID:        id,
		Procedure: procedure,
		Argument:  arg,
		IssuedAt:  e.now(),
	}
	future := newFuture(id, procedure)
	// Parked before sending: the response may arrive before Send returns
	e.pending[id] = &pendingCall{request: req, future: future}
	e.mu.Unlock()

	e.logger.Debug().Str("procedure", procedure).Str("id", id).Msg("caller: calling procedure")

	if err := e.transport.Send(message.NewRequest(e.tag, req)); err != nil {
		e.mu.Lock()
		if call, ok := e.pending[id]; ok && call.future == future {
			delete(e.pending, id)
		}
		e.mu.Unlock()
		err = fmt.Errorf("rpc[%s]: send %q: %w", e.Label(), procedure, err)
		future.settle(nil, err)
		return nil, err
	}
	return future, nil
}

// Call calls procedure and waits for its outcome. If ctx ends first, Call
// returns ctx.Err() and the call stays pending.
func (e *Engine) Call(ctx context.Context, procedure string, arg any) (any, error) {
	future, err := e.Go(procedure, arg)
	if err != nil {
		return nil, err
	}
	return future.Wait(ctx)
}

// Pending returns the number of calls waiting for a response.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Register installs p under name, replacing (with a warning) any procedure
// already there. A nil p unregisters name.
func (e *Engine) Register(name string, p Procedure) {
	if p == nil {
		e.Unregister(name)
		return
	}
	e.mu.Lock()
	_, replaced := e.procedures[name]
	e.procedures[name] = p
	e.mu.Unlock()

	if replaced {
		e.logger.Warn().Str("procedure", name).Msg("procedure already registered, replacing it")
	}
}

// RegisterFunc is Register for a plain function. A nil fn unregisters name.
func (e *Engine) RegisterFunc(name string, fn func(ctx context.Context, arg any) (any, error)) {
	if fn == nil {
		e.Unregister(name)
		return
	}
	e.Register(name, ProcedureFunc(fn))
}

// Unregister removes name. Unknown names are ignored.
func (e *Engine) Unregister(name string) {
	e.mu.Lock()
	delete(e.procedures, name)
	e.mu.Unlock()
}

// Procedures returns the registered names in sorted order.
func (e *Engine) Procedures() []string {
	e.mu.Lock()
	names := make([]string, 0, len(e.procedures))
	for name := range e.procedures {
		names = append(names, name)
	}
	e.mu.Unlock()
	sort.Strings(names)
	return names
}

// Handling returns the number of inbound requests still being answered.
func (e *Engine) Handling() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handling
}

// Drain blocks until every inbound request has been answered or ctx ends.
// It does not stop new requests from arriving.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		e.mu.Lock()
		if e.handling == 0 {
			e.mu.Unlock()
			return nil
		}
		idle := e.idle
		e.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) beginRequestLocked() { e.handling++ }

func (e *Engine) endRequest() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handling--
	if e.handling == 0 {
		close(e.idle)
		e.idle = make(chan struct{})
	}
}

func (e *Engine) freshIDLocked() (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := e.newID()
		if _, taken := e.pending[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("rpc[%s]: could not generate a unique call id after %d attempts", e.Label(), maxIDAttempts)
}
