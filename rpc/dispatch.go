package rpc

import (
	"context"
	"errors"
	"fmt"

	"msgrpc/message"
	"msgrpc/transport"
)

// dispatcher is the transport listener of an engine.
type dispatcher struct {
	engine *Engine
}

func (d *dispatcher) OnEnvelope(env *message.Envelope) {
	if err := d.engine.dispatch(env); err != nil {
		d.engine.logger.Error().Err(err).Msg("dropping envelope")
	}
}

// dispatch routes one inbound envelope. Requests are handled on their own
// goroutine so a slow procedure never holds up other envelopes.
func (e *Engine) dispatch(env *message.Envelope) error {
	if env == nil || env.Tag != e.tag {
		return nil
	}

	switch env.Kind {
	case message.KindRequest:
		if env.Request == nil {
			return e.protocolError("request envelope without payload")
		}
		e.mu.Lock()
		ctx := e.ctx
		e.beginRequestLocked()
		e.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}
		go e.handleRequest(ctx, env.Request)
		return nil
	case message.KindResponse:
		if env.Response == nil {
			return e.protocolError("response envelope without payload")
		}
		return e.handleResponse(env.Response)
	default:
		return e.protocolError(fmt.Sprintf("unknown message kind %q", env.Kind))
	}
}

// handleRequest runs the named procedure and always sends exactly one
// response, whatever happens inside it.
func (e *Engine) handleRequest(ctx context.Context, req *message.RequestPayload) {
	resp := message.PendingResponse(req)
	logger := e.logger.With().Str("procedure", req.Procedure).Str("id", req.ID).Logger()

	defer func() {
		defer e.endRequest()
		err := e.transport.Send(message.NewResponse(e.tag, resp))
		if err == nil || errors.Is(err, transport.ErrClosed) {
			if err != nil {
				logger.Error().Err(err).Msg("callee: failed to send response")
			}
			return
		}
		// Unencodable or oversized outcome: reject so the caller still settles
		logger.Warn().Err(err).Msg("callee: response could not be sent, rejecting call")
		resp.Reject(&message.RemoteError{
			Code:    message.CodeEncodeFailed,
			Message: fmt.Sprintf("procedure %q: response could not be sent: %v", req.Procedure, err),
		})
		if err := e.transport.Send(message.NewResponse(e.tag, resp)); err != nil {
			logger.Error().Err(err).Msg("callee: failed to send response")
		}
	}()

	logger.Debug().Msg("callee: procedure is being called")
	value, err := e.invoke(ctx, req)
	if err != nil {
		logger.Debug().Err(err).Msg("callee: procedure failed")
		resp.Reject(message.ToRemoteError(err))
		return
	}
	resp.Fulfill(value)
}

// invoke runs the middleware chain, turning a panic anywhere in it into a
// rejection.
func (e *Engine) invoke(ctx context.Context, req *message.RequestPayload) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, message.FromPanic(r)
		}
	}()
	return e.handler(ctx, req)
}

// invokeProcedure is the innermost handler: registry lookup and the call itself.
func (e *Engine) invokeProcedure(ctx context.Context, req *message.RequestPayload) (value any, err error) {
	e.mu.Lock()
	p, ok := e.procedures[req.Procedure]
	e.mu.Unlock()
	if !ok {
		return nil, message.NotFound(req.Procedure)
	}

	// Middleware may run us on another goroutine, so recover here as well.
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, message.FromPanic(r)
		}
	}()

	value, err = p.Invoke(ctx, req.Argument)
	if err != nil {
		return nil, err
	}
	if pending, ok := value.(Awaitable); ok {
		return pending.Wait(ctx)
	}
	return value, nil
}

// handleResponse settles the pending call with the matching id. Each id is
// consumed once; duplicates and strangers are dropped with a warning.
func (e *Engine) handleResponse(resp *message.ResponsePayload) error {
	e.mu.Lock()
	call, ok := e.pending[resp.ID]
	if ok {
		delete(e.pending, resp.ID)
	}
	e.mu.Unlock()

	if !ok {
		e.logger.Warn().
			Str("procedure", resp.Procedure).
			Str("id", resp.ID).
			Msg("caller: response does not match any pending call")
		return nil
	}

	switch resp.Outcome {
	case message.OutcomeFulfilled:
		e.logger.Debug().Str("procedure", resp.Procedure).Str("id", resp.ID).Msg("caller: procedure returned")
		call.future.settle(resp.Value, nil)
	case message.OutcomeRejected:
		remote := resp.Error
		if remote == nil {
			remote = &message.RemoteError{}
		}
		e.logger.Debug().Str("procedure", resp.Procedure).Str("id", resp.ID).Err(remote).Msg("caller: procedure rejected")
		call.future.settle(nil, remote)
	default:
		// The entry is already gone, so reject rather than leave the caller hanging.
		err := e.protocolError(fmt.Sprintf("unknown outcome %q for call %s", resp.Outcome, resp.ID))
		call.future.settle(nil, err)
		return err
	}
	return nil
}

func (e *Engine) protocolError(reason string) error {
	return &ProtocolError{Label: e.Label(), Reason: reason}
}
