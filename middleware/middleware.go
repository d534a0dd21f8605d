// Package middleware wraps procedure invocations: around local procedures on
// the serving side, and around outgoing calls in the client.
//
// The chain is an onion: Chain(A, B, C)(h) is A(B(C(h))), so A sees the
// request first and the result last.
package middleware

import (
	"context"
	"errors"

	"msgrpc/message"
)

var (
	ErrTimeout     = errors.New("request timed out")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// HandlerFunc invokes one procedure for one request.
type HandlerFunc func(ctx context.Context, req *message.RequestPayload) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
