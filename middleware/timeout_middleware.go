package middleware

import (
	"context"
	"time"

	"msgrpc/message"
)

type result struct {
	value any
	err   error
}

// TimeOutMiddleware fails an invocation with ErrTimeout if it takes longer than
// timeout. The procedure receives a context that is cancelled at the deadline;
// one that ignores it keeps running in the background.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestPayload) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan result, 1)
			go func() {
				value, err := next(ctx, req)
				done <- result{value: value, err: err}
			}()

			select {
			case r := <-done:
				return r.value, r.err
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}
	}
}
