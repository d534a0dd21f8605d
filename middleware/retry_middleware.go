package middleware

import (
	"context"
	"errors"
	"time"

	"msgrpc/message"
)

// Retryable reports whether a failed invocation may be attempted again.
type Retryable func(err error) bool

// RetryOnTimeout retries invocations that failed with ErrTimeout or a
// context deadline.
func RetryOnTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// RetryMiddleware re-invokes a failing procedure up to maxRetries times with
// exponential backoff starting at baseDelay. A nil retryable means
// RetryOnTimeout.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, retryable Retryable) Middleware {
	if retryable == nil {
		retryable = RetryOnTimeout
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestPayload) (any, error) {
			value, err := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !retryable(err) {
					return value, err
				}
				select {
				case <-ctx.Done():
					return value, err
				case <-time.After(baseDelay * time.Duration(1<<i)):
				}
				value, err = next(ctx, req)
			}
			return value, err
		}
	}
}
