package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"msgrpc/message"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
// Requests over the limit are rejected with ErrRateLimited rather than queued.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestPayload) (any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
