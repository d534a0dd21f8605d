package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"msgrpc/message"
)

// LoggingMiddleware logs every invocation with its duration and error, if any.
func LoggingMiddleware(logger zerolog.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RequestPayload) (any, error) {
			start := time.Now()
			value, err := next(ctx, req)
			duration := time.Since(start)

			ev := logger.Debug()
			if err != nil {
				ev = logger.Warn().Err(err)
			}
			ev.Str("procedure", req.Procedure).
				Str("id", req.ID).
				Dur("duration", duration).
				Msg("procedure invoked")
			return value, err
		}
	}
}
