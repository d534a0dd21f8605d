package config

import (
	"io"

	"github.com/rs/zerolog"

	"msgrpc/middleware"
	"msgrpc/registry"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenRegistry builds the registry described by c. The closer releases any
// connection it holds.
func OpenRegistry(c RegistryConfig) (registry.Registry, io.Closer, error) {
	switch c.Kind {
	case RegistryEtcd:
		reg, err := registry.NewEtcdRegistry(c.Endpoints, c.DialTimeout)
		if err != nil {
			return nil, nil, err
		}
		return reg, reg, nil
	case RegistryStatic:
		return registry.NewStaticRegistry(c.Servers...), nopCloser{}, nil
	default:
		return registry.NewMemoryRegistry(), nopCloser{}, nil
	}
}

// Middlewares returns the chain described by c, outermost first:
// logging, rate limit, retry, then timeout so every attempt gets its own deadline.
func (c MiddlewareConfig) Middlewares(logger zerolog.Logger) []middleware.Middleware {
	var mws []middleware.Middleware
	if c.LogRequests {
		mws = append(mws, middleware.LoggingMiddleware(logger))
	}
	if c.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(c.RateLimit, c.Burst))
	}
	if c.Retries > 0 {
		mws = append(mws, middleware.RetryMiddleware(c.Retries, c.RetryDelay, nil))
	}
	if c.Timeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(c.Timeout))
	}
	return mws
}
