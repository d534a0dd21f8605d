package rpc

import "context"

// Procedure is something a remote caller can invoke by name.
//
// arg is whatever the caller passed, as it arrived through the transport: the
// original Go value for in-memory transports, a JSON-shaped value
// (map[string]any, []any, float64, ...) for byte streams. Use As to convert.
//
// A returned Awaitable (for instance the *Future of a nested call) is waited
// on, and its outcome becomes the outcome of this invocation.
type Procedure interface {
	Invoke(ctx context.Context, arg any) (any, error)
}

// ProcedureFunc adapts a plain function to Procedure.
type ProcedureFunc func(ctx context.Context, arg any) (any, error)

func (f ProcedureFunc) Invoke(ctx context.Context, arg any) (any, error) {
	return f(ctx, arg)
}

// Awaitable is a result that is not known yet.
type Awaitable interface {
	Wait(ctx context.Context) (any, error)
}
