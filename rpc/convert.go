package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// As converts a value received through a call into T.
//
// In-memory transports deliver the callee's value untouched and As is a type
// assertion. Byte-stream transports deliver JSON-shaped values, which As
// re-encodes and decodes into T.
func As[T any](v any) (T, error) {
	var out T
	if v == nil {
		return out, nil
	}
	if typed, ok := v.(T); ok {
		return typed, nil
	}
	err := Decode(v, &out)
	return out, err
}

// Decode stores v into the value out points to, the way As does.
func Decode(v any, out any) error {
	if v == nil || out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("rpc: convert %T: %w", v, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("rpc: convert %T to %T: %w", v, out, err)
	}
	return nil
}

// CallAs is Call followed by As.
func CallAs[T any](ctx context.Context, e *Engine, procedure string, arg any) (T, error) {
	value, err := e.Call(ctx, procedure, arg)
	if err != nil {
		var zero T
		return zero, err
	}
	return As[T](value)
}
