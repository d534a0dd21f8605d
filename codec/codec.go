// Package codec serializes envelopes for transports that move bytes rather
// than Go values (see transport.Stream).
//
// Two formats are provided:
//   - JSON:   the canonical wire form, human-readable, cross-language.
//   - Binary: compact length-prefixed layout; only the free-form argument,
//     value and error fields are embedded as JSON.
//
// Either way, arguments and results cross the boundary as JSON values, so a
// caller receives map[string]any / []any / float64 / string / bool / nil.
// rpc.As converts those back into concrete types.
package codec

import (
	"fmt"

	"msgrpc/message"
)

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeBinary:
		return "binary"
	default:
		return fmt.Sprintf("codec(%d)", byte(t))
	}
}

// ParseCodecType maps a config name ("json", "binary") to a CodecType.
func ParseCodecType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "binary":
		return CodecTypeBinary, nil
	default:
		return 0, fmt.Errorf("codec: unknown codec %q", name)
	}
}

type Codec interface {
	Encode(env *message.Envelope) ([]byte, error)
	Decode(data []byte, env *message.Envelope) error
	Type() CodecType // 0=JSON, 1=Binary
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeJSON {
		return &JSONCodec{}
	}

	return &BinaryCodec{}
}
