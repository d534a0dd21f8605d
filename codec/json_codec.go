package codec

import (
	"encoding/json"

	"msgrpc/message"
)

// JSONCodec uses Go's standard library encoding/json for serialization.
// The JSON tags on message.Envelope define the wire form.
type JSONCodec struct{}

func (c *JSONCodec) Encode(env *message.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func (c *JSONCodec) Decode(data []byte, env *message.Envelope) error {
	return json.Unmarshal(data, env)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
