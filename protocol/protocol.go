// Package protocol implements the binary frame used by byte-stream transports.
//
// A stream has no message boundaries, so every serialized envelope is preceded
// by a fixed-size 10-byte header. The receiver reads the header first to learn
// the body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6         10
//	┌──────┬──┬──┬──┬─────────┬───────────────┐
//	│magic │v │ct│ft│ bodyLen │    body ...    │
//	│ mrp  │02│  │  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴─────────┴───────────────┘
//
// Unlike a request/response protocol the header carries no sequence number:
// correlation lives in the envelope itself (RequestPayload.ID).
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	MagicNumber byte   = 0x6d // 'm'
	MagicByte2  byte   = 0x72 // 'r'
	MagicByte3  byte   = 0x70 // 'p'
	Version     byte   = 0x02
	HeaderSize  int    = 10 // 3 (magic) + 1 (version) + 1 (codec) + 1 (frameType) + 4 (bodyLen)
	MaxBodySize uint32 = 16 << 20
)

// FrameType distinguishes envelope frames from keepalive frames.
type FrameType byte

const (
	FrameEnvelope  FrameType = 0 // Body is one serialized message.Envelope
	FrameHeartbeat FrameType = 1 // KeepAlive probe (no body)
)

// Codec type constants, mirrored from codec package to avoid circular import.
const (
	CodecTypeJSON   byte = 0
	CodecTypeBinary byte = 1
)

var (
	ErrInvalidMagic       = errors.New("protocol: invalid magic number")
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrUnsupportedCodec   = errors.New("protocol: unsupported codec type")
	ErrUnsupportedFrame   = errors.New("protocol: unsupported frame type")
	ErrBodyTooLarge       = errors.New("protocol: body too large")
)

// Header represents the fixed 10-byte frame header.
type Header struct {
	CodecType byte      // Serialization format: 0=JSON, 1=Binary
	FrameType FrameType // Envelope or Heartbeat
	BodyLen   uint32    // Body length in bytes
}

// CheckBodySize reports ErrBodyTooLarge for bodies a frame cannot carry.
func CheckBodySize(n int) error {
	if n > int(MaxBodySize) {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, n)
	}
	return nil
}

// Encode writes a complete frame (header + body) to w.
// The caller must hold a write lock if multiple goroutines share the same writer,
// otherwise frames from different envelopes will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	if err := CheckBodySize(len(body)); err != nil {
		return err
	}
	buf := make([]byte, HeaderSize, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.FrameType)
	binary.BigEndian.PutUint32(buf[6:10], uint32(len(body)))

	// One Write per frame so a short-lived lock holder never leaves half a frame behind
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, frame type and body size.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("%w: %x", ErrInvalidMagic, headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeBinary {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedCodec, headerBuf[4])
	}
	frameType := FrameType(headerBuf[5])
	if frameType != FrameEnvelope && frameType != FrameHeartbeat {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnsupportedFrame, headerBuf[5])
	}

	bodyLen := binary.BigEndian.Uint32(headerBuf[6:10])
	if bodyLen > MaxBodySize {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		FrameType: frameType,
		BodyLen:   bodyLen,
	}, body, nil
}
