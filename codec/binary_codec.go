package codec

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"msgrpc/message"
)

var ErrTruncated = errors.New("BinaryCodec: truncated data")

// Kind and outcome bytes used by the binary layout.
const (
	kindRequest  byte = 0
	kindResponse byte = 1

	outcomePending   byte = 0
	outcomeFulfilled byte = 1
	outcomeRejected  byte = 2
)

// BinaryCodec writes envelopes in a fixed field order:
//
//	tag(u16 len + bytes) kind(u8)
//	request:  id(u16) procedure(u16) issuedAt(i64 unix nanos) argument(u32 len + JSON)
//	response: id(u16) procedure(u16) outcome(u8) value(u32 len + JSON) error(u32 len + JSON)
//
// A zero-length JSON field decodes to nil.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(env *message.Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("BinaryCodec: nil envelope")
	}
	w := &binWriter{}
	if err := w.str16(env.Tag); err != nil {
		return nil, err
	}

	switch env.Kind {
	case message.KindRequest:
		if env.Request == nil {
			return nil, errors.New("BinaryCodec: request envelope without payload")
		}
		w.u8(kindRequest)
		req := env.Request
		if err := w.str16(req.ID); err != nil {
			return nil, err
		}
		if err := w.str16(req.Procedure); err != nil {
			return nil, err
		}
		w.i64(req.IssuedAt.UnixNano())
		if err := w.json32(req.Argument); err != nil {
			return nil, err
		}
	case message.KindResponse:
		if env.Response == nil {
			return nil, errors.New("BinaryCodec: response envelope without payload")
		}
		w.u8(kindResponse)
		resp := env.Response
		if err := w.str16(resp.ID); err != nil {
			return nil, err
		}
		if err := w.str16(resp.Procedure); err != nil {
			return nil, err
		}
		outcome, err := outcomeByte(resp.Outcome)
		if err != nil {
			return nil, err
		}
		w.u8(outcome)
		if err := w.json32(resp.Value); err != nil {
			return nil, err
		}
		var errVal any
		if resp.Error != nil {
			errVal = resp.Error
		}
		if err := w.json32(errVal); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("BinaryCodec: unsupported kind %q", env.Kind)
	}
	return w.buf, nil
}

func (c *BinaryCodec) Decode(data []byte, env *message.Envelope) error {
	r := &binReader{data: data}
	tag, err := r.str16()
	if err != nil {
		return err
	}
	kind, err := r.u8()
	if err != nil {
		return err
	}
	*env = message.Envelope{Tag: tag}

	switch kind {
	case kindRequest:
		req := &message.RequestPayload{}
		if req.ID, err = r.str16(); err != nil {
			return err
		}
		if req.Procedure, err = r.str16(); err != nil {
			return err
		}
		nanos, err := r.i64()
		if err != nil {
			return err
		}
		req.IssuedAt = time.Unix(0, nanos).UTC()
		if err := r.json32(&req.Argument); err != nil {
			return err
		}
		env.Kind = message.KindRequest
		env.Request = req
	case kindResponse:
		resp := &message.ResponsePayload{}
		if resp.ID, err = r.str16(); err != nil {
			return err
		}
		if resp.Procedure, err = r.str16(); err != nil {
			return err
		}
		outcome, err := r.u8()
		if err != nil {
			return err
		}
		switch outcome {
		case outcomePending:
			resp.Outcome = message.OutcomePending
		case outcomeFulfilled:
			resp.Outcome = message.OutcomeFulfilled
		case outcomeRejected:
			resp.Outcome = message.OutcomeRejected
		default:
			// Left for the engine to reject as a protocol fault.
			resp.Outcome = message.Outcome(fmt.Sprintf("unknown(%d)", outcome))
		}
		if err := r.json32(&resp.Value); err != nil {
			return err
		}
		var remote *message.RemoteError
		if err := r.json32(&remote); err != nil {
			return err
		}
		resp.Error = remote
		env.Kind = message.KindResponse
		env.Response = resp
	default:
		return fmt.Errorf("BinaryCodec: unsupported kind byte %d", kind)
	}
	return nil
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func outcomeByte(o message.Outcome) (byte, error) {
	switch o {
	case message.OutcomePending:
		return outcomePending, nil
	case message.OutcomeFulfilled:
		return outcomeFulfilled, nil
	case message.OutcomeRejected:
		return outcomeRejected, nil
	default:
		return 0, fmt.Errorf("BinaryCodec: unsupported outcome %q", o)
	}
}

type binWriter struct {
	buf []byte
}

func (w *binWriter) u8(b byte) {
	w.buf = append(w.buf, b)
}

func (w *binWriter) i64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *binWriter) str16(s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("BinaryCodec: string field too long (%d bytes)", len(s))
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

func (w *binWriter) json32(v any) error {
	if v == nil {
		w.buf = binary.BigEndian.AppendUint32(w.buf, 0)
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("BinaryCodec: encode field: %w", err)
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(data)))
	w.buf = append(w.buf, data...)
	return nil
}

type binReader struct {
	data []byte
	off  int
}

func (r *binReader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, ErrTruncated
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *binReader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *binReader) i64() (int64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *binReader) str16() (string, error) {
	b, err := r.take(2)
	if err != nil {
		return "", err
	}
	s, err := r.take(int(binary.BigEndian.Uint16(b)))
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func (r *binReader) json32(out any) error {
	b, err := r.take(4)
	if err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(b)
	if n == 0 {
		return nil
	}
	raw, err := r.take(int(n))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("BinaryCodec: decode field: %w", err)
	}
	return nil
}
