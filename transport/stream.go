package transport

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"msgrpc/codec"
	"msgrpc/message"
	"msgrpc/protocol"
)

// DefaultHeartbeat is the keepalive interval used when none is configured.
const DefaultHeartbeat = 30 * time.Second

// Stream carries envelopes over a byte stream, one protocol frame each.
//
//	engine ──Send(env)──► codec.Encode ──► protocol.Encode ──► conn
//	conn ──► recvLoop: protocol.Decode ──► codec.Decode ──► listeners
//
// A background recvLoop starts when the first listener subscribes, so
// envelopes that arrive before anyone listens are not lost. A heartbeatLoop
// keeps idle connections alive.
type Stream struct {
	conn      io.ReadWriteCloser
	codec     codec.Codec
	label     string
	heartbeat time.Duration
	logger    zerolog.Logger

	listeners listenerSet
	sending   sync.Mutex // Frames from concurrent senders must not interleave
	recvOnce  sync.Once

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// StreamOption customizes a Stream.
type StreamOption func(*Stream)

// WithHeartbeat sets the keepalive interval; zero or negative disables it.
func WithHeartbeat(d time.Duration) StreamOption {
	return func(s *Stream) { s.heartbeat = d }
}

// WithStreamLogger sets the logger used for decode and I/O diagnostics.
func WithStreamLogger(l zerolog.Logger) StreamOption {
	return func(s *Stream) { s.logger = l }
}

// NewStream binds conn using the given codec. label identifies this side of
// the connection in diagnostics.
func NewStream(conn io.ReadWriteCloser, codecType codec.CodecType, label string, opts ...StreamOption) *Stream {
	s := &Stream{
		conn:      conn,
		codec:     codec.GetCodec(codecType),
		label:     label,
		heartbeat: DefaultHeartbeat,
		logger:    zerolog.Nop(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("transport", "stream").Str("label", label).Logger()
	if s.heartbeat > 0 {
		go s.heartbeatLoop(s.heartbeat)
	}
	return s
}

func (s *Stream) Label() string { return s.label }

// Send serializes env and writes it as one frame. The sending mutex keeps the
// whole frame atomic on the wire.
func (s *Stream) Send(env *message.Envelope) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	body, err := s.codec.Encode(env)
	if err != nil {
		return err
	}
	// Nothing is written for an oversized envelope; the connection stays usable
	if err := protocol.CheckBodySize(len(body)); err != nil {
		return err
	}
	header := protocol.Header{
		CodecType: byte(s.codec.Type()),
		FrameType: protocol.FrameEnvelope,
	}

	s.sending.Lock()
	err = protocol.Encode(s.conn, &header, body)
	s.sending.Unlock()
	if err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *Stream) AddListener(l Listener) {
	s.listeners.add(l)
	s.recvOnce.Do(func() { go s.recvLoop() })
}

func (s *Stream) RemoveListener(l Listener) { s.listeners.remove(l) }

// Done is closed once the stream stops, either by Close or by an I/O error.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns the error that stopped the stream, or nil after a clean Close.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close shuts the stream and the underlying connection.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.Close()
}

// recvLoop runs in a dedicated goroutine. Reads must be sequential to parse
// frame boundaries correctly, so there is exactly one reader per stream.
func (s *Stream) recvLoop() {
	for {
		header, body, err := protocol.Decode(s.conn)
		if err != nil {
			select {
			case <-s.done:
				// Closed locally, the read error is expected
			default:
				if !errors.Is(err, io.EOF) {
					s.logger.Warn().Err(err).Msg("stream read failed")
				}
				s.fail(err)
			}
			return
		}

		if header.FrameType == protocol.FrameHeartbeat {
			continue
		}

		// The peer may use a different codec than ours; the header says which.
		var env message.Envelope
		cdc := codec.GetCodec(codec.CodecType(header.CodecType))
		if err := cdc.Decode(body, &env); err != nil {
			s.logger.Warn().Err(err).Msg("dropping undecodable envelope")
			continue
		}
		s.listeners.deliver(&env)
	}
}

// heartbeatLoop writes empty heartbeat frames so idle peers and middleboxes
// keep the connection open. A failed write ends the loop and the stream.
func (s *Stream) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			header := &protocol.Header{
				CodecType: byte(s.codec.Type()),
				FrameType: protocol.FrameHeartbeat,
			}
			s.sending.Lock()
			err := protocol.Encode(s.conn, header, nil)
			s.sending.Unlock()
			if err != nil {
				s.fail(err)
				return
			}
		}
	}
}
