// Package transport defines the capability set the RPC engine needs from a
// message channel, and ships three bindings for it:
//
//   - Pipe:   two in-memory ports wired back to back (tests, same-process endpoints)
//   - Hub:    a broadcast channel where every send reaches all other members,
//     like a worker posting to every window it controls
//   - Stream: an io.ReadWriteCloser (usually a net.Conn) carrying framed,
//     codec-encoded envelopes
//
// A transport delivers every inbound envelope to every listener, including
// envelopes that belong to other protocols sharing the channel. Filtering by
// tag is the listener's job.
package transport

import (
	"errors"
	"sync"

	"msgrpc/message"
)

var ErrClosed = errors.New("transport: closed")

// Listener receives inbound envelopes. Listeners are compared by identity, so
// the value passed to RemoveListener must be the one passed to AddListener.
type Listener interface {
	OnEnvelope(env *message.Envelope)
}

// Transport is the capability set injected into an rpc.Engine.
type Transport interface {
	// Send hands env to the channel. It does not wait for delivery; an error
	// only reports a local failure such as a closed transport.
	Send(env *message.Envelope) error
	AddListener(l Listener)
	RemoveListener(l Listener)
	// Label names this endpoint in diagnostics.
	Label() string
}

// listenerSet is the add/remove/snapshot bookkeeping shared by the bindings.
type listenerSet struct {
	mu        sync.RWMutex
	listeners []Listener
}

func (s *listenerSet) add(l Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.listeners {
		if existing == l {
			return false
		}
	}
	s.listeners = append(s.listeners, l)
	return true
}

func (s *listenerSet) remove(l Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (s *listenerSet) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// deliver calls every listener with env. The snapshot is taken under the lock,
// the calls happen outside it so a listener may add or remove listeners.
func (s *listenerSet) deliver(env *message.Envelope) {
	s.mu.RLock()
	snapshot := make([]Listener, len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.RUnlock()

	for _, l := range snapshot {
		l.OnEnvelope(env)
	}
}
