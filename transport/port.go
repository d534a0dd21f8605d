package transport

import (
	"sync"

	"msgrpc/message"
)

const defaultInboxSize = 256

// Port is an in-memory endpoint. Inbound envelopes are queued in an inbox and
// handed to listeners by a single delivery goroutine, so listeners observe one
// envelope at a time.
//
// Envelopes are passed by reference: a sender must not modify an envelope
// after Send.
type Port struct {
	label     string
	route     func(from *Port, env *message.Envelope) // where Send forwards to
	inbox     chan *message.Envelope
	listeners listenerSet
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Port)
}

func newPort(label string, route func(*Port, *message.Envelope), onClose func(*Port)) *Port {
	p := &Port{
		label:   label,
		route:   route,
		inbox:   make(chan *message.Envelope, defaultInboxSize),
		done:    make(chan struct{}),
		onClose: onClose,
	}
	go p.deliverLoop()
	return p
}

// Pipe returns two ports wired to each other: whatever one sends, the other
// receives.
func Pipe(labelA, labelB string) (*Port, *Port) {
	var a, b *Port
	a = newPort(labelA, func(_ *Port, env *message.Envelope) { b.enqueue(env) }, nil)
	b = newPort(labelB, func(_ *Port, env *message.Envelope) { a.enqueue(env) }, nil)
	return a, b
}

func (p *Port) Label() string { return p.label }

func (p *Port) Send(env *message.Envelope) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	p.route(p, env)
	return nil
}

func (p *Port) AddListener(l Listener) { p.listeners.add(l) }

func (p *Port) RemoveListener(l Listener) { p.listeners.remove(l) }

// Listeners reports how many listeners are subscribed.
func (p *Port) Listeners() int { return p.listeners.len() }

// Close stops delivery. Envelopes still queued are dropped and later sends to
// this port are discarded, matching a channel whose receiver went away.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.onClose != nil {
			p.onClose(p)
		}
	})
	return nil
}

func (p *Port) enqueue(env *message.Envelope) {
	select {
	case <-p.done:
	case p.inbox <- env:
	}
}

func (p *Port) deliverLoop() {
	for {
		select {
		case <-p.done:
			return
		case env := <-p.inbox:
			p.listeners.deliver(env)
		}
	}
}
