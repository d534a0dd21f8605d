package transport

import (
	"sync"

	"msgrpc/message"
)

// Hub is a star-shaped broadcast channel, the way a service worker talks to
// the windows it controls: a member's send goes to the center only, and a
// center's send goes to every member.
//
// Members on the same hub with the same tag therefore see each other's
// responses, and must discard the ones they did not ask for.
type Hub struct {
	center *Port

	mu      sync.RWMutex
	members []*Port
}

// NewHub creates a hub whose center port is labelled centerLabel.
func NewHub(centerLabel string) *Hub {
	h := &Hub{}
	h.center = newPort(centerLabel, h.broadcast, nil)
	return h
}

// Center returns the broadcasting port.
func (h *Hub) Center() *Port { return h.center }

// Join adds a member labelled label. Closing the returned port leaves the hub.
func (h *Hub) Join(label string) *Port {
	p := newPort(label, func(_ *Port, env *message.Envelope) { h.center.enqueue(env) }, h.leave)
	h.mu.Lock()
	h.members = append(h.members, p)
	h.mu.Unlock()
	return p
}

// Members reports the number of joined member ports.
func (h *Hub) Members() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// Close closes the center and every member.
func (h *Hub) Close() error {
	h.mu.RLock()
	members := append([]*Port(nil), h.members...)
	h.mu.RUnlock()
	for _, m := range members {
		m.Close()
	}
	return h.center.Close()
}

func (h *Hub) broadcast(_ *Port, env *message.Envelope) {
	h.mu.RLock()
	targets := append([]*Port(nil), h.members...)
	h.mu.RUnlock()

	for _, m := range targets {
		m.enqueue(env)
	}
}

func (h *Hub) leave(p *Port) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, m := range h.members {
		if m == p {
			h.members = append(h.members[:i:i], h.members[i+1:]...)
			return
		}
	}
}
