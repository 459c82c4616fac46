// Package session tracks the producer sessions currently connected to the relay.
package session

import (
	"time"

	"github.com/dgca/mini-app-debugger/internal/protocol"
)

// Registry holds active sessions in the order they were first registered.
//
// Registry is not safe for concurrent use; it is owned by relay.Relay.
type Registry struct {
	sessions map[string]protocol.Session
	order    []string
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]protocol.Session),
		now:      time.Now,
	}
}

// Upsert registers a session, or replaces the metadata of an existing one
// while keeping its position in List.
func (r *Registry) Upsert(sessionID, origin string, opts ...Option) protocol.Session {
	if origin == "" {
		origin = protocol.UnknownOrigin
	}
	s := protocol.Session{
		SessionID:   sessionID,
		Origin:      origin,
		ConnectedAt: r.now().UnixMilli(),
	}
	for _, opt := range opts {
		opt(&s)
	}

	if _, ok := r.sessions[sessionID]; !ok {
		r.order = append(r.order, sessionID)
	}
	r.sessions[sessionID] = s
	return s
}

// Remove forgets a session. Removing an unknown session is a no-op.
func (r *Registry) Remove(sessionID string) (protocol.Session, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return protocol.Session{}, false
	}
	delete(r.sessions, sessionID)
	for i, id := range r.order {
		if id == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return s, true
}

// Get returns the session registered under sessionID.
func (r *Registry) Get(sessionID string) (protocol.Session, bool) {
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Origin returns the origin of a session, or protocol.UnknownOrigin when the
// session is not registered.
func (r *Registry) Origin(sessionID string) string {
	if s, ok := r.sessions[sessionID]; ok && s.Origin != "" {
		return s.Origin
	}
	return protocol.UnknownOrigin
}

// List returns all sessions in registration order.
func (r *Registry) List() []protocol.Session {
	out := make([]protocol.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Option sets optional session metadata.
type Option func(*protocol.Session)

// WithAppName records the producer's application name.
func WithAppName(name string) Option {
	return func(s *protocol.Session) { s.AppName = name }
}

// WithUserAgent records the producer's user agent.
func WithUserAgent(ua string) Option {
	return func(s *protocol.Session) { s.UserAgent = ua }
}
