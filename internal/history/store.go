package history

import (
	"github.com/dgca/mini-app-debugger/internal/protocol"
)

// DefaultLimit is the number of entries of each kind retained per session.
const DefaultLimit = 1000

// OriginLookup resolves the origin to stamp onto entries of a session.
type OriginLookup interface {
	Origin(sessionID string) string
}

// Store holds a log buffer and a network buffer for every session it has
// seen, in the order sessions were first seen. Buffers outlive the producer
// connection so late observers can replay them.
//
// Store is not safe for concurrent use; it is owned by relay.Relay.
type Store struct {
	limit    int
	origins  OriginLookup
	sessions map[string]*sessionHistory
	order    []string
}

type sessionHistory struct {
	logs    *Buffer[protocol.LogEntry]
	network *Buffer[protocol.NetworkEntry]
}

// NewStore creates a store retaining limit entries per session and kind.
func NewStore(limit int, origins OriginLookup) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		limit:    limit,
		origins:  origins,
		sessions: make(map[string]*sessionHistory),
	}
}

// Ensure creates empty buffers for sessionID if none exist.
func (s *Store) Ensure(sessionID string) {
	s.session(sessionID)
}

func (s *Store) session(sessionID string) *sessionHistory {
	h, ok := s.sessions[sessionID]
	if !ok {
		h = &sessionHistory{
			logs:    NewBuffer[protocol.LogEntry](s.limit),
			network: NewBuffer[protocol.NetworkEntry](s.limit),
		}
		s.sessions[sessionID] = h
		s.order = append(s.order, sessionID)
	}
	return h
}

// Record stores entry for sessionID unless an entry with the same id and
// kind is already retained. The stored copy carries the session's origin
// and is returned so the caller can broadcast exactly what was stored.
func (s *Store) Record(sessionID string, entry protocol.Entry) (protocol.Entry, bool) {
	h := s.session(sessionID)

	origin := protocol.UnknownOrigin
	if s.origins != nil {
		origin = s.origins.Origin(sessionID)
	}

	switch e := entry.(type) {
	case protocol.LogEntry:
		if h.logs.Contains(e.ID) {
			return nil, false
		}
		stamped := e.WithOrigin(origin).(protocol.LogEntry)
		h.logs.Add(e.ID, stamped)
		return stamped, true
	case protocol.NetworkEntry:
		if h.network.Contains(e.ID) {
			return nil, false
		}
		stamped := e.WithOrigin(origin).(protocol.NetworkEntry)
		h.network.Add(e.ID, stamped)
		return stamped, true
	default:
		return nil, false
	}
}

// Sessions returns every session id with history, in first-seen order.
func (s *Store) Sessions() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Logs returns the retained log entries of a session, oldest first.
func (s *Store) Logs(sessionID string) []protocol.LogEntry {
	if h, ok := s.sessions[sessionID]; ok {
		return h.logs.All()
	}
	return nil
}

// Network returns the retained network entries of a session, oldest first.
func (s *Store) Network(sessionID string) []protocol.NetworkEntry {
	if h, ok := s.sessions[sessionID]; ok {
		return h.network.All()
	}
	return nil
}

// Len returns the number of sessions with history.
func (s *Store) Len() int {
	return len(s.sessions)
}

// Totals returns the number of retained log and network entries across all sessions.
func (s *Store) Totals() (logs, network int) {
	for _, h := range s.sessions {
		logs += h.logs.Len()
		network += h.network.Len()
	}
	return logs, network
}
