// Package relay owns the relay's state: the session registry, the event
// history and the observer fan-out.
//
// All state transitions run on a single goroutine (Run). Connection
// goroutines hand work to it and wait for the reaction to finish, so every
// reaction runs to completion before the next one starts and no state is
// shared between goroutines.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dgca/mini-app-debugger/internal/history"
	"github.com/dgca/mini-app-debugger/internal/hub"
	"github.com/dgca/mini-app-debugger/internal/protocol"
	"github.com/dgca/mini-app-debugger/internal/session"
)

// ErrStopped is returned by operations submitted after Run has returned.
var ErrStopped = errors.New("relay stopped")

// Filter decides whether a validated producer message should be recorded.
// It runs on the caller's goroutine, before the message reaches the event loop.
type Filter interface {
	Allow(ctx context.Context, sessionID string, msg *protocol.Inbound) (bool, error)
}

// Producer is the relay's handle on one producer connection.
type Producer struct {
	ID        string
	SessionID string

	closed bool
}

// ProducerInfo is the connection metadata of a new producer.
type ProducerInfo struct {
	SessionID string // empty: generate one
	Origin    string
	AppName   string
	UserAgent string
}

// Stats is a point-in-time view of the relay's counters.
type Stats struct {
	Clients              int `json:"clients"`
	Debuggers            int `json:"debuggers"`
	Sessions             int `json:"sessions"`
	TotalLogs            int `json:"totalLogs"`
	TotalNetworkRequests int `json:"totalNetworkRequests"`
}

// Relay is the single owner of registry, history and fan-out.
type Relay struct {
	registry  *session.Registry
	store     *history.Store
	hub       *hub.Hub
	producers map[string]*Producer // session id -> owning connection

	filter Filter
	logger *slog.Logger

	ops     chan func()
	stopped chan struct{}
}

// Option configures a Relay.
type Option func(*Relay)

// WithFilter installs an ingest filter.
func WithFilter(f Filter) Option {
	return func(r *Relay) { r.filter = f }
}

// WithLogger sets the relay's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// New creates a relay retaining historyLimit entries per session and kind.
// Run must be started before any other method is used.
func New(historyLimit int, opts ...Option) *Relay {
	r := &Relay{
		producers: make(map[string]*Producer),
		logger:    slog.Default(),
		ops:       make(chan func()),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registry = session.NewRegistry()
	r.store = history.NewStore(historyLimit, r.registry)
	r.hub = hub.NewHub(r.logger)
	return r
}

// Run processes reactions until ctx is cancelled. On return every observer
// queue is closed so their write pumps finish.
func (r *Relay) Run(ctx context.Context) {
	defer close(r.stopped)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-ctx.Done():
			for _, o := range r.hub.Observers() {
				r.hub.Remove(o)
			}
			r.logger.Info("relay loop stopped")
			return
		}
	}
}

// Done is closed once Run has returned.
func (r *Relay) Done() <-chan struct{} {
	return r.stopped
}

// do runs fn on the event loop and waits for it to complete.
func (r *Relay) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}
	select {
	case r.ops <- op:
	case <-r.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// ConnectProducer registers a producer connection, creates its session and
// announces it to observers.
func (r *Relay) ConnectProducer(ctx context.Context, info ProducerInfo) (*Producer, protocol.Session, error) {
	sessionID := info.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	p := &Producer{ID: uuid.New().String(), SessionID: sessionID}

	var s protocol.Session
	err := r.do(ctx, func() {
		if prev, ok := r.producers[sessionID]; ok && prev != p {
			r.logger.Warn("session taken over by new producer", "session", sessionID, "previous", prev.ID, "producer", p.ID)
		}
		r.producers[sessionID] = p
		s = r.registry.Upsert(sessionID, info.Origin,
			session.WithAppName(info.AppName),
			session.WithUserAgent(info.UserAgent),
		)
		r.store.Ensure(sessionID)
		r.broadcast(protocol.ClientMessage{Type: protocol.TypeClientConnected, Data: s})
		r.logger.Info("producer connected", "session", sessionID, "origin", s.Origin, "producer", p.ID)
	})
	if err != nil {
		return nil, protocol.Session{}, err
	}
	return p, s, nil
}

// DisconnectProducer tears down a producer connection. The session is
// removed only if this connection still owns it; its history is kept.
// Calling it more than once is a no-op.
func (r *Relay) DisconnectProducer(ctx context.Context, p *Producer) error {
	return r.do(ctx, func() {
		if p.closed {
			return
		}
		p.closed = true
		if r.producers[p.SessionID] != p {
			r.logger.Debug("stale producer closed", "session", p.SessionID, "producer", p.ID)
			return
		}
		delete(r.producers, p.SessionID)
		s, ok := r.registry.Remove(p.SessionID)
		if ok {
			r.broadcast(protocol.ClientMessage{Type: protocol.TypeClientDisconnected, Data: s})
		}
		r.logger.Info("producer disconnected", "session", p.SessionID, "producer", p.ID)
	})
}

// ConnectObserver registers an observer and queues its replay on o.Send:
// the client list, then every retained log entry, then every retained
// network entry, each session in first-seen order and each buffer oldest
// first. Registration and snapshot happen in one reaction, so later events
// land behind the replay exactly once. It returns the number of replayed
// frames.
func (r *Relay) ConnectObserver(ctx context.Context, o *hub.Observer) (int, error) {
	var replayed int
	err := r.do(ctx, func() {
		backlog := r.snapshot()
		r.hub.Add(o, backlog...)
		replayed = len(backlog)
		r.logger.Info("observer connected", "observer", o.ID, "replay", replayed)
	})
	return replayed, err
}

// DisconnectObserver removes an observer from the fan-out. Idempotent.
func (r *Relay) DisconnectObserver(ctx context.Context, o *hub.Observer) error {
	return r.do(ctx, func() {
		if r.hub.Remove(o) {
			r.logger.Info("observer disconnected", "observer", o.ID)
		}
	})
}

// Submit records a message from producer p and broadcasts it if accepted.
// Messages are always recorded under the producer's own session.
func (r *Relay) Submit(ctx context.Context, p *Producer, msg *protocol.Inbound) (bool, error) {
	if msg.SessionID != "" && msg.SessionID != p.SessionID {
		r.logger.Debug("envelope session differs from connection session",
			"session", p.SessionID, "envelope_session", msg.SessionID)
	}
	return r.Ingest(ctx, p.SessionID, msg)
}

// Ingest records a message under sessionID and broadcasts it if accepted.
// The session does not need to be connected.
func (r *Relay) Ingest(ctx context.Context, sessionID string, msg *protocol.Inbound) (bool, error) {
	if r.filter != nil {
		allow, err := r.filter.Allow(ctx, sessionID, msg)
		if err != nil {
			r.logger.Error("ingest filter failed, recording message", "session", sessionID, "error", err)
		} else if !allow {
			r.logger.Debug("message dropped by filter", "session", sessionID, "type", msg.Type, "id", msg.Entry.EntryID())
			return false, nil
		}
	}

	var accepted bool
	err := r.do(ctx, func() {
		accepted = r.record(sessionID, msg.Entry)
	})
	return accepted, err
}

func (r *Relay) record(sessionID string, entry protocol.Entry) bool {
	stored, ok := r.store.Record(sessionID, entry)
	if !ok {
		r.logger.Debug("duplicate entry ignored", "session", sessionID, "type", entry.MessageType(), "id", entry.EntryID())
		return false
	}

	r.broadcast(protocol.NewEventMessage(sessionID, stored))

	switch e := stored.(type) {
	case protocol.LogEntry:
		r.logger.Info("console_log", "session", sessionID, "level", strings.ToUpper(string(e.Level)), "message", e.Message)
	case protocol.NetworkEntry:
		r.logger.Info("network_request", "session", sessionID, "method", e.Method, "url", e.URL, "status", e.Status())
	}
	return true
}

// Stats returns the relay's counters.
func (r *Relay) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := r.do(ctx, func() {
		st.Clients = len(r.producers)
		st.Debuggers = r.hub.Len()
		st.Sessions = r.store.Len()
		st.TotalLogs, st.TotalNetworkRequests = r.store.Totals()
	})
	return st, err
}

// Snapshot returns the frames a newly connected observer would replay.
func (r *Relay) Snapshot(ctx context.Context) ([][]byte, error) {
	var frames [][]byte
	err := r.do(ctx, func() {
		frames = r.snapshot()
	})
	return frames, err
}

// Sessions returns the active sessions in registration order.
func (r *Relay) Sessions(ctx context.Context) ([]protocol.Session, error) {
	var list []protocol.Session
	err := r.do(ctx, func() {
		list = r.registry.List()
	})
	return list, err
}

func (r *Relay) snapshot() [][]byte {
	frames := make([][]byte, 0, 1)
	frames = r.appendFrame(frames, protocol.NewClientListMessage(r.registry.List()))

	sessions := r.store.Sessions()
	for _, sid := range sessions {
		for _, e := range r.store.Logs(sid) {
			frames = r.appendFrame(frames, protocol.NewEventMessage(sid, e))
		}
	}
	for _, sid := range sessions {
		for _, e := range r.store.Network(sid) {
			frames = r.appendFrame(frames, protocol.NewEventMessage(sid, e))
		}
	}
	return frames
}

func (r *Relay) appendFrame(frames [][]byte, v any) [][]byte {
	data, err := protocol.Encode(v)
	if err != nil {
		r.logger.Error("failed to encode replay frame", "error", err)
		return frames
	}
	return append(frames, data)
}

func (r *Relay) broadcast(v any) {
	if _, err := r.hub.Broadcast(v); err != nil {
		r.logger.Error("failed to broadcast", "error", err)
	}
}
