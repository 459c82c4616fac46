// Package hub provides best-effort fan-out of relay events to observer connections.
package hub

import (
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
)

// Observer is one observer connection as seen by the hub. Frames queued on
// Send are written to the socket by the connection's write pump; the hub
// closes Send when the observer is removed.
type Observer struct {
	ID   string
	Send chan []byte

	closed bool
}

// NewObserver creates an observer with a send queue of the given size.
func NewObserver(buffer int) *Observer {
	if buffer < 1 {
		buffer = 1
	}
	return &Observer{
		ID:   uuid.New().String(),
		Send: make(chan []byte, buffer),
	}
}

// Hub manages the set of live observers.
//
// Hub is not safe for concurrent use; it is owned by relay.Relay, whose
// event loop is the only caller.
type Hub struct {
	observers map[string]*Observer
	logger    *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		observers: make(map[string]*Observer),
		logger:    logger,
	}
}

// Add registers an observer for future broadcasts. Backlog frames are
// queued ahead of any broadcast; the queue grows by len(backlog) so the
// observer keeps its full buffer for live frames. Add must be called
// before anything reads o.Send.
func (h *Hub) Add(o *Observer, backlog ...[]byte) {
	if len(backlog) > 0 {
		send := make(chan []byte, len(backlog)+cap(o.Send))
		for _, data := range backlog {
			send <- data
		}
		o.Send = send
	}
	h.observers[o.ID] = o
	h.logger.Debug("observer registered", "observer", o.ID, "observers", len(h.observers))
}

// Remove unregisters an observer and closes its send queue. It reports
// whether the observer was registered; removing twice is a no-op.
func (h *Hub) Remove(o *Observer) bool {
	if _, ok := h.observers[o.ID]; !ok {
		return false
	}
	delete(h.observers, o.ID)
	if !o.closed {
		o.closed = true
		close(o.Send)
	}
	h.logger.Debug("observer unregistered", "observer", o.ID, "observers", len(h.observers))
	return true
}

// Has reports whether o is registered.
func (h *Hub) Has(o *Observer) bool {
	_, ok := h.observers[o.ID]
	return ok
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	return len(h.observers)
}

// Observers returns a snapshot of the registered observers.
func (h *Hub) Observers() []*Observer {
	out := make([]*Observer, 0, len(h.observers))
	for _, o := range h.observers {
		out = append(out, o)
	}
	return out
}

// Broadcast serializes v once and queues it for every observer.
// It returns the number of observers the frame was queued for.
func (h *Hub) Broadcast(v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return h.BroadcastRaw(data), nil
}

// BroadcastRaw queues data for every observer without blocking. Observers
// whose queue cannot take the frame are removed after the pass; a failure
// on one observer never affects delivery to the others.
func (h *Hub) BroadcastRaw(data []byte) int {
	snapshot := h.Observers()

	var failed []*Observer
	delivered := 0
	for _, o := range snapshot {
		if err := h.Send(o, data); err != nil {
			h.logger.Warn("failed to send to observer", "observer", o.ID, "error", err)
			failed = append(failed, o)
			continue
		}
		delivered++
	}

	for _, o := range failed {
		h.Remove(o)
	}
	return delivered
}

// Send queues data for a single observer without blocking.
func (h *Hub) Send(o *Observer, data []byte) error {
	if o.closed {
		return ErrClosed
	}
	select {
	case o.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}

// ErrClosed is returned when sending to an observer that has been removed.
var ErrClosed = &ClosedError{}

// ClosedError represents a send to a removed observer.
type ClosedError struct{}

func (e *ClosedError) Error() string {
	return "observer closed"
}
