// Package protocol defines the WebSocket message protocol between producers, observers and the relay.
package protocol

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Message types from producer to relay
const (
	TypeConsoleLog     = "console_log"
	TypeNetworkRequest = "network_request"
)

// Message types from relay to observer
const (
	TypeClientList         = "client_list"
	TypeClientConnected    = "client_connected"
	TypeClientDisconnected = "client_disconnected"
)

// UnknownOrigin is stamped onto entries whose session has no known origin.
const UnknownOrigin = "unknown"

// Role classifies a connection on the relay endpoint.
type Role string

const (
	RoleProducer Role = "producer"
	RoleObserver Role = "observer"
)

// ParseRole maps the `type` query parameter to a Role. The older wire names
// "client" and "debugger" are accepted. An empty value is a producer; any
// other value is reported as not ok and treated as a producer.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "producer", "client":
		return RoleProducer, true
	case "observer", "debugger":
		return RoleObserver, true
	default:
		return RoleProducer, false
	}
}

// LogLevel is the console method a log entry was captured from.
type LogLevel string

const (
	LevelLog   LogLevel = "log"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelDebug LogLevel = "debug"
)

// Valid reports whether l is one of the known console levels.
func (l LogLevel) Valid() bool {
	switch l {
	case LevelLog, LevelInfo, LevelWarn, LevelError, LevelDebug:
		return true
	}
	return false
}

// Session describes one producer connection.
type Session struct {
	SessionID   string `json:"sessionId"`
	AppName     string `json:"appName,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	Origin      string `json:"origin"`
	ConnectedAt int64  `json:"connectedAt"`
}

// Entry is a captured event stored per session.
type Entry interface {
	// EntryID is the producer-supplied identifier used for deduplication.
	EntryID() string
	// MessageType is the envelope type the entry travels under.
	MessageType() string
	// WithOrigin returns a copy of the entry with its origin replaced.
	WithOrigin(origin string) Entry
}

// Source is the call site of a console invocation.
type Source struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// LogEntry is one captured console call.
type LogEntry struct {
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"`
	Level     LogLevel          `json:"level"`
	Message   string            `json:"message"`
	Args      []json.RawMessage `json:"args"`
	Source    *Source           `json:"source,omitempty"`
	Origin    string            `json:"origin,omitempty"`
}

func (e LogEntry) EntryID() string     { return e.ID }
func (e LogEntry) MessageType() string { return TypeConsoleLog }

func (e LogEntry) WithOrigin(origin string) Entry {
	e.Origin = origin
	return e
}

// NetworkResponse is the response half of a captured fetch.
type NetworkResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// NetworkEntry is one captured fetch call.
type NetworkEntry struct {
	ID        string            `json:"id"`
	Timestamp int64             `json:"timestamp"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	Body      *string           `json:"body,omitempty"`
	Origin    string            `json:"origin,omitempty"`
	Response  *NetworkResponse  `json:"response,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  *float64          `json:"duration,omitempty"` // milliseconds
}

func (e NetworkEntry) EntryID() string     { return e.ID }
func (e NetworkEntry) MessageType() string { return TypeNetworkRequest }

func (e NetworkEntry) WithOrigin(origin string) Entry {
	e.Origin = origin
	return e
}

// Status renders the outcome of the request for log lines.
func (e NetworkEntry) Status() string {
	switch {
	case e.Response != nil && e.Response.StatusText != "":
		return strconv.Itoa(e.Response.Status) + " " + e.Response.StatusText
	case e.Response != nil:
		return strconv.Itoa(e.Response.Status)
	case e.Error != "":
		return "ERROR"
	default:
		return "PENDING"
	}
}

// Envelope is the wire shape of a producer message before its data is decoded.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// Inbound is a validated producer message.
type Inbound struct {
	Type      string
	SessionID string
	Entry     Entry
}

// EventMessage carries one stored entry to observers.
type EventMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Data      Entry  `json:"data"`
}

// NewEventMessage wraps entry in the envelope matching its kind.
func NewEventMessage(sessionID string, entry Entry) EventMessage {
	return EventMessage{Type: entry.MessageType(), SessionID: sessionID, Data: entry}
}

// ClientListMessage is the first message an observer receives.
type ClientListMessage struct {
	Type string    `json:"type"`
	Data []Session `json:"data"`
}

// NewClientListMessage builds a client_list message. A nil list is sent as [].
func NewClientListMessage(sessions []Session) ClientListMessage {
	if sessions == nil {
		sessions = []Session{}
	}
	return ClientListMessage{Type: TypeClientList, Data: sessions}
}

// ClientMessage announces a producer connecting or disconnecting.
type ClientMessage struct {
	Type string  `json:"type"`
	Data Session `json:"data"`
}
