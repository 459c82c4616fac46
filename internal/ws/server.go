// Package ws provides the relay's WebSocket endpoint for producers and observers.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/dgca/mini-app-debugger/internal/config"
	"github.com/dgca/mini-app-debugger/internal/hub"
	"github.com/dgca/mini-app-debugger/internal/protocol"
	"github.com/dgca/mini-app-debugger/internal/relay"
)

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	relay    *relay.Relay
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, r *relay.Relay, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:   cfg,
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Producers run inside arbitrary web apps.
				return true
			},
		},
		logger: logger,
	}
}

// conn is one upgraded socket. done is closed when either pump gives up.
type conn struct {
	ws        *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// HandleWebSocket upgrades the request and classifies the connection by
// its `type` query parameter.
func (s *Server) HandleWebSocket(c echo.Context) error {
	req := c.Request()
	query := req.URL.Query()

	role, ok := protocol.ParseRole(query.Get("type"))
	if !ok {
		s.logger.Warn("unknown connection type, treating as producer", "type", query.Get("type"))
	}

	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// The upgrader has already replied with an HTTP error.
		s.logger.Warn("failed to upgrade WebSocket", "error", err)
		return nil
	}
	ws.SetReadLimit(s.cfg.MaxMessageSize)
	cn := &conn{ws: ws, done: make(chan struct{})}

	// The request context ends with this handler; pumps outlive it.
	ctx := context.Background()

	switch role {
	case protocol.RoleObserver:
		s.serveObserver(ctx, cn)
	default:
		s.serveProducer(ctx, cn, relay.ProducerInfo{
			SessionID: query.Get("sessionId"),
			Origin:    originOf(req),
			AppName:   query.Get("appName"),
			UserAgent: req.UserAgent(),
		})
	}
	return nil
}

func (s *Server) serveObserver(ctx context.Context, cn *conn) {
	o := hub.NewObserver(s.cfg.SendBuffer)
	if _, err := s.relay.ConnectObserver(ctx, o); err != nil {
		s.logger.Error("failed to register observer", "error", err)
		cn.Close()
		return
	}

	go s.writePump(cn, o.Send)
	go s.readPump(cn, nil, func() {
		if err := s.relay.DisconnectObserver(ctx, o); err != nil && !errors.Is(err, relay.ErrStopped) {
			s.logger.Error("failed to unregister observer", "observer", o.ID, "error", err)
		}
	})
}

func (s *Server) serveProducer(ctx context.Context, cn *conn, info relay.ProducerInfo) {
	p, _, err := s.relay.ConnectProducer(ctx, info)
	if err != nil {
		s.logger.Error("failed to register producer", "error", err)
		cn.Close()
		return
	}

	go s.writePump(cn, nil)
	go s.readPump(cn, func(messageType int, data []byte) bool {
		return s.handleMessage(ctx, p, messageType, data)
	}, func() {
		if err := s.relay.DisconnectProducer(ctx, p); err != nil && !errors.Is(err, relay.ErrStopped) {
			s.logger.Error("failed to unregister producer", "session", p.SessionID, "error", err)
		}
	})
}

// readPump reads messages from the WebSocket connection until it fails.
// handle may be nil, in which case messages are read and discarded; it
// returns false to close the connection.
func (s *Server) readPump(cn *conn, handle func(int, []byte) bool, onClose func()) {
	defer func() {
		onClose()
		cn.Close()
	}()

	if s.cfg.ReadTimeout > 0 {
		cn.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		cn.ws.SetPongHandler(func(string) error {
			cn.ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
			return nil
		})
	}

	for {
		messageType, message, err := cn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Warn("WebSocket error", "error", err)
			}
			return
		}
		if handle != nil && !handle(messageType, message) {
			return
		}
	}
}

// writePump writes queued frames to the connection. A nil send channel
// means the peer only receives pings.
func (s *Server) writePump(cn *conn, send <-chan []byte) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		cn.Close()
	}()

	for {
		select {
		case message, ok := <-send:
			cn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Relay dropped the observer
				cn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cn.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			cn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := cn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-cn.done:
			return
		}
	}
}

// handleMessage decodes one producer frame and hands it to the relay.
// Bad frames are logged and dropped; only a stopped relay closes the connection.
func (s *Server) handleMessage(ctx context.Context, p *relay.Producer, messageType int, data []byte) bool {
	var (
		msg *protocol.Inbound
		err error
	)
	switch messageType {
	case websocket.BinaryMessage:
		msg, err = protocol.DecodeBinary(data)
	default:
		msg, err = protocol.Decode(data)
	}
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			s.logger.Warn("unknown message type", "session", p.SessionID, "error", err)
		} else {
			s.logger.Error("failed to parse message", "session", p.SessionID, "error", err)
		}
		return true
	}

	if _, err := s.relay.Submit(ctx, p, msg); err != nil {
		s.logger.Error("failed to record message", "session", p.SessionID, "error", err)
		return !errors.Is(err, relay.ErrStopped)
	}
	return true
}

// originOf returns the page origin of a producer connection.
func originOf(req *http.Request) string {
	if origin := req.Header.Get("Origin"); origin != "" {
		return origin
	}
	if referer := req.Header.Get("Referer"); referer != "" {
		return referer
	}
	return protocol.UnknownOrigin
}
