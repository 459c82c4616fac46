// Package rpc exposes the relay over JSON-RPC for local tooling.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync/atomic"
	"time"

	"github.com/dgca/mini-app-debugger/internal/protocol"
	"github.com/dgca/mini-app-debugger/internal/relay"
)

// ServiceName is the name the handler is registered under.
const ServiceName = "Relay"

// callTimeout bounds how long one RPC waits on the relay loop.
const callTimeout = 5 * time.Second

// Server exposes relay RPC endpoints.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *slog.Logger
	serving   atomic.Bool
	done      chan struct{}
}

// NewServer creates a new relay RPC server.
func NewServer(r *relay.Relay, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rpcServer := rpc.NewServer()
	handler := &Handler{relay: r, logger: logger}
	if err := rpcServer.RegisterName(ServiceName, handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Listen binds the server to addr. Serve must be called to accept
// connections. Shutdown may be called any time after Listen.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts RPC connections on the bound listener until Shutdown.
func (s *Server) Serve() error {
	if s.listener == nil {
		return errors.New("rpc server is not listening")
	}
	s.serving.Store(true)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("RPC accept error", "error", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}
	if !s.serving.Load() {
		return nil
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements relay RPC methods.
type Handler struct {
	relay  *relay.Relay
	logger *slog.Logger
}

// StatsRequest is the (empty) argument of Relay.Stats.
type StatsRequest struct{}

// IngestRequest injects one producer envelope into a session.
type IngestRequest struct {
	SessionID string          `json:"session_id"`
	Envelope  json.RawMessage `json:"envelope"`
}

// IngestResponse reports whether the entry was recorded.
type IngestResponse struct {
	OK       bool `json:"ok"`
	Accepted bool `json:"accepted"`
}

// Stats returns the relay counters.
func (h *Handler) Stats(_ *StatsRequest, resp *relay.Stats) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	stats, err := h.relay.Stats(ctx)
	if err != nil {
		return err
	}
	*resp = stats
	return nil
}

// Ingest records an envelope under a session as if its producer had sent it.
func (h *Handler) Ingest(req *IngestRequest, resp *IngestResponse) error {
	if req == nil {
		return errors.New("ingest request is required")
	}
	if req.SessionID == "" {
		return errors.New("session_id is required")
	}
	if len(req.Envelope) == 0 {
		return errors.New("envelope is required")
	}

	msg, err := protocol.Decode(req.Envelope)
	if err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	accepted, err := h.relay.Ingest(ctx, req.SessionID, msg)
	if err != nil {
		return err
	}

	h.logger.Debug("envelope ingested over RPC", "session", req.SessionID, "type", msg.Type, "accepted", accepted)

	if resp != nil {
		resp.OK = true
		resp.Accepted = accepted
	}
	return nil
}
