// Package http provides the relay's HTTP server: the WebSocket endpoint
// plus status, manifest and export routes.
package http

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/klauspost/compress/zstd"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dgca/mini-app-debugger/internal/config"
	"github.com/dgca/mini-app-debugger/internal/manifest"
	"github.com/dgca/mini-app-debugger/internal/relay"
	"github.com/dgca/mini-app-debugger/internal/ws"
)

// ExportFilename is the attachment name used by /api/export.
const ExportFilename = "relay-export.ndjson.zst"

// Server is the relay HTTP server.
type Server struct {
	echo     *echo.Echo
	relay    *relay.Relay
	manifest *manifest.Client
	encoder  *zstd.Encoder
	logger   *slog.Logger
}

// NewServer creates a new HTTP server. The WebSocket endpoint is mounted at
// cfg.WSPath.
func NewServer(cfg *config.Config, r *relay.Relay, wsServer *ws.Server, manifestClient *manifest.Client, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
	}))

	s := &Server{
		echo:     e,
		relay:    r,
		manifest: manifestClient,
		encoder:  enc,
		logger:   logger,
	}

	// Register routes
	e.GET(cfg.WSPath, wsServer.HandleWebSocket)
	e.GET("/", s.handleIndex)
	e.GET("/health", s.handleHealth)
	e.GET("/api/manifest", s.handleManifest)
	e.GET("/api/export", s.handleExport)

	return s, nil
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	s.encoder.Close()
	return err
}

// IndexResponse is the body of GET /.
type IndexResponse struct {
	Message string      `json:"message"`
	Stats   relay.Stats `json:"stats"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	relay.Stats
}

func (s *Server) handleIndex(c echo.Context) error {
	stats, err := s.relay.Stats(c.Request().Context())
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(http.StatusOK, IndexResponse{
		Message: "Debug server running",
		Stats:   stats,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	stats, err := s.relay.Stats(c.Request().Context())
	if err != nil {
		return unavailable(c, err)
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Stats: stats})
}

// handleManifest proxies the manifest of the app at ?origin=.
func (s *Server) handleManifest(c echo.Context) error {
	origin := c.QueryParam("origin")
	if origin == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Origin parameter is required"})
	}

	doc, err := s.manifest.Fetch(c.Request().Context(), origin)
	if err != nil {
		var statusErr *manifest.StatusError
		switch {
		case errors.Is(err, manifest.ErrInvalidOrigin):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.As(err, &statusErr):
			return c.JSON(statusErr.StatusCode, map[string]string{"error": statusErr.Error()})
		default:
			s.logger.Warn("manifest fetch failed", "origin", origin, "error", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
	}
	return c.JSONBlob(http.StatusOK, doc)
}

// handleExport returns the replay snapshot as zstd-compressed NDJSON, one
// outbound frame per line.
func (s *Server) handleExport(c echo.Context) error {
	frames, err := s.relay.Snapshot(c.Request().Context())
	if err != nil {
		return unavailable(c, err)
	}

	var buf bytes.Buffer
	for _, frame := range frames {
		buf.Write(frame)
		buf.WriteByte('\n')
	}
	compressed := s.encoder.EncodeAll(buf.Bytes(), make([]byte, 0, buf.Len()/2))

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+ExportFilename+`"`)
	return c.Blob(http.StatusOK, "application/zstd", compressed)
}

func unavailable(c echo.Context, err error) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
}
