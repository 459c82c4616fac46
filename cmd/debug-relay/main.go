package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgca/mini-app-debugger/internal/config"
	internalhttp "github.com/dgca/mini-app-debugger/internal/http"
	"github.com/dgca/mini-app-debugger/internal/logging"
	"github.com/dgca/mini-app-debugger/internal/manifest"
	"github.com/dgca/mini-app-debugger/internal/policy"
	"github.com/dgca/mini-app-debugger/internal/relay"
	"github.com/dgca/mini-app-debugger/internal/transport/rpc"
	"github.com/dgca/mini-app-debugger/internal/ws"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "debug-relay: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// Load configuration
	cfg, err := config.FromArgs(args)
	if err != nil {
		return err
	}

	logger, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []relay.Option{relay.WithLogger(logger)}
	if cfg.PolicyFile != "" {
		engine, err := policy.LoadFile(ctx, cfg.PolicyFile)
		if err != nil {
			return err
		}
		opts = append(opts, relay.WithFilter(engine))
		logger.Info("ingest policy loaded", "path", cfg.PolicyFile)
	}

	// Initialize relay
	r := relay.New(cfg.HistoryLimit, opts...)
	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	go r.Run(relayCtx)

	wsServer := ws.NewServer(cfg, r, logger)
	httpServer, err := internalhttp.NewServer(cfg, r, wsServer, manifest.NewClient(cfg.ManifestTimeout), logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)

	// Start HTTP server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := httpServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	logger.Info("debug server running", "url", fmt.Sprintf("http://localhost:%d", cfg.Port))
	logger.Info("WebSocket endpoint", "url", fmt.Sprintf("ws://localhost:%d%s", cfg.Port, cfg.WSPath))

	// Start internal RPC server
	var rpcServer *rpc.Server
	if cfg.RPCPort != 0 {
		rpcServer, err = rpc.NewServer(r, logger)
		if err != nil {
			return err
		}
		if err := rpcServer.Listen(fmt.Sprintf("127.0.0.1:%d", cfg.RPCPort)); err != nil {
			return fmt.Errorf("RPC server: %w", err)
		}
		go func() {
			if err := rpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("RPC server: %w", err)
			}
		}()
		logger.Info("RPC server started", "port", cfg.RPCPort)
	}

	// Wait for interrupt signal
	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	logger.Info("shutting down debug server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop the relay first so observer sockets get a close frame.
	stopRelay()
	<-r.Done()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to shutdown HTTP server gracefully", "error", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shutdown RPC server gracefully", "error", err)
		}
	}

	logger.Info("debug server stopped")
	return runErr
}
