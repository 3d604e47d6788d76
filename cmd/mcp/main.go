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

	"stockpulse/internal/app"
	"stockpulse/internal/config"
	"stockpulse/internal/mcpserver"
	"stockpulse/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const version = "1.0.0"

var (
	loadEnvFunc    = godotenv.Load
	loadConfigFunc = config.Load
	newAppFunc     = app.New
	startAppFunc   = func(a *app.App, ctx context.Context) { a.Start(ctx) }
	runStdioFunc   = func(ctx context.Context, s *mcp.Server) error {
		return s.Run(ctx, &mcp.StdioTransport{})
	}
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
)

func main() {
	_ = loadEnvFunc()
	cfg := loadConfigFunc()
	// stdout carries the protocol in stdio mode.
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, File: cfg.LogFile, Output: os.Stderr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newAppFunc(ctx, cfg, log, "stockpulse-mcp")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build analysis core")
	}
	startAppFunc(a, ctx)

	server := mcpserver.New(a.Tasks, version, log)

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)

	var srv *http.Server
	switch cfg.MCPTransport {
	case "http":
		if cfg.MCPAuthToken == "" {
			log.Warn().Msg("MCP_AUTH_TOKEN not set, HTTP endpoint is unauthenticated")
		}
		addr := fmt.Sprintf("%s:%d", cfg.MCPHTTPBind, cfg.MCPHTTPPort)
		srv = &http.Server{Addr: addr, Handler: mcpserver.HTTPHandler(server, cfg.MCPAuthToken)}
		go func() {
			log.Info().Str("addr", addr).Msg("MCP HTTP server listening")
			if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("MCP HTTP server stopped")
				cancel()
			}
		}()
	default:
		go func() {
			log.Info().Msg("MCP server serving stdio")
			if err := runStdioFunc(ctx, server); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("MCP stdio session ended")
			}
			cancel()
		}()
	}

	select {
	case <-ctx.Done():
	case <-waitFor(quit):
	}
	log.Info().Msg("Shutting down MCP server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
			log.Error().Err(err).Msg("MCP HTTP server shutdown error")
		}
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("analysis core shutdown")
	}

	log.Info().Msg("MCP server exited")
}

func waitFor(quit <-chan os.Signal) <-chan struct{} {
	done := make(chan struct{})
	wait := waitForSignalFunc
	go func() {
		wait(quit)
		close(done)
	}()
	return done
}
