package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockpulse/internal/app"
	"stockpulse/internal/bot"
	"stockpulse/internal/config"
	"stockpulse/internal/handler"
	"stockpulse/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "stockpulse/docs"
)

const serviceName = "stockpulse"

var (
	loadEnvFunc            = godotenv.Load
	loadConfigFunc         = config.Load
	newAppFunc             = app.New
	startAppFunc           = func(a *app.App, ctx context.Context) { a.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newHandlerFunc         = handler.New
	newRouterFunc          = gin.New
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           StockPulse API
// @version         1.0
// @description     Stock analysis service for A-share, Hong Kong and US equities with streamed progress.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key
func main() {
	_ = loadEnvFunc()

	cfg := loadConfigFunc()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, File: cfg.LogFile})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newAppFunc(ctx, cfg, log, serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build analysis core")
	}
	startAppFunc(a, ctx)

	if err := startTelegramBotFunc(ctx, cfg.TelegramBotToken, a.Tasks, log); err != nil {
		log.Error().Err(err).Msg("Telegram bot disabled")
	}

	opts := handler.Options{
		Cache:     a.Cache,
		Hub:       a.Hub,
		Metrics:   a.Metrics.Handler(),
		Heartbeat: cfg.SSEHeartbeat,
		Logger:    log,
	}
	if a.Reports != nil {
		opts.Reports = a.Reports
	}
	h := newHandlerFunc(a.Tracer, a.Tasks, opts)

	r := newRouterFunc()
	r.Use(gin.Recovery(), handler.RequestLogger(log), handler.CORS(cfg.CORSOrigins))
	r.Use(otelgin.Middleware(serviceName))

	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Request contexts derive from ctx so open event streams end on shutdown.
	srv := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     r,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Info().Msg("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("analysis core shutdown")
	}

	log.Info().Msg("Server exiting")
}
