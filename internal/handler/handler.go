// Package handler is the HTTP entry layer: task submission, event streams
// and operational endpoints.
package handler

import (
	"context"
	"net/http"
	"time"

	"stockpulse/internal/analysis"
	"stockpulse/internal/cache"
	"stockpulse/internal/domain"
	"stockpulse/internal/events"
	"stockpulse/internal/repository"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ReportStore serves reports of tasks that are no longer retained in
// memory.
type ReportStore interface {
	GetReport(ctx context.Context, taskID string) (*domain.AnalysisReport, error)
	ListReports(ctx context.Context, code string, limit int) ([]repository.ReportSummary, error)
}

type Options struct {
	Cache     *cache.Cache
	Hub       *events.Hub
	Reports   ReportStore
	Metrics   http.Handler
	Heartbeat time.Duration
	Logger    zerolog.Logger
}

type Handler struct {
	tracer    trace.Tracer
	log       zerolog.Logger
	tasks     *analysis.Manager
	cache     *cache.Cache
	hub       *events.Hub
	reports   ReportStore
	metrics   http.Handler
	heartbeat time.Duration
	started   time.Time
}

func New(tracer trace.Tracer, tasks *analysis.Manager, opts Options) *Handler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	return &Handler{
		tracer:    tracer,
		log:       opts.Logger.With().Str("component", "http").Logger(),
		tasks:     tasks,
		cache:     opts.Cache,
		hub:       opts.Hub,
		reports:   opts.Reports,
		metrics:   opts.Metrics,
		heartbeat: opts.Heartbeat,
		started:   time.Now(),
	}
}

// RegisterRoutes mounts every route. apiKey guards /api when set.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := r.Group("/api", APIKeyAuth(apiKey))
	api.POST("/analyze", h.Analyze)
	api.POST("/analyze/batch", h.AnalyzeBatch)
	api.GET("/tasks", h.ListTasks)
	api.GET("/tasks/:id", h.GetTask)
	api.DELETE("/tasks/:id", h.CancelTask)
	api.GET("/stream", h.Stream)
	api.GET("/ws", h.WebSocket)
	api.GET("/validate/:code", h.Validate)
	api.GET("/reports", h.ListReports)
	api.GET("/reports/:id", h.GetReport)
	api.GET("/status", h.Status)
	api.GET("/system", h.System)
}
