package handler

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"stockpulse/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

// SystemInfo is the host resource snapshot served by /api/system.
type SystemInfo struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryTotal   uint64  `json:"memory_total"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines"`
	HeapAlloc     uint64  `json:"heap_alloc"`
	GoVersion     string  `json:"go_version"`
}

// Status godoc
// @Summary      Service status
// @Description  Task manager, cache and event hub counters.
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/status [get]
func (h *Handler) Status(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.status")
	defer span.End()

	body := gin.H{
		"tasks":  h.tasks.Stats(),
		"uptime": time.Since(h.started).Round(time.Second).String(),
	}
	if h.cache != nil {
		body["cache"] = h.cache.Stats()
	}
	if h.hub != nil {
		body["events"] = h.hub.Stats()
	}
	c.JSON(http.StatusOK, body)
}

// System godoc
// @Summary      Host resources
// @Description  CPU, memory and runtime figures for the serving process.
// @Tags         system
// @Produce      json
// @Success      200  {object}  SystemInfo
// @Failure      500  {object}  map[string]string
// @Router       /api/system [get]
func (h *Handler) System(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.system")
	defer span.End()

	info := SystemInfo{
		Goroutines: runtime.NumGoroutine(),
		GoVersion:  runtime.Version(),
	}
	if pct, err := cpuPercentFn(ctx, 100*time.Millisecond); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	} else if err != nil {
		h.log.Warn().Err(err).Msg("read cpu usage")
	}
	vm, err := memoryStatsFn(ctx)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	info.MemoryUsed = vm.Used
	info.MemoryTotal = vm.Total
	info.MemoryPercent = vm.UsedPercent

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	info.HeapAlloc = ms.HeapAlloc
	c.JSON(http.StatusOK, info)
}

var errReportsDisabled = errors.New("report storage is not configured")

// ListReports godoc
// @Summary      List stored reports
// @Description  Newest first. Filter by canonical code with ?code=.
// @Tags         reports
// @Produce      json
// @Param        code   query  string  false  "Canonical code"
// @Param        limit  query  int     false  "Maximum rows (default 50)"
// @Success      200  {array}   repository.ReportSummary
// @Failure      503  {object}  map[string]string
// @Router       /api/reports [get]
func (h *Handler) ListReports(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.list-reports")
	defer span.End()

	if h.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errReportsDisabled.Error()})
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	rows, err := h.reports.ListReports(ctx, c.Query("code"), limit)
	if err != nil {
		span.RecordError(err)
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// GetReport godoc
// @Summary      Get a stored report
// @Tags         reports
// @Produce      json
// @Param        id   path      string  true  "Task id"
// @Success      200  {object}  domain.AnalysisReport
// @Failure      404  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Router       /api/reports/{id} [get]
func (h *Handler) GetReport(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-report")
	defer span.End()

	if h.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errReportsDisabled.Error()})
		return
	}
	report, err := h.reports.GetReport(ctx, c.Param("id"))
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			span.RecordError(err)
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
