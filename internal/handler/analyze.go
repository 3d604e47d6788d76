package handler

import (
	"errors"
	"net/http"
	"strings"

	"stockpulse/internal/analysis"
	"stockpulse/internal/domain"
	"stockpulse/internal/normalizer"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

type AnalyzeRequest struct {
	Code      string `json:"code" binding:"required"`
	SessionID string `json:"session_id"`
	PriceDays int    `json:"price_days"`
	NewsDays  int    `json:"news_days"`
	SkipAI    bool   `json:"skip_ai"`
}

type AnalyzeResponse struct {
	TaskID     string            `json:"task_id"`
	SessionID  string            `json:"session_id"`
	Instrument domain.Instrument `json:"instrument"`
	State      domain.TaskState  `json:"state"`
}

type BatchRequest struct {
	Codes     []string `json:"codes" binding:"required"`
	SessionID string   `json:"session_id"`
	SkipAI    bool     `json:"skip_ai"`
}

// Analyze godoc
// @Summary      Start an analysis
// @Description  Normalizes the code and starts an analysis task. Progress is streamed on /api/stream.
// @Tags         analysis
// @Accept       json
// @Produce      json
// @Param        request  body  AnalyzeRequest  true  "Stock code and options"
// @Success      202  {object}  AnalyzeResponse
// @Failure      400  {object}  map[string]string
// @Failure      429  {object}  map[string]string
// @Router       /api/analyze [post]
func (h *Handler) Analyze(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.analyze")
	defer span.End()

	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	span.SetAttributes(attribute.String("code", req.Code))

	t, err := h.tasks.Submit(req.Code, analysis.Options{
		SessionID:         req.SessionID,
		PriceLookbackDays: req.PriceDays,
		NewsLookbackDays:  req.NewsDays,
		SkipAI:            req.SkipAI,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	info := t.Info()
	c.JSON(http.StatusAccepted, AnalyzeResponse{
		TaskID:     info.ID,
		SessionID:  info.SessionID,
		Instrument: info.Instrument,
		State:      info.State,
	})
}

// AnalyzeBatch godoc
// @Summary      Start analyses for several codes
// @Description  Starts one independent task per code. Invalid codes and capacity rejections are reported per code.
// @Tags         analysis
// @Accept       json
// @Produce      json
// @Param        request  body  BatchRequest  true  "Up to 10 stock codes"
// @Success      202  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/analyze/batch [post]
func (h *Handler) AnalyzeBatch(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.analyze-batch")
	defer span.End()

	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	span.SetAttributes(attribute.Int("codes", len(req.Codes)))

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	results, err := h.tasks.SubmitBatch(req.Codes, analysis.Options{SessionID: sessionID, SkipAI: req.SkipAI})
	if err != nil {
		writeError(c, err)
		return
	}

	accepted := 0
	for _, r := range results {
		if r.Error == "" {
			accepted++
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID, "accepted": accepted, "results": results})
}

// ListTasks godoc
// @Summary      List tasks
// @Description  Returns every retained task, oldest first. Reports are only included for finished tasks.
// @Tags         tasks
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/tasks [get]
func (h *Handler) ListTasks(c *gin.Context) {
	tasks := h.tasks.List()
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

// GetTask godoc
// @Summary      Get a task
// @Description  Returns the task snapshot, including the report once it is DONE. Evicted tasks are served from storage when available.
// @Tags         tasks
// @Produce      json
// @Param        id  path  string  true  "Task id"
// @Success      200  {object}  domain.TaskInfo
// @Failure      404  {object}  map[string]string
// @Router       /api/tasks/{id} [get]
func (h *Handler) GetTask(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-task")
	defer span.End()

	id := c.Param("id")
	span.SetAttributes(attribute.String("task_id", id))

	info, err := h.tasks.Snapshot(id)
	if err == nil {
		c.JSON(http.StatusOK, info)
		return
	}
	if errors.Is(err, domain.ErrNotFound) && h.reports != nil {
		if report, rerr := h.reports.GetReport(ctx, id); rerr == nil {
			c.JSON(http.StatusOK, domain.TaskInfo{
				ID:         report.TaskID,
				Instrument: report.Instrument,
				State:      domain.TaskDone,
				CreatedAt:  report.CreatedAt,
				FinishedAt: &report.CompletedAt,
				Report:     report,
			})
			return
		}
	}
	writeError(c, err)
}

// CancelTask godoc
// @Summary      Cancel a task
// @Description  Cancels an active task. Finished tasks are left unchanged.
// @Tags         tasks
// @Produce      json
// @Param        id  path  string  true  "Task id"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/tasks/{id} [delete]
func (h *Handler) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if err := h.tasks.Cancel(id); err != nil {
		writeError(c, err)
		return
	}
	state, err := h.tasks.Status(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "state": state})
}

// Validate godoc
// @Summary      Validate a stock code
// @Description  Normalizes the code without starting a task
// @Tags         analysis
// @Produce      json
// @Param        code  path  string  true  "Stock code, e.g. 600519, 00700, AAPL"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/validate/{code} [get]
func (h *Handler) Validate(c *gin.Context) {
	inst, err := normalizer.Normalize(strings.TrimSpace(c.Param("code")))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"valid": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":       true,
		"instrument":  inst,
		"market_info": normalizer.Info(inst.Market),
	})
}
