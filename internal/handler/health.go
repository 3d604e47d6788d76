package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health godoc
// @Summary      Health check
// @Description  Liveness probe. Reports whether the task manager still accepts work.
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}
