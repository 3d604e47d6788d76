package handler

import (
	"errors"
	"net/http"

	"stockpulse/internal/analysis"
	"stockpulse/internal/domain"

	"github.com/gin-gonic/gin"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidIdentifier), errors.Is(err, analysis.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAtCapacity):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}
