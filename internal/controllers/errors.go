package controllers

import (
	"errors"
	"net/http"

	"github.com/osvaldoandrade/reportq/internal/middleware"
	"github.com/osvaldoandrade/reportq/internal/repository"
	"github.com/osvaldoandrade/reportq/internal/services"

	"github.com/gin-gonic/gin"
)

// statusFor maps service errors onto HTTP status codes. Staging failures end up as 500.
func statusFor(err error) int {
	var creation *services.SubjectCreationError
	switch {
	case errors.As(err, &creation):
		return http.StatusInternalServerError
	case errors.Is(err, services.ErrInvalidSubjectKey):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, repository.ErrTaskNotFound), errors.Is(err, repository.ErrSubjectNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error("request failed", "err", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
