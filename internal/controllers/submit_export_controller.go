package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/reportq/internal/middleware"
	"github.com/osvaldoandrade/reportq/internal/services"

	"github.com/gin-gonic/gin"
)

type submitExportController struct{ svc services.SubmissionService }

func NewSubmitExportController(svc services.SubmissionService) *submitExportController {
	return &submitExportController{svc}
}

type exportReq struct {
	SubjectKey string `json:"subjectKey" binding:"required"`
	Branch     string `json:"branch"`
}

func (h *submitExportController) Handle(c *gin.Context) {
	var req exportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	task, err := h.svc.SubmitExport(c.Request.Context(), req.SubjectKey, req.Branch, middleware.SubmitterFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": task.ID, "subjectId": task.SubjectID})
}
