package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/reportq/internal/middleware"
	"github.com/osvaldoandrade/reportq/internal/services"

	"github.com/gin-gonic/gin"
)

const reportFormField = "report"

type submitReportController struct{ svc services.SubmissionService }

func NewSubmitReportController(svc services.SubmissionService) *submitReportController {
	return &submitReportController{svc}
}

type submitReportForm struct {
	SubjectKey string `form:"subjectKey" binding:"required"`
	Branch     string `form:"branch"`
	Name       string `form:"name"`
}

func (h *submitReportController) Handle(c *gin.Context) {
	var form submitReportForm
	if err := c.ShouldBind(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subjectKey is required"})
		return
	}
	fh, err := c.FormFile(reportFormField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing report file"})
		return
	}
	payload, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable report file"})
		return
	}

	task, err := h.svc.Submit(c.Request.Context(), services.SubmitRequest{
		SubjectKey: form.SubjectKey,
		Branch:     form.Branch,
		Name:       form.Name,
		Payload:    payload,
	}, middleware.SubmitterFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"taskId": task.ID, "subjectId": task.SubjectID})
}
