package controllers

import (
	"net/http"
	"time"

	"github.com/osvaldoandrade/reportq/internal/services"

	"github.com/gin-gonic/gin"
)

type cleanupController struct{ svc services.RetentionService }

func NewCleanupController(svc services.RetentionService) *cleanupController {
	return &cleanupController{svc}
}

type cleanupReq struct {
	Limit  int    `json:"limit,omitempty"`  // default: 1000
	Before string `json:"before,omitempty"` // RFC3339; default: now minus retention
}

func (h *cleanupController) Handle(c *gin.Context) {
	var req cleanupReq
	_ = c.ShouldBindJSON(&req) // every field is optional

	var before time.Time
	if req.Before != "" {
		t, err := time.Parse(time.RFC3339, req.Before)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'before' (use RFC3339)"})
			return
		}
		before = t
	}
	if req.Limit <= 0 {
		req.Limit = 1000
	}

	res, err := h.svc.Cleanup(c.Request.Context(), req.Limit, before)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
