package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/reportq/internal/services"

	"github.com/gin-gonic/gin"
)

type queuesAdminController struct{ svc services.TaskService }

func NewQueuesAdminController(svc services.TaskService) *queuesAdminController {
	return &queuesAdminController{svc}
}

func (h *queuesAdminController) Handle(c *gin.Context) {
	out, err := h.svc.AdminQueues(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type queueStatsController struct{ svc services.TaskService }

func NewQueueStatsController(svc services.TaskService) *queueStatsController {
	return &queueStatsController{svc}
}

func (h *queueStatsController) Handle(c *gin.Context) {
	stats, err := h.svc.QueueStats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"queues": stats})
}
