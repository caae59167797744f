package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/reportq/internal/services"

	"github.com/gin-gonic/gin"
)

type getTaskController struct{ svc services.TaskService }

func NewGetTaskController(svc services.TaskService) *getTaskController {
	return &getTaskController{svc}
}

func (h *getTaskController) Handle(c *gin.Context) {
	view, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
