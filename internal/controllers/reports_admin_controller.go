package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/reportq/pkg/reportstore"

	"github.com/gin-gonic/gin"
)

// reportsAdminController exposes the staging area for operators.
type reportsAdminController struct{ store reportstore.Store }

func NewReportsAdminController(store reportstore.Store) *reportsAdminController {
	return &reportsAdminController{store}
}

func (h *reportsAdminController) List(c *gin.Context) {
	ids, err := h.store.ListIDs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ids": ids, "count": len(ids)})
}

func (h *reportsAdminController) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := reportstore.ValidateID(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *reportsAdminController) DeleteAll(c *gin.Context) {
	if err := h.store.DeleteAll(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
