package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/reportq/internal/services"
	"github.com/osvaldoandrade/reportq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type stepsController struct{ svc services.StepCatalog }

func NewStepsController(svc services.StepCatalog) *stepsController {
	return &stepsController{svc}
}

type stepsResponse struct {
	Kind     domain.Kind         `json:"kind"`
	Steps    []services.StepInfo `json:"steps"`
	Verified bool                `json:"verified"`
	Errors   []string            `json:"errors,omitempty"`
}

// Handle lists the steps of a kind and resolves them all against a scratch container.
func (h *stepsController) Handle(c *gin.Context) {
	kind := domain.Kind(strings.ToUpper(c.Param("kind")))
	if !kind.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task kind"})
		return
	}
	steps, err := h.svc.Steps(kind)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := stepsResponse{Kind: kind, Steps: steps, Verified: true}
	if err := h.svc.Verify(kind); err != nil {
		resp.Verified = false
		resp.Errors = splitJoined(err)
	}
	c.JSON(http.StatusOK, resp)
}

func splitJoined(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
