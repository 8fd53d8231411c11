package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/phd-adp-api/internal/dto"
	"github.com/noah-isme/phd-adp-api/internal/middleware"
	appErrors "github.com/noah-isme/phd-adp-api/pkg/errors"
	"github.com/noah-isme/phd-adp-api/pkg/response"
)

type dashboardService interface {
	Workflow(ctx context.Context) (*dto.WorkflowDashboardResponse, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Workflow godoc
// @Summary Workflow load summary
// @Description Per-type and per-status counts of open dossiers
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/workflow [get]
func (h *DashboardHandler) Workflow(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	start := time.Now()
	summary, cacheHit, err := h.service.Workflow(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	response.JSON(c, http.StatusOK, summary, nil, meta)
}
