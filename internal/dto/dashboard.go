package dto

import (
	"time"

	"github.com/noah-isme/phd-adp-api/internal/models"
)

// WorkflowDashboardResponse summarises pending work per subject type.
type WorkflowDashboardResponse struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Totals      map[string]int       `json:"totals"`
	Counts      []models.StatusCount `json:"counts"`
}
