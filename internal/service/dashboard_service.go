package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/phd-adp-api/internal/dto"
	"github.com/noah-isme/phd-adp-api/internal/models"
	appErrors "github.com/noah-isme/phd-adp-api/pkg/errors"
)

type statusCounter interface {
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
}

type dashboardCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

const dashboardCacheKey = "dash:workflow"

// DashboardService summarises pending workflow load for the administration
// screens. Counts are redis-cached; a cold or unreachable cache falls back
// to the database.
type DashboardService struct {
	subjects statusCounter
	cache    dashboardCache
	ttl      time.Duration
	logger   *zap.Logger
}

// NewDashboardService constructs the service. Cache may be nil.
func NewDashboardService(subjects statusCounter, cache dashboardCache, ttl time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DashboardService{subjects: subjects, cache: cache, ttl: ttl, logger: logger}
}

// Workflow returns per-type/status counts, indicating cache utilisation.
func (s *DashboardService) Workflow(ctx context.Context) (*dto.WorkflowDashboardResponse, bool, error) {
	if s.cache != nil {
		var cached dto.WorkflowDashboardResponse
		err := s.cache.Get(ctx, dashboardCacheKey, &cached)
		if err == nil {
			return &cached, true, nil
		}
		if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("dashboard cache read failed", zap.Error(err))
		}
	}

	counts, err := s.subjects.CountByStatus(ctx)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to aggregate workflow counts")
	}

	totals := make(map[string]int)
	for _, c := range counts {
		totals[string(c.Type)] += c.Count
	}
	summary := &dto.WorkflowDashboardResponse{
		GeneratedAt: time.Now().UTC(),
		Totals:      totals,
		Counts:      counts,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, dashboardCacheKey, summary, s.ttl); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.Error(err))
		}
	}
	return summary, false, nil
}
