package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/phd-adp-api/internal/models"
	"github.com/noah-isme/phd-adp-api/internal/repository"
)

type overdueLister interface {
	ListOverdue(ctx context.Context, t models.SubjectType, statuses []models.Status, before time.Time) ([]models.Subject, error)
	ApplyTransition(ctx context.Context, expected models.Status, stage repository.StageUpdates, record *models.TransitionRecord) error
}

// ExpiryService retires derogations whose deadline has passed while they are
// still awaiting a decision. EXPIRED is a terminal status reached only by
// this time-based trigger, never by a role action, so the sweep writes
// through the same compare-and-swap path with a SYSTEM transition record.
type ExpiryService struct {
	subjects overdueLister
	notifier Notifier
	logger   *zap.Logger
	cron     *cron.Cron
	interval time.Duration
}

// NewExpiryService constructs the sweeper.
func NewExpiryService(subjects overdueLister, notifier Notifier, interval time.Duration, logger *zap.Logger) *ExpiryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &ExpiryService{
		subjects: subjects,
		notifier: notifier,
		logger:   logger,
		interval: interval,
	}
}

// Start schedules the periodic sweep.
func (s *ExpiryService) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		if swept, err := s.Sweep(ctx); err != nil {
			s.logger.Error("derogation expiry sweep failed", zap.Error(err))
		} else if swept > 0 {
			s.logger.Info("derogations expired", zap.Int("count", swept))
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *ExpiryService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Sweep expires every overdue derogation still pending a decision. A CAS
// loss means a reviewer decided concurrently; the subject is skipped, not
// retried.
func (s *ExpiryService) Sweep(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	pending := []models.Status{models.StatusPendingDirector, models.StatusPendingAdmin}
	overdue, err := s.subjects.ListOverdue(ctx, models.SubjectDerogation, pending, now)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range overdue {
		subject := &overdue[i]
		record := &models.TransitionRecord{
			SubjectID:  subject.ID,
			FromStatus: subject.Status,
			ToStatus:   models.StatusExpired,
			Action:     models.ActionExpire,
			ActingRole: models.WorkflowRoleSystem,
			OccurredAt: now,
		}
		if err := s.subjects.ApplyTransition(ctx, subject.Status, repository.StageUpdates{}, record); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return swept, err
		}
		swept++
		if s.notifier != nil {
			s.notifier.Notify(TransitionEvent{
				SubjectID:   subject.ID,
				SubjectType: subject.Type,
				FromStatus:  record.FromStatus,
				ToStatus:    record.ToStatus,
				Action:      record.Action,
				OwnerID:     subject.OwnerID,
			})
		}
	}
	return swept, nil
}
