package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/phd-adp-api/pkg/config"
	"github.com/noah-isme/phd-adp-api/pkg/jobs"
)

// QueueNotifier delivers transition events through a background worker
// queue. Enqueue and delivery failures are logged and dropped: notification
// is best-effort and must never fail or delay a transition.
type QueueNotifier struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewQueueNotifier builds the notifier and its delivery queue. When a
// webhook URL is configured events are POSTed there as JSON; otherwise they
// are only logged, which keeps the trigger contract observable in
// development.
func NewQueueNotifier(cfg config.NotificationsConfig, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &QueueNotifier{logger: logger}

	client := &http.Client{Timeout: 10 * time.Second}
	handler := func(ctx context.Context, job jobs.Job) error {
		event, ok := job.Payload.(TransitionEvent)
		if !ok {
			return fmt.Errorf("unexpected notification payload type %T", job.Payload)
		}
		return n.deliver(ctx, client, cfg.WebhookURL, event)
	}

	n.queue = jobs.NewQueue("notifications", handler, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})
	return n
}

// Start launches the delivery workers.
func (n *QueueNotifier) Start(ctx context.Context) {
	n.queue.Start(ctx)
}

// Stop drains the workers.
func (n *QueueNotifier) Stop() {
	n.queue.Stop()
}

// Notify implements Notifier.
func (n *QueueNotifier) Notify(event TransitionEvent) {
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    "transition",
		Payload: event,
	}
	if err := n.queue.Enqueue(job); err != nil {
		n.logger.Warn("dropping transition notification",
			zap.String("subject_id", event.SubjectID),
			zap.Error(err))
	}
}

func (n *QueueNotifier) deliver(ctx context.Context, client *http.Client, webhookURL string, event TransitionEvent) error {
	if webhookURL == "" {
		n.logger.Info("transition notification",
			zap.String("subject_id", event.SubjectID),
			zap.String("subject_type", string(event.SubjectType)),
			zap.String("from_status", string(event.FromStatus)),
			zap.String("to_status", string(event.ToStatus)))
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}
