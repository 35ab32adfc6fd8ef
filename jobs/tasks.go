package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/costume-atelier/atelier-api/models"
	"github.com/costume-atelier/atelier-api/services"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending customer emails.
	TaskTypeSendEmail = "email:send"
	// EmailMaxRetry is how many times asynq retries a failed delivery.
	EmailMaxRetry = 8
)

// EmailTaskID is the asynq task id for an outbox row, so a row is queued at most once.
func EmailTaskID(notificationID uint) string {
	return fmt.Sprintf("notification:%d", notificationID)
}

// NewSendEmailTask constructs an asynq task for one outbox email.
func NewSendEmailTask(msg services.EmailMessage) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	opts := []asynq.Option{asynq.MaxRetry(EmailMaxRetry), asynq.Queue(QueueDefault)}
	if msg.NotificationID != 0 {
		opts = append(opts, asynq.TaskID(EmailTaskID(msg.NotificationID)))
	}
	return asynq.NewTask(TaskTypeSendEmail, data, opts...), nil
}

// EmailHandler delivers TaskTypeSendEmail tasks and records the outcome on the outbox row.
type EmailHandler struct {
	mailer  services.Mailer
	db      *gorm.DB
	metrics *Metrics
	now     func() time.Time
	retries func(context.Context) (retried, maxRetry int, ok bool)
}

// NewEmailHandler constructs an EmailHandler. db may be nil when outbox rows should not be updated.
func NewEmailHandler(mailer services.Mailer, db *gorm.DB, metrics *Metrics) *EmailHandler {
	return &EmailHandler{mailer: mailer, db: db, metrics: metrics, now: time.Now, retries: taskRetries}
}

func taskRetries(ctx context.Context) (int, int, bool) {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return 0, 0, false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return retried, maxRetry, ok
}

// Handle processes a TaskTypeSendEmail task.
func (h *EmailHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var msg services.EmailMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("decode email payload: %v: %w", err, asynq.SkipRetry)
	}

	tracker := h.metrics.Track(TaskTypeSendEmail)
	if err := h.mailer.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		slog.Warn("email delivery failed", "notification_id", msg.NotificationID, "to", msg.To, "error", err)
		if retried, maxRetry, ok := h.retries(ctx); ok && retried >= maxRetry {
			h.markFailed(ctx, msg.NotificationID, err)
		}
		return tracker.End(err)
	}

	if h.db != nil && msg.NotificationID != 0 {
		now := h.now()
		err := h.db.WithContext(ctx).Model(&models.Notification{}).
			Where("id = ?", msg.NotificationID).
			Updates(map[string]interface{}{"status": models.NotificationSent, "sent_at": &now}).Error
		if err != nil {
			slog.Warn("failed to mark notification sent", "notification_id", msg.NotificationID, "error", err)
		}
	}

	slog.Info("email sent", "notification_id", msg.NotificationID, "to", msg.To)
	return tracker.End(nil)
}

// markFailed records a delivery that exhausted its retries on the outbox row.
func (h *EmailHandler) markFailed(ctx context.Context, notificationID uint, cause error) {
	if h.db == nil || notificationID == 0 {
		return
	}
	lastError := cause.Error()
	err := h.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", notificationID).
		Updates(map[string]interface{}{"status": models.NotificationFailed, "last_error": &lastError}).Error
	if err != nil {
		slog.Warn("failed to mark notification failed", "notification_id", notificationID, "error", err)
		return
	}
	slog.Error("email delivery gave up", "notification_id", notificationID, "error", cause)
}
