package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/costume-atelier/atelier-api/models"
	"gorm.io/gorm"
)

// MaxEnqueueAttempts is how many relay attempts a notification gets before it is marked failed
const MaxEnqueueAttempts = 5

// EmailMessage is what the relay hands to the delivery queue
type EmailMessage struct {
	NotificationID uint   `json:"notificationId"`
	To             string `json:"to"`
	Subject        string `json:"subject"`
	Body           string `json:"body"`
}

// EmailEnqueuer puts an email on the delivery queue
type EmailEnqueuer interface {
	EnqueueEmail(ctx context.Context, msg EmailMessage) error
}

// OutboxRelay moves pending notifications onto the delivery queue
type OutboxRelay struct {
	db       *gorm.DB
	enqueuer EmailEnqueuer
	now      func() time.Time
}

// NewOutboxRelay creates a relay reading from db and writing to enqueuer
func NewOutboxRelay(db *gorm.DB, enqueuer EmailEnqueuer) *OutboxRelay {
	return &OutboxRelay{db: db, enqueuer: enqueuer, now: time.Now}
}

// DrainOnce relays up to limit pending notifications and returns how many were queued
func (r *OutboxRelay) DrainOnce(ctx context.Context, limit int) (int, error) {
	var pending []models.Notification
	if err := r.db.WithContext(ctx).
		Where("status = ?", models.NotificationPending).
		Order("id ASC").
		Limit(limit).
		Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("load pending notifications: %w", err)
	}

	queued := 0
	for i := range pending {
		n := &pending[i]
		err := r.enqueuer.EnqueueEmail(ctx, EmailMessage{
			NotificationID: n.ID,
			To:             n.Recipient,
			Subject:        n.Subject,
			Body:           n.Body,
		})

		updates := map[string]interface{}{"attempts": n.Attempts + 1}
		if err != nil {
			msg := err.Error()
			updates["last_error"] = msg
			if n.Attempts+1 >= MaxEnqueueAttempts {
				updates["status"] = models.NotificationFailed
			}
			slog.Warn("failed to enqueue notification",
				"notification_id", n.ID,
				"template", n.Template,
				"attempt", n.Attempts+1,
				"error", err)
		} else {
			now := r.now()
			updates["status"] = models.NotificationQueued
			updates["queued_at"] = &now
			queued++
		}

		if err := r.db.WithContext(ctx).Model(&models.Notification{}).
			Where("id = ?", n.ID).
			Updates(updates).Error; err != nil {
			return queued, fmt.Errorf("update notification %d: %w", n.ID, err)
		}
	}

	return queued, nil
}

// Run drains the outbox every interval until ctx is cancelled
func (r *OutboxRelay) Run(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if n, err := r.DrainOnce(ctx, batch); err != nil {
			slog.Error("outbox drain failed", "error", err)
		} else if n > 0 {
			slog.Info("outbox drained", "queued", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
