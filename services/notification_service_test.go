package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/costume-atelier/atelier-api/models"
	"github.com/costume-atelier/atelier-api/testutil"
	"github.com/costume-atelier/atelier-api/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEnqueuer struct {
	mu   sync.Mutex
	sent []EmailMessage
	err  error
}

func (f *fakeEnqueuer) EnqueueEmail(ctx context.Context, msg EmailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestRenderEmail(t *testing.T) {
	subject, body, err := RenderEmail(NotifyQuote, EmailData{
		Name:        "Ada",
		OrderNumber: "CUS-ABCDEF12",
		Amount:      "NGN 51062.50",
		Final:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Final price for order CUS-ABCDEF12", subject)
	assert.Contains(t, body, "Hi Ada")
	assert.Contains(t, body, "NGN 51062.50")

	_, _, err = RenderEmail("welcome_back", EmailData{})
	assert.Error(t, err)
}

func TestEveryTransitionTemplateRenders(t *testing.T) {
	for _, name := range []string{
		workflow.NotifyApproved,
		workflow.NotifyDeclined,
		workflow.NotifyCancelled,
		workflow.NotifyDispatched,
		workflow.NotifyCompleted,
		NotifyReceived,
		NotifyReceipt,
	} {
		subject, body, err := RenderEmail(name, EmailData{Name: "Ada", OrderNumber: "CUS-1"})
		require.NoError(t, err, name)
		assert.Contains(t, subject, "CUS-1", name)
		assert.NotEmpty(t, body, name)
	}
}

func TestOutboxRelay_DrainOnce(t *testing.T) {
	db := testutil.NewTestDB(t)
	order := &models.Order{OrderNumber: "CUS-00000001", FullName: "Ada", Email: "ada@example.com"}
	require.NoError(t, EnqueueOrderEmail(db, workflow.NotifyApproved, order, EmailData{}))
	require.NoError(t, EnqueueOrderEmail(db, workflow.NotifyDispatched, order, EmailData{}))

	enqueuer := &fakeEnqueuer{}
	relay := NewOutboxRelay(db, enqueuer)

	queued, err := relay.DrainOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)
	require.Len(t, enqueuer.sent, 2)
	assert.Equal(t, "ada@example.com", enqueuer.sent[0].To)
	assert.Equal(t, "Order CUS-00000001 approved", enqueuer.sent[0].Subject)

	var rows []models.Notification
	require.NoError(t, db.Order("id").Find(&rows).Error)
	for _, row := range rows {
		assert.Equal(t, models.NotificationQueued, row.Status)
		assert.Equal(t, 1, row.Attempts)
		assert.NotNil(t, row.QueuedAt)
	}

	queued, err = relay.DrainOnce(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, queued)
}

func TestOutboxRelay_FailsAfterMaxAttempts(t *testing.T) {
	db := testutil.NewTestDB(t)
	_, err := Enqueue(db, NotifyReceived, "ada@example.com", nil, EmailData{OrderNumber: "CUS-1"})
	require.NoError(t, err)

	relay := NewOutboxRelay(db, &fakeEnqueuer{err: errors.New("redis down")})
	for i := 0; i < MaxEnqueueAttempts; i++ {
		queued, err := relay.DrainOnce(context.Background(), 10)
		require.NoError(t, err)
		assert.Zero(t, queued)
	}

	var row models.Notification
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, models.NotificationFailed, row.Status)
	assert.Equal(t, MaxEnqueueAttempts, row.Attempts)
	require.NotNil(t, row.LastError)
	assert.Equal(t, "redis down", *row.LastError)
}

func TestOutboxRelay_RunStopsOnCancel(t *testing.T) {
	db := testutil.NewTestDB(t)
	relay := NewOutboxRelay(db, &fakeEnqueuer{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		relay.Run(ctx, 10, 5)
		close(done)
	}()
	<-done
}
