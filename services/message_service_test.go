package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/costume-atelier/atelier-api/models"
	"github.com/costume-atelier/atelier-api/testutil"
	"github.com/costume-atelier/atelier-api/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type messageFixture struct {
	db       *gorm.DB
	orders   *OrderService
	messages *MessageService
	order    *models.Order
}

func newMessageFixture(t *testing.T) *messageFixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	orders := NewOrderService(db, NewMockImageService(), 0.075)
	order, err := orders.CreateCustomOrder(context.Background(), customInput(), nil)
	require.NoError(t, err)

	return &messageFixture{
		db:       db,
		orders:   orders,
		messages: NewMessageService(db, orders, nil, 0.075),
		order:    order,
	}
}

func (f *messageFixture) reload(t *testing.T) *models.Order {
	t.Helper()
	order, err := f.orders.Get(context.Background(), f.order.ID.String())
	require.NoError(t, err)
	return order
}

func adminQuote(orderID string, price float64) MessageInput {
	return MessageInput{
		OrderID:     orderID,
		SenderEmail: "studio@example.com",
		SenderName:  "Studio",
		SenderType:  models.SenderAdmin,
		Content:     "Here is our quote",
		MessageType: models.MessageQuote,
		QuotedPrice: &price,
	}
}

func customerMessage(orderID, content string) MessageInput {
	return MessageInput{
		OrderID:     orderID,
		SenderEmail: "ada@example.com",
		SenderName:  "Ada Obi",
		SenderType:  models.SenderCustomer,
		Content:     content,
	}
}

func strPtr(s string) *string { return &s }

func TestCreateMessage_AdminQuoteStoresTotalOnOrder(t *testing.T) {
	f := newMessageFixture(t)

	msg, replay, err := f.messages.Create(context.Background(), adminQuote(f.order.ID.String(), 10000), "")
	require.NoError(t, err)
	assert.False(t, replay)

	require.NotNil(t, msg.QuotedTotal)
	assert.Equal(t, 10000.0, *msg.QuotedPrice)
	assert.Equal(t, 5.0, *msg.DiscountPercentage)
	assert.Equal(t, 2500.0, *msg.DiscountAmount)
	assert.Equal(t, 3562.5, *msg.QuotedVAT)
	assert.Equal(t, 51062.5, *msg.QuotedTotal)

	order := f.reload(t)
	require.NotNil(t, order.QuotedPrice)
	assert.Equal(t, 51062.5, *order.QuotedPrice)
	assert.NotEqual(t, 10000.0, *order.QuotedPrice)
	require.NotNil(t, order.UnitPrice)
	assert.Equal(t, 10000.0, *order.UnitPrice)
	assert.Equal(t, 51062.5, order.Total)
	assert.False(t, order.PriceFinal)
	assert.Equal(t, 2, order.Version)

	assert.Len(t, pendingNotifications(t, f.db, NotifyQuote), 1)
}

func TestCreateMessage_QuoteSetsProposedDeliveryDate(t *testing.T) {
	f := newMessageFixture(t)

	due := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	in := adminQuote(f.order.ID.String(), 2000)
	in.QuotedDeliveryDate = &due
	_, _, err := f.messages.Create(context.Background(), in, "")
	require.NoError(t, err)

	order := f.reload(t)
	require.NotNil(t, order.ProposedDeliveryDate)
	assert.True(t, due.Equal(*order.ProposedDeliveryDate))
}

func TestCreateMessage_DeliveryOptionOnlyFromCustomer(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	admin := MessageInput{
		OrderID:        f.order.ID.String(),
		SenderEmail:    "studio@example.com",
		SenderName:     "Studio",
		SenderType:     models.SenderAdmin,
		Content:        "We can deliver",
		DeliveryOption: strPtr(models.DeliveryDelivery),
	}
	_, _, err := f.messages.Create(ctx, admin, "")
	require.NoError(t, err)
	assert.Nil(t, f.reload(t).DeliveryOption)

	customer := customerMessage(f.order.ID.String(), "I'll pick it up")
	customer.DeliveryOption = strPtr(models.DeliveryPickup)
	_, _, err = f.messages.Create(ctx, customer, "")
	require.NoError(t, err)

	order := f.reload(t)
	require.NotNil(t, order.DeliveryOption)
	assert.Equal(t, models.DeliveryPickup, *order.DeliveryOption)
}

func TestCreateMessage_ByOrderNumber(t *testing.T) {
	f := newMessageFixture(t)

	in := customerMessage("", "hello")
	in.OrderNumber = f.order.OrderNumber
	msg, _, err := f.messages.Create(context.Background(), in, "")
	require.NoError(t, err)
	assert.Equal(t, f.order.ID, msg.OrderID)
	assert.Equal(t, f.order.OrderNumber, msg.OrderNumber)
	assert.Equal(t, models.MessageText, msg.MessageType)
}

func TestCreateMessage_Validation(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	id := f.order.ID.String()

	tests := []struct {
		name string
		in   MessageInput
		err  error
	}{
		{"missing content", customerMessage(id, "  "), ErrValidation},
		{"missing order", customerMessage("", "hi"), ErrNoMessageSelector},
		{"malformed order id", customerMessage("abc", "hi"), ErrInvalidOrderID},
		{"customer quote", func() MessageInput {
			in := adminQuote(id, 100)
			in.SenderType = models.SenderCustomer
			return in
		}(), ErrValidation},
		{"quote without price", func() MessageInput {
			in := adminQuote(id, 100)
			in.QuotedPrice = nil
			return in
		}(), ErrValidation},
		{"bad sender type", func() MessageInput {
			in := customerMessage(id, "hi")
			in.SenderType = "robot"
			return in
		}(), ErrValidation},
		{"review without rating", func() MessageInput {
			in := customerMessage(id, "great")
			in.MessageType = models.MessageReview
			return in
		}(), ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.messages.Create(ctx, tt.in, "")
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestCreateMessage_FinalPriceBlocksNegotiation(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	id := f.order.ID.String()

	final := adminQuote(id, 8000)
	final.IsFinalPrice = true
	_, _, err := f.messages.Create(ctx, final, "")
	require.NoError(t, err)
	assert.True(t, f.reload(t).PriceFinal)

	counter := customerMessage(id, "Can you do 7000?")
	counter.MessageType = models.MessageNegotiation
	_, _, err = f.messages.Create(ctx, counter, "")
	assert.ErrorIs(t, err, ErrPriceFinalized)

	_, _, err = f.messages.Create(ctx, adminQuote(id, 7500), "")
	assert.ErrorIs(t, err, ErrPriceFinalized)

	qty := 10
	update := customerMessage(id, "")
	update.MessageType = models.MessageQuantityUpdate
	update.Quantity = &qty
	_, _, err = f.messages.Create(ctx, update, "")
	assert.ErrorIs(t, err, ErrPriceFinalized)

	_, _, err = f.messages.Create(ctx, customerMessage(id, "Thanks, paying now"), "")
	assert.NoError(t, err)
}

func TestCreateMessage_CustomerCannotFinalize(t *testing.T) {
	f := newMessageFixture(t)

	in := customerMessage(f.order.ID.String(), "deal")
	in.IsFinalPrice = true
	msg, _, err := f.messages.Create(context.Background(), in, "")
	require.NoError(t, err)
	assert.False(t, msg.IsFinalPrice)
	assert.False(t, f.reload(t).PriceFinal)
}

func TestCreateMessage_QuantityUpdateReprices(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	id := f.order.ID.String()

	_, _, err := f.messages.Create(ctx, adminQuote(id, 1000), "")
	require.NoError(t, err)

	qty := 10
	update := customerMessage(id, "")
	update.MessageType = models.MessageQuantityUpdate
	update.Quantity = &qty
	_, _, err = f.messages.Create(ctx, update, "")
	require.NoError(t, err)

	order := f.reload(t)
	assert.Equal(t, 10, order.Quantity)
	assert.Equal(t, 10000.0, order.Subtotal)
	assert.Equal(t, 10.0, order.DiscountPercentage)
	assert.Equal(t, 9675.0, order.Total)
	assert.Equal(t, 9675.0, *order.QuotedPrice)
}

func TestCreateMessage_QuantityUpdateWithOfferKeepsQuotedUnitPrice(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	id := f.order.ID.String()

	_, _, err := f.messages.Create(ctx, adminQuote(id, 10000), "")
	require.NoError(t, err)

	qty := 10
	offer := 9000.0
	update := customerMessage(id, "ten please, at 9000 each?")
	update.MessageType = models.MessageQuantityUpdate
	update.Quantity = &qty
	update.QuotedPrice = &offer
	msg, _, err := f.messages.Create(ctx, update, "")
	require.NoError(t, err)
	require.NotNil(t, msg.QuotedPrice)
	assert.Equal(t, 9000.0, *msg.QuotedPrice)

	order := f.reload(t)
	assert.Equal(t, 10, order.Quantity)
	require.NotNil(t, order.UnitPrice)
	assert.Equal(t, 10000.0, *order.UnitPrice)
	assert.Equal(t, 100000.0, order.Subtotal)
	assert.Equal(t, 10.0, order.DiscountPercentage)
	assert.Equal(t, 90000.0, order.SubtotalAfterDiscount)
	assert.Equal(t, 6750.0, order.VAT)
	assert.Equal(t, 96750.0, order.Total)
	assert.Equal(t, 96750.0, *order.QuotedPrice)
}

func TestCreateMessage_RollsBackOnFailure(t *testing.T) {
	f := newMessageFixture(t)
	require.NoError(t, f.db.Migrator().DropTable(&models.Notification{}))

	_, _, err := f.messages.Create(context.Background(), adminQuote(f.order.ID.String(), 10000), "")
	require.Error(t, err)

	var count int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count)

	order := f.reload(t)
	assert.Nil(t, order.QuotedPrice)
	assert.Equal(t, 1, order.Version)
}

func TestCreateMessage_DeletedOrder(t *testing.T) {
	f := newMessageFixture(t)
	require.NoError(t, f.orders.Delete(context.Background(), f.order.ID.String()))

	_, _, err := f.messages.Create(context.Background(), customerMessage(f.order.ID.String(), "hi"), "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCreateMessage_IdempotencyKey(t *testing.T) {
	f := newMessageFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.messages = NewMessageService(f.db, f.orders, NewRedisIdempotencyStore(client, IdempotencyTTL), 0.075)

	ctx := context.Background()
	in := adminQuote(f.order.ID.String(), 10000)

	first, replay, err := f.messages.Create(ctx, in, "key-1")
	require.NoError(t, err)
	assert.False(t, replay)

	second, replay, err := f.messages.Create(ctx, in, "key-1")
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, f.db.Model(&models.Message{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Len(t, pendingNotifications(t, f.db, NotifyQuote), 1)
	assert.Equal(t, 2, f.reload(t).Version)

	third, replay, err := f.messages.Create(ctx, in, "key-2")
	require.NoError(t, err)
	assert.False(t, replay)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestCreateMessage_IdempotencyKeyReleasedOnFailure(t *testing.T) {
	f := newMessageFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f.messages = NewMessageService(f.db, f.orders, NewRedisIdempotencyStore(client, IdempotencyTTL), 0.075)

	_, _, err := f.messages.Create(context.Background(), customerMessage(f.order.ID.String(), ""), "retry-me")
	require.ErrorIs(t, err, ErrValidation)
	assert.False(t, mr.Exists(idempotencyPrefix+"retry-me"))

	_, replay, err := f.messages.Create(context.Background(), customerMessage(f.order.ID.String(), "now with content"), "retry-me")
	require.NoError(t, err)
	assert.False(t, replay)
}

func TestListMessages_Cursor(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	id := f.order.ID.String()

	var ids []uint
	for _, content := range []string{"one", "two", "three"} {
		msg, _, err := f.messages.Create(ctx, customerMessage(id, content), "")
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	page, err := f.messages.List(ctx, MessageQuery{OrderID: id})
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, "one", page.Messages[0].Content)
	assert.Equal(t, ids[2], page.Cursor)
	assert.Equal(t, f.order.ID, page.Order.ID)

	page, err = f.messages.List(ctx, MessageQuery{OrderID: id, After: ids[0]})
	require.NoError(t, err)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "two", page.Messages[0].Content)

	page, err = f.messages.List(ctx, MessageQuery{OrderNumber: f.order.OrderNumber, After: ids[2]})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
	assert.Equal(t, ids[2], page.Cursor)
}

func TestListMessages_LogisticsWindow(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	id := f.order.ID.String()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	insert := func(content string, at time.Time) {
		require.NoError(t, f.db.Create(&models.Message{
			OrderID:     f.order.ID,
			OrderNumber: f.order.OrderNumber,
			SenderEmail: "studio@example.com",
			SenderName:  "Studio",
			SenderType:  models.SenderAdmin,
			Content:     content,
			MessageType: models.MessageText,
			CreatedAt:   at,
		}).Error)
	}
	insert("fabric sourced", base)
	insert("stitching done", base.Add(time.Hour))

	page, err := f.messages.List(ctx, MessageQuery{OrderID: id, Viewer: ViewerLogistics})
	require.NoError(t, err)
	assert.Empty(t, page.Messages)

	handoff := base.Add(2 * time.Hour)
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", f.order.ID).
		Updates(map[string]interface{}{
			"handoff_at":      handoff,
			"current_handler": workflow.HandlerLogistics,
			"status":          workflow.StatusReadyForDelivery,
		}).Error)
	insert("ready for pickup at gate 2", handoff.Add(time.Minute))

	page, err = f.messages.List(ctx, MessageQuery{OrderID: id, Viewer: ViewerLogistics})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "ready for pickup at gate 2", page.Messages[0].Content)

	page, err = f.messages.List(ctx, MessageQuery{OrderID: id, Viewer: ViewerAdmin})
	require.NoError(t, err)
	assert.Len(t, page.Messages, 3)

	_, err = f.messages.List(ctx, MessageQuery{OrderID: id, Viewer: "driver"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestListMessages_ReviewsAcrossOrders(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	other, err := f.orders.CreateCustomOrder(ctx, customInput(), nil)
	require.NoError(t, err)

	for _, order := range []*models.Order{f.order, other} {
		rating := 5
		review := customerMessage(order.ID.String(), "Loved it")
		review.MessageType = models.MessageReview
		review.Rating = &rating
		_, _, err := f.messages.Create(ctx, review, "")
		require.NoError(t, err)
	}
	_, _, err = f.messages.Create(ctx, customerMessage(other.ID.String(), "not a review"), "")
	require.NoError(t, err)

	page, err := f.messages.List(ctx, MessageQuery{MessageType: models.MessageReview})
	require.NoError(t, err)
	assert.Nil(t, page.Order)
	require.Len(t, page.Messages, 2)
	for _, m := range page.Messages {
		assert.Equal(t, models.MessageReview, m.MessageType)
	}

	_, err = f.messages.List(ctx, MessageQuery{})
	assert.ErrorIs(t, err, ErrNoMessageSelector)
}

func TestListMessages_ReviewsSkipDeletedOrders(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	other, err := f.orders.CreateCustomOrder(ctx, customInput(), nil)
	require.NoError(t, err)

	for _, order := range []*models.Order{f.order, other} {
		rating := 4
		review := customerMessage(order.ID.String(), "Great fit")
		review.MessageType = models.MessageReview
		review.Rating = &rating
		_, _, err := f.messages.Create(ctx, review, "")
		require.NoError(t, err)
	}
	require.NoError(t, f.orders.Delete(ctx, other.ID.String()))

	page, err := f.messages.List(ctx, MessageQuery{MessageType: models.MessageReview})
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, f.order.ID, page.Messages[0].OrderID)
	assert.Equal(t, page.Messages[0].ID, page.Cursor)
}

func TestMarkRead_Idempotent(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()

	msg, _, err := f.messages.Create(ctx, customerMessage(f.order.ID.String(), "hi"), "")
	require.NoError(t, err)

	modified, err := f.messages.MarkRead(ctx, []uint{msg.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), modified)

	modified, err = f.messages.MarkRead(ctx, []uint{msg.ID})
	require.NoError(t, err)
	assert.Zero(t, modified)

	var stored models.Message
	require.NoError(t, f.db.First(&stored, msg.ID).Error)
	assert.True(t, stored.IsRead)
	assert.NotNil(t, stored.ReadAt)

	_, err = f.messages.MarkRead(ctx, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMarkOrderRead_ByReader(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	id := f.order.ID.String()

	_, _, err := f.messages.Create(ctx, customerMessage(id, "question"), "")
	require.NoError(t, err)
	_, _, err = f.messages.Create(ctx, adminQuote(id, 500), "")
	require.NoError(t, err)

	modified, err := f.messages.MarkOrderRead(ctx, id, models.SenderAdmin)
	require.NoError(t, err)
	assert.Equal(t, int64(1), modified)

	modified, err = f.messages.MarkOrderRead(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, int64(1), modified)

	_, err = f.messages.MarkOrderRead(ctx, id, "courier")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteForOrder(t *testing.T) {
	f := newMessageFixture(t)
	ctx := context.Background()
	id := f.order.ID.String()

	for i := 0; i < 2; i++ {
		_, _, err := f.messages.Create(ctx, customerMessage(id, "hi"), "")
		require.NoError(t, err)
	}
	require.NoError(t, f.orders.Delete(ctx, id))

	deleted, err := f.messages.DeleteForOrder(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, err = f.messages.DeleteForOrder(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
