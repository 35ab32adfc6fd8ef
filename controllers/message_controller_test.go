package controllers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/costume-atelier/atelier-api/models"
	"github.com/costume-atelier/atelier-api/services"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quoteBody(orderID string, price float64, final bool) map[string]interface{} {
	return map[string]interface{}{
		"orderId":      orderID,
		"senderEmail":  "studio@example.com",
		"senderName":   "Studio",
		"senderType":   "admin",
		"content":      "Here is our quote",
		"messageType":  "quote",
		"quotedPrice":  price,
		"isFinalPrice": final,
	}
}

func textBody(orderID, senderType, content string) map[string]interface{} {
	return map[string]interface{}{
		"orderId":     orderID,
		"senderEmail": "ada@example.com",
		"senderName":  "Ada Obi",
		"senderType":  senderType,
		"content":     content,
	}
}

func TestCreateMessage_QuoteUpdatesOrder(t *testing.T) {
	env := setupTestEnv(t)
	order := env.createCustomOrder(t)

	w, response := env.do(t, http.MethodPost, "/api/messages", quoteBody(order.ID.String(), 10000, false), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	msg := response["message"].(map[string]interface{})
	assert.Equal(t, "quote", msg["messageType"])
	assert.Equal(t, 51062.5, msg["quotedTotal"])

	w, response = env.do(t, http.MethodGet, "/api/orders/unified/"+order.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	updated := response["order"].(map[string]interface{})
	assert.Equal(t, 51062.5, updated["quotedPrice"])
	assert.Equal(t, float64(10000), updated["unitPrice"])
	assert.Equal(t, false, updated["priceFinal"])
}

func TestCreateMessage_FinalPriceBlocksNegotiation(t *testing.T) {
	env := setupTestEnv(t)
	order := env.createCustomOrder(t)

	w, _ := env.do(t, http.MethodPost, "/api/messages", quoteBody(order.ID.String(), 10000, true), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	negotiation := textBody(order.ID.String(), "customer", "Could you do 8000?")
	negotiation["messageType"] = "negotiation"
	negotiation["quotedPrice"] = 8000

	w, response := env.do(t, http.MethodPost, "/api/messages", negotiation, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PRICE_FINALIZED", errorCode(t, response))

	w, _ = env.do(t, http.MethodPost, "/api/messages", textBody(order.ID.String(), "customer", "Thanks!"), nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCreateMessage_Errors(t *testing.T) {
	env := setupTestEnv(t)
	order := env.createCustomOrder(t)

	tests := []struct {
		name           string
		body           interface{}
		expectedStatus int
		expectedError  string
	}{
		{"malformed JSON", "{", http.StatusBadRequest, "VALIDATION_ERROR"},
		{"no order selector", textBody("", "customer", "hi"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"invalid order id", textBody("abc", "customer", "hi"), http.StatusBadRequest, "INVALID_ORDER_ID"},
		{"unknown sender type", textBody(order.ID.String(), "robot", "hi"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"customer quote", func() map[string]interface{} {
			b := quoteBody(order.ID.String(), 100, false)
			b["senderType"] = "customer"
			return b
		}(), http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, response := env.do(t, http.MethodPost, "/api/messages", tt.body, nil)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			assert.Equal(t, tt.expectedError, errorCode(t, response))
		})
	}
}

func TestCreateMessage_IdempotencyKeyReplays(t *testing.T) {
	env := setupTestEnv(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	env.handlers.Messages = services.NewMessageService(env.db, env.handlers.Orders, services.NewRedisIdempotencyStore(client, services.IdempotencyTTL), 0.075)
	env.router = setupTestRouter(env.handlers)

	order := env.createCustomOrder(t)
	headers := map[string]string{HeaderIdempotencyKey: "retry-1"}

	w, first := env.do(t, http.MethodPost, "/api/messages", quoteBody(order.ID.String(), 10000, false), headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, second := env.do(t, http.MethodPost, "/api/messages", quoteBody(order.ID.String(), 10000, false), headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, first["message"].(map[string]interface{})["id"], second["message"].(map[string]interface{})["id"])

	var count int64
	require.NoError(t, env.db.Model(&models.Message{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestListMessages_Cursor(t *testing.T) {
	env := setupTestEnv(t)
	order := env.createCustomOrder(t)
	for i := 0; i < 3; i++ {
		w, _ := env.do(t, http.MethodPost, "/api/messages", textBody(order.ID.String(), "customer", fmt.Sprintf("message %d", i)), nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, response := env.do(t, http.MethodGet, "/api/messages?orderId="+order.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	messages := response["messages"].([]interface{})
	require.Len(t, messages, 3)
	assert.Equal(t, order.OrderNumber, response["order"].(map[string]interface{})["orderNumber"])
	cursor := response["cursor"].(float64)
	assert.Equal(t, messages[2].(map[string]interface{})["id"], cursor)

	firstID := messages[0].(map[string]interface{})["id"].(float64)
	w, response = env.do(t, http.MethodGet, fmt.Sprintf("/api/messages?orderNumber=%s&after=%d", order.OrderNumber, int(firstID)), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, response["messages"], 2)

	w, response = env.do(t, http.MethodGet, fmt.Sprintf("/api/messages?orderId=%s&after=%d", order.ID, int(cursor)), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, response["messages"])
	assert.Equal(t, cursor, response["cursor"])

	w, response = env.do(t, http.MethodGet, "/api/messages?orderId="+order.ID.String()+"&after=-1", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, response))
}

func TestListMessages_LogisticsSeesNothingBeforeHandoff(t *testing.T) {
	env := setupTestEnv(t)
	order := env.createCustomOrder(t)
	w, _ := env.do(t, http.MethodPost, "/api/messages", textBody(order.ID.String(), "customer", "hello"), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, response := env.do(t, http.MethodGet, "/api/messages?viewer=logistics&orderId="+order.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, response["messages"])

	w, response = env.do(t, http.MethodGet, "/api/messages?viewer=accounts&orderId="+order.ID.String(), nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, response))
}

func TestMarkMessagesRead(t *testing.T) {
	env := setupTestEnv(t)
	order := env.createCustomOrder(t)
	w, created := env.do(t, http.MethodPost, "/api/messages", textBody(order.ID.String(), "customer", "hello"), nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := created["message"].(map[string]interface{})["id"]

	w, response := env.do(t, http.MethodPut, "/api/messages", map[string]interface{}{"messageIds": []interface{}{id}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), response["modifiedCount"])

	w, response = env.do(t, http.MethodPut, "/api/messages", map[string]interface{}{"messageIds": []interface{}{id}}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), response["modifiedCount"])

	w, response = env.do(t, http.MethodPut, "/api/messages", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, response))
}

func TestMarkOrderMessagesRead(t *testing.T) {
	env := setupTestEnv(t)
	order := env.createCustomOrder(t)
	for _, sender := range []string{"customer", "customer", "admin"} {
		w, _ := env.do(t, http.MethodPost, "/api/messages", textBody(order.ID.String(), sender, "hello"), nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, response := env.do(t, http.MethodPatch, "/api/messages?readerType=admin&orderId="+order.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), response["modifiedCount"])

	w, response = env.do(t, http.MethodPatch, "/api/messages?readerType=admin", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", errorCode(t, response))
}

func TestDeleteOrderMessages(t *testing.T) {
	env := setupTestEnv(t)
	order := env.createCustomOrder(t)
	for i := 0; i < 2; i++ {
		w, _ := env.do(t, http.MethodPost, "/api/messages", textBody(order.ID.String(), "customer", "hello"), nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, response := env.do(t, http.MethodDelete, "/api/messages?orderId="+order.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), response["deletedCount"])

	w, response = env.do(t, http.MethodDelete, "/api/messages?orderId=not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ORDER_ID", errorCode(t, response))
}
