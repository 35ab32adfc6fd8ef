package controllers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/costume-atelier/atelier-api/models"
	"github.com/costume-atelier/atelier-api/services"
	"github.com/costume-atelier/atelier-api/testutil"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testEnv struct {
	db       *gorm.DB
	images   *services.MockImageService
	handlers *Handlers
	router   *gin.Engine
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	images := services.NewMockImageService()
	orders := services.NewOrderService(db, images, 0.075)
	h := &Handlers{
		Orders:   orders,
		Messages: services.NewMessageService(db, orders, nil, 0.075),
		Payments: services.NewPaymentService(db, "http://127.0.0.1:0", "sk_test"),
		Geocoder: services.NewGeocodingService("http://127.0.0.1:0"),
	}
	return &testEnv{db: db, images: images, handlers: h, router: setupTestRouter(h)}
}

func setupTestRouter(h *Handlers) *gin.Engine {
	router := gin.New()
	api := router.Group("/api")
	api.POST("/custom-orders", h.CreateCustomOrder)
	api.GET("/custom-orders", h.ListCustomOrders)
	api.PATCH("/custom-orders", h.UpdateCustomOrder)
	api.DELETE("/custom-orders", h.DeleteCustomOrder)
	api.POST("/orders", h.CreateOrder)
	api.GET("/orders/unified", h.ListOrders)
	api.GET("/orders/unified/:id", h.GetOrder)
	api.PATCH("/orders/unified/:id", h.UpdateOrder)
	api.DELETE("/orders/unified/:id", h.DeleteOrder)
	api.GET("/orders/unified/:id/designs/:position", h.GetDesignImage)
	api.GET("/messages", h.ListMessages)
	api.POST("/messages", h.CreateMessage)
	api.PUT("/messages", h.MarkMessagesRead)
	api.PATCH("/messages", h.MarkOrderMessagesRead)
	api.DELETE("/messages", h.DeleteOrderMessages)
	api.GET("/verify-payment", h.VerifyPayment)
	api.GET("/address/reverse", h.ReverseGeocode)
	api.POST("/address/validate", h.ValidateAddress)
	return router
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewBuffer(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var response map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	}
	return w, response
}

func (e *testEnv) createCustomOrder(t *testing.T) *models.Order {
	t.Helper()
	order, err := e.handlers.Orders.CreateCustomOrder(t.Context(), services.CustomOrderInput{
		FullName:    "Ada Obi",
		Email:       "ada@example.com",
		Phone:       "+2348000000000",
		City:        "Lagos",
		Description: "Masquerade gown with gold trim",
		Quantity:    5,
	}, nil)
	require.NoError(t, err)
	return order
}

func errorCode(t *testing.T, response map[string]interface{}) string {
	t.Helper()
	require.Equal(t, false, response["success"])
	errBody, ok := response["error"].(map[string]interface{})
	require.True(t, ok, "error envelope missing")
	return errBody["code"].(string)
}
