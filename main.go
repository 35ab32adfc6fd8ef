package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/costume-atelier/atelier-api/config"
	"github.com/costume-atelier/atelier-api/controllers"
	"github.com/costume-atelier/atelier-api/middleware"
	"github.com/costume-atelier/atelier-api/services"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	maxMultipartMemory = 32 << 20
	shutdownTimeout    = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("starting Costume Atelier API", "env", cfg.GoEnv)

	if err := config.ConnectDatabase(cfg); err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	db := config.GetDB()
	if err := config.Migrate(db); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("database migration completed")

	handlers, cleanup, err := buildHandlers(ctx, cfg, db)
	if err != nil {
		slog.Error("failed to initialise services", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	router, err := setupRouter(cfg, handlers)
	if err != nil {
		slog.Error("failed to set up router", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server is running", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// buildHandlers wires the services from configuration. Storage and Redis are
// optional; without them design uploads and idempotency keys are disabled.
func buildHandlers(ctx context.Context, cfg *config.Config, db *gorm.DB) (*controllers.Handlers, func(), error) {
	cleanup := func() {}

	var images services.ImageService
	if cfg.StorageEnabled() {
		s3Service, err := services.InitS3Service(ctx, cfg)
		if err != nil {
			return nil, cleanup, fmt.Errorf("init s3: %w", err)
		}
		images = services.InitImageService(s3Service)
	} else {
		slog.Warn("AWS_S3_BUCKET not set, design image uploads are disabled")
	}

	var idem services.IdempotencyStore
	if cfg.RedisAddr != "" {
		client, err := config.ConnectRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = func() {
			if err := client.Close(); err != nil {
				slog.Warn("redis close", "error", err)
			}
		}
		idem = services.NewRedisIdempotencyStore(client, services.IdempotencyTTL)
	} else {
		slog.Warn("REDIS_ADDR not set, Idempotency-Key headers are ignored")
	}

	orders := services.NewOrderService(db, images, cfg.VATRate)
	return &controllers.Handlers{
		Orders:   orders,
		Messages: services.NewMessageService(db, orders, idem, cfg.VATRate),
		Payments: services.NewPaymentService(db, cfg.PaystackBaseURL, cfg.PaystackSecretKey),
		Geocoder: services.NewGeocodingService(cfg.GeocoderBaseURL),
	}, cleanup, nil
}

// setupRouter registers every route on a new engine
func setupRouter(cfg *config.Config, h *controllers.Handlers) (*gin.Engine, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	admin, err := middleware.AdminOnly(cfg)
	if err != nil {
		return nil, err
	}
	guarded := func(handler gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, admin...), handler)
	}

	metrics := middleware.NewMetrics()

	router := gin.New()
	router.MaxMultipartMemory = maxMultipartMemory
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.RequestLogger(slog.Default()),
		metrics.Middleware(),
		cors.New(corsConfig(cfg)),
	)

	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/database/status", databaseStatus)
	}

	api := router.Group("/api")
	{
		api.POST("/custom-orders", h.CreateCustomOrder)
		api.GET("/custom-orders", guarded(h.ListCustomOrders)...)
		api.PATCH("/custom-orders", guarded(h.UpdateCustomOrder)...)
		api.DELETE("/custom-orders", guarded(h.DeleteCustomOrder)...)

		api.POST("/orders", h.CreateOrder)
		api.GET("/orders/unified", h.ListOrders)
		api.GET("/orders/unified/:id", h.GetOrder)
		api.PATCH("/orders/unified/:id", guarded(h.UpdateOrder)...)
		api.DELETE("/orders/unified/:id", guarded(h.DeleteOrder)...)
		api.GET("/orders/unified/:id/designs/:position", h.GetDesignImage)

		api.GET("/messages", h.ListMessages)
		api.POST("/messages", h.CreateMessage)
		api.PUT("/messages", h.MarkMessagesRead)
		api.PATCH("/messages", h.MarkOrderMessagesRead)
		api.DELETE("/messages", guarded(h.DeleteOrderMessages)...)

		api.GET("/verify-payment", h.VerifyPayment)

		api.GET("/address/reverse", h.ReverseGeocode)
		api.POST("/address/validate", h.ValidateAddress)
	}

	return router, nil
}

// corsConfig allows the storefront and admin origins, or any origin when none are configured
func corsConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", controllers.HeaderIdempotencyKey, middleware.HeaderRequestID},
		ExposeHeaders: []string{middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	} else {
		c.AllowAllOrigins = true
	}
	return c
}

// healthCheck handles the health check endpoint
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Costume Atelier API is running",
	})
}

// databaseStatus checks database connectivity and returns table information
func databaseStatus(c *gin.Context) {
	db := config.GetDB()
	if db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Database is not configured",
			},
		})
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_ERROR",
				"message": "Failed to get database instance",
			},
		})
		return
	}

	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_CONNECTION_ERROR",
				"message": "Database connection failed",
			},
		})
		return
	}

	tables, err := db.WithContext(c.Request.Context()).Migrator().GetTables()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "DATABASE_QUERY_ERROR",
				"message": "Failed to query tables",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Database connected",
		"tables":  tables,
	})
}
