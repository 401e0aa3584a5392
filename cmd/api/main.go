package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quillnotes/quill/internal/ai"
	"github.com/quillnotes/quill/internal/billing"
	"github.com/quillnotes/quill/internal/cache"
	"github.com/quillnotes/quill/internal/config"
	"github.com/quillnotes/quill/internal/database"
	"github.com/quillnotes/quill/internal/logging"
	"github.com/quillnotes/quill/internal/metrics"
	"github.com/quillnotes/quill/internal/middleware"
	"github.com/quillnotes/quill/internal/quota"
	"github.com/quillnotes/quill/internal/tracing"
	"github.com/quillnotes/quill/pkg/models"
)

// usageService is the quota surface the handlers depend on
type usageService interface {
	GetMonthlyUsage(ctx context.Context, userID string) (models.MonthlyUsage, error)
	CanUse(ctx context.Context, userID string) (bool, error)
	RecordUsage(ctx context.Context, userID string, tokens int64, model string, feature models.Feature) (bool, error)
}

type billingService interface {
	HandleEvent(ctx context.Context, eventType, eventID, userID, customerID string) error
}

type eventsReader interface {
	GetUsageEventsByUser(ctx context.Context, userID string, limit int) ([]*models.UsageEvent, error)
}

type checkoutService interface {
	CreateSession(ctx context.Context, userID string) (string, error)
}

type healthChecker interface {
	Health(ctx context.Context) error
}

type API struct {
	db       healthChecker
	usage    usageService
	events   eventsReader
	provider ai.Provider
	billing  billingService
	checkout checkoutService
	cfg      *config.Config
	logger   *logging.Logger
}

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	// Initialize JWT secret from config
	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	// Initialize tracing
	if cfg.Tracing.Enabled {
		_, closer, err := tracing.InitTracer(cfg.Tracing)
		if err != nil {
			logger.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer closer.Close()
	}

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Redis backs webhook dedup and shared rate limits; the service stays
	// up without it.
	var dedup billing.EventDeduper
	var windowLimiter middleware.WindowLimiter
	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warnf("Redis unavailable, event dedup and shared rate limits disabled: %v", err)
	} else {
		defer redisCache.Close()
		dedup = redisCache
		windowLimiter = redisCache
	}

	// Wire the quota and billing services
	limits := quota.NewPlanLimits(cfg.Plans)
	resolver := quota.NewTierResolver(repo, logger)
	tracker := quota.NewTracker(repo, resolver, limits, logger)
	processor := billing.NewProcessor(repo, repo, dedup, limits, logger)

	checkout, err := billing.NewCheckout(repo, cfg.Billing)
	if err != nil {
		logger.Warnf("Checkout disabled: %v", err)
		checkout = nil
	}

	api := &API{
		db:       repo,
		usage:    tracker,
		events:   repo,
		provider: ai.NewClient(cfg.AI),
		billing:  processor,
		cfg:      cfg,
		logger:   logger,
	}
	if checkout != nil {
		api.checkout = checkout
	}

	// Start metrics server
	metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()

	// Setup router
	router := setupRouter(api, windowLimiter)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Errorf("Metrics server shutdown failed: %v", err)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, windowLimiter middleware.WindowLimiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(api.logger))
	if api.cfg.Tracing.Enabled {
		router.Use(tracing.Middleware())
	}

	// Health check
	router.GET("/health", api.healthCheck)

	rl := middleware.NewRateLimiter(api.cfg.Server.RateLimitRPS, api.cfg.Server.RateLimitBurst)

	v1 := router.Group("/api/v1")
	{
		// Stripe calls this; it authenticates via signature, not JWT
		v1.POST("/webhooks/stripe", api.stripeWebhook)

		authed := v1.Group("")
		authed.Use(middleware.JWTAuth())
		authed.Use(middleware.RateLimit(rl))
		if windowLimiter != nil {
			authed.Use(middleware.SharedRateLimit(windowLimiter, 60, time.Minute))
		}

		authed.GET("/user/usage", api.getUsage)
		authed.GET("/user/usage/events", api.getUsageEvents)
		authed.POST("/billing/checkout", api.createCheckout)

		aiRoutes := authed.Group("/ai")
		aiRoutes.Use(middleware.QuotaGate(api.usage))
		{
			aiRoutes.POST("/generate", api.generateNote)
			aiRoutes.POST("/enhance", api.enhanceText)
			aiRoutes.POST("/suggest", api.suggestContent)
		}
	}

	return router
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.db.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}
