package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/zapgate/campaign-service/environments"
	"github.com/zapgate/campaign-service/handlers"
	"github.com/zapgate/campaign-service/internal/queue"
	"github.com/zapgate/campaign-service/internal/reconciler"
	"github.com/zapgate/campaign-service/internal/repository"
	"github.com/zapgate/campaign-service/internal/scheduler"
	"github.com/zapgate/campaign-service/internal/service"
	"github.com/zapgate/campaign-service/pkg/database"
	"github.com/zapgate/campaign-service/pkg/gateway"
	"github.com/zapgate/campaign-service/pkg/logger"
	"github.com/zapgate/campaign-service/pkg/redis"
	"github.com/zapgate/campaign-service/pkg/validator"
	"github.com/zapgate/campaign-service/routes"

	_ "github.com/zapgate/campaign-service/docs" // swagger docs
)

// dispatchRunner is what the scheduler and the manual dispatch endpoint
// need; the inline dispatch service and the queue runner both provide it.
type dispatchRunner interface {
	RunNext(ctx context.Context) (bool, error)
	RunCampaignByID(ctx context.Context, id int64) error
}

// @title Campaign Service API
// @version 1.0
// @description Bulk outbound messaging campaigns over a chat gateway
// @termsOfService http://swagger.io/terms/

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @schemes http https
func main() {
	logger.Init()

	// Load config
	cfg := environments.Load()

	// Hard-fail if required secrets are missing
	if cfg.Auth.APIKey == "" {
		logger.Fatalf("API_KEY is required but not set")
	}
	if cfg.Gateway.APIKey == "" {
		logger.Fatalf("GATEWAY_API_KEY is required but not set")
	}

	logger.Infof("Starting Campaign Service...")

	// Init DB
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed data
	if os.Getenv("SEED_DATA") == "true" {
		if err := database.SeedTestData(db); err != nil {
			logger.Warnf("Failed to seed test data: %v", err)
		}
	}

	// Init redis; the message ref cache is optional, reconciliation falls
	// back to the DB index without it.
	var redisClient *redis.Client
	redisClient, err = redis.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warnf("Redis not available, message ref caching disabled: %v", err)
		redisClient = nil
	}

	// Initialize gateway client
	gatewayClient := gateway.NewClient(cfg.Gateway)
	logger.Infof("Gateway configured: %s", cfg.Gateway.BaseURL)

	// Initialize repositories
	campaignRepo := repository.NewCampaignRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	instanceRepo := repository.NewInstanceRepository(db)
	logRepo := repository.NewSendingLogRepository(db)

	// Reclaim rows stranded in queued by an unclean shutdown so campaigns
	// can drain again.
	if released, err := recipientRepo.ReleaseAllQueued(context.Background()); err != nil {
		logger.Warnf("Failed to release stale queued recipients: %v", err)
	} else if released > 0 {
		logger.Infof("Released %d recipient(s) left queued by a previous run", released)
	}

	// Initialize services
	selector := service.NewInstanceSelector(instanceRepo)

	var dispatchSvc *service.DispatchService
	var eventReconciler *reconciler.Reconciler
	if redisClient != nil {
		dispatchSvc = service.NewDispatchService(campaignRepo, recipientRepo, logRepo, selector, gatewayClient, redisClient, cfg.Dispatch)
		eventReconciler = reconciler.NewReconciler(recipientRepo, campaignRepo, logRepo, redisClient)
	} else {
		dispatchSvc = service.NewDispatchService(campaignRepo, recipientRepo, logRepo, selector, gatewayClient, nil, cfg.Dispatch)
		eventReconciler = reconciler.NewReconciler(recipientRepo, campaignRepo, logRepo, nil)
	}

	campaignSvc := service.NewCampaignService(campaignRepo, recipientRepo, logRepo)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Choose the execution mode: inline runs sends inside the scheduler
	// pass, queue hands them to the worker pool.
	var runner dispatchRunner = dispatchSvc
	var workQueue *queue.Dispatcher
	if cfg.Dispatch.Mode == environments.DispatchModeQueue {
		workQueue = queue.NewDispatcher(dispatchSvc, recipientRepo, campaignRepo, cfg.Dispatch)
		workQueue.Start(ctx)
		runner = queue.NewRunner(dispatchSvc, workQueue)
		logger.Infof("Dispatch mode: queue (%d workers)", cfg.Dispatch.WorkerCount)
	} else {
		logger.Infof("Dispatch mode: inline")
	}

	// Initialize scheduler
	sched := scheduler.NewScheduler(runner, cfg.Scheduler.TickInterval)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, redisClient)
	campaignHandler := handlers.NewCampaignHandler(campaignSvc, runner, ctx)
	instanceHandler := handlers.NewInstanceHandler(instanceRepo)
	schedulerHandler := handlers.NewSchedulerHandler(sched, ctx)
	webhookHandler := handlers.NewWebhookHandler(eventReconciler, cfg.Auth.WebhookSecret)

	// Auto-start scheduler
	if cfg.Scheduler.AutoStart {
		logger.Infof("Auto-starting scheduler...")
		if err := sched.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start scheduler: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"x-api-key",
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, healthHandler, campaignHandler, instanceHandler, schedulerHandler, webhookHandler, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Stop scheduler first so no new campaigns enter the pipeline
	if sched.IsRunning() {
		logger.Infof("Stopping scheduler...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- sched.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping scheduler: %v", err)
			} else {
				logger.Infof("Scheduler stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Scheduler stop timeout, forcing shutdown")
		}
	}

	// Drain the work queue while its context is still alive
	if workQueue != nil {
		logger.Infof("Draining work queue...")
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := workQueue.Stop(drainCtx); err != nil {
			logger.Errorf("Error draining work queue: %v", err)
		}
		drainCancel()
	}

	// Cancel context to signal remaining goroutines to stop
	cancel()

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	// Close database connection
	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		logger.Infof("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")
}
