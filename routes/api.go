package routes

import (
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/zapgate/campaign-service/environments"
	"github.com/zapgate/campaign-service/handlers"
	"github.com/zapgate/campaign-service/internal/middlewares"
)

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	campaignHandler *handlers.CampaignHandler,
	instanceHandler *handlers.InstanceHandler,
	schedulerHandler *handlers.SchedulerHandler,
	webhookHandler *handlers.WebhookHandler,
	cfg *environments.Config,
) {
	e.GET("/health", healthHandler.Health)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// Gateway callbacks authenticate with the shared webhook secret, not
	// the management API key.
	e.POST("/webhooks/gateway", webhookHandler.HandleGatewayEvent)

	// API v1 base group
	v1 := e.Group("/api/v1", middlewares.APIKeyAuth(cfg.Auth.APIKey))

	campaigns := v1.Group("/campaigns")
	campaigns.GET("", campaignHandler.ListCampaigns)
	campaigns.POST("", campaignHandler.CreateCampaign)
	campaigns.GET("/:id", campaignHandler.GetCampaign)
	campaigns.GET("/:id/logs", campaignHandler.GetCampaignLogs)
	campaigns.POST("/:id/start", campaignHandler.StartCampaign)
	campaigns.POST("/:id/dispatch", campaignHandler.DispatchCampaign)
	campaigns.POST("/:id/pause", campaignHandler.PauseCampaign)
	campaigns.POST("/:id/cancel", campaignHandler.CancelCampaign)

	instances := v1.Group("/instances")
	instances.GET("", instanceHandler.ListInstances)
	instances.POST("", instanceHandler.CreateInstance)
	instances.GET("/:id", instanceHandler.GetInstance)
	instances.PATCH("/:id/status", instanceHandler.UpdateInstanceStatus)

	schedulerGroup := v1.Group("/scheduler")
	schedulerGroup.POST("/start", schedulerHandler.StartScheduler)
	schedulerGroup.POST("/stop", schedulerHandler.StopScheduler)
	schedulerGroup.GET("/status", schedulerHandler.GetSchedulerStatus)
}
