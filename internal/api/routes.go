package api

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/jobforge/jobforge/internal/auth"
	"github.com/jobforge/jobforge/internal/config"
	"github.com/jobforge/jobforge/internal/health"
	"github.com/jobforge/jobforge/internal/metrics"
	"github.com/jobforge/jobforge/internal/middleware"
)

// SetupRoutes wires the admin surface's route table onto router: a
// producer group requiring only bearer auth, and an admin-only
// subgroup nested beneath it.
func SetupRoutes(router *gin.Engine, h *Handler, healthHandler *health.Handler, authManager *auth.Manager, rdb *redis.Client, cfg *config.Config) {
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.RateLimiter(rdb, cfg))
	router.Use(metrics.HTTPMiddleware())

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "jobforge admin surface", "version": cfg.AppVersion})
	})

	router.GET("/health", healthHandler.GetHealth)
	router.GET("/health/live", healthHandler.GetLiveness)
	router.GET("/health/ready", healthHandler.GetReadiness)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("/api/v1")
	api.Use(middleware.BearerAuth(authManager))
	{
		api.POST("/jobs", h.PostSubmit)
		api.GET("/jobs", h.GetListForOwner)
		api.GET("/jobs/:id", h.GetInspect)
		api.POST("/jobs/:id/cancel", h.PostCancel)
		api.POST("/jobs/:id/retry", h.PostRetry)
		api.POST("/jobs/bulk-cancel", h.PostBulkCancel)
		api.POST("/schedules/delayed", h.PostScheduleDelayed)

		admin := api.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/queues", h.GetQueueList)
			admin.GET("/queues/:queue", h.GetQueueDetail)
			admin.GET("/queues/:queue/jobs", h.GetListForQueue)
			admin.POST("/queues/:queue/pause", h.PostPauseQueue)
			admin.POST("/queues/:queue/resume", h.PostResumeQueue)
			admin.POST("/queues/:queue/clean", h.PostCleanQueue)
			admin.PUT("/queues/:queue/config", h.PutQueueConfig)

			admin.GET("/schedules", h.GetListSchedules)
			admin.POST("/schedules", h.PostScheduleRepeating)
			admin.DELETE("/schedules/:name", h.DeleteSchedule)
			admin.POST("/schedules/:name/trigger", h.PostTriggerScheduled)

			admin.GET("/metrics", h.GetMetrics)
			admin.GET("/health-summary", h.GetHealthSummary)
		}
	}
}
