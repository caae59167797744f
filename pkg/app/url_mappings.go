package app

import (
	"context"
	"time"

	"github.com/osvaldoandrade/reportq/internal/controllers"
	"github.com/osvaldoandrade/reportq/internal/middleware"
	"github.com/osvaldoandrade/reportq/internal/providers"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	app.Engine.GET("/healthz", controllers.NewHealthController(map[string]controllers.HealthCheck{
		"redis": func(ctx context.Context) error { return providers.PingRedis(ctx, app.Redis, time.Second) },
		"store": app.Store.Health,
	}).Handle)

	v1 := app.Engine.Group("/v1/reportq")
	producer := v1.Group("", middleware.AuthMiddleware(app.ProducerValidator))
	{
		submit := middleware.RateLimitSubmissions(app.RateLimiter, "submit", app.Config.SubmissionRateLimit)
		producer.POST("/reports", submit, controllers.NewSubmitReportController(app.Submissions).Handle)
		producer.POST("/exports", submit, controllers.NewSubmitExportController(app.Submissions).Handle)
		producer.GET("/tasks/:id", controllers.NewGetTaskController(app.TaskSvc).Handle)
	}

	adminValidator := app.AdminValidator
	if adminValidator == nil {
		adminValidator = app.ProducerValidator
	}
	admin := v1.Group("/admin", middleware.AuthMiddleware(adminValidator), middleware.RequireAdmin())
	{
		admin.GET("/queues", controllers.NewQueuesAdminController(app.TaskSvc).Handle)
		admin.GET("/queues/stats", controllers.NewQueueStatsController(app.TaskSvc).Handle)

		reports := controllers.NewReportsAdminController(app.Store)
		admin.GET("/reports", reports.List)
		admin.DELETE("/reports", reports.DeleteAll)
		admin.DELETE("/reports/:id", reports.Delete)

		admin.POST("/tasks/cleanup", controllers.NewCleanupController(app.Retention).Handle)
		admin.GET("/steps/:kind", controllers.NewStepsController(app.Catalog).Handle)
	}
}
